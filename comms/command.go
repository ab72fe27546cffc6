// Package comms implements the ROV's command and telemetry link: a TCP
// server speaking newline-delimited JSON with a single trusted client.
package comms

import "github.com/sealab-robotics/rovd/sensors"

// The command names understood by the control loop.
const (
	CommandSetThrust     = "set_thrust"
	CommandEmergencyStop = "emergency_stop"
	CommandShutdown      = "shutdown_pi"
	CommandRestart       = "restart_pi"
)

// Command is one inbound NDJSON command line.
type Command struct {
	Command string             `json:"command"`
	Motors  map[string]float64 `json:"motors,omitempty"`
}

// Telemetry is one outbound NDJSON telemetry line, merged per control cycle.
// Voltage is null until the first successful battery read. Actual is present
// only on cycles that applied a set_thrust command.
type Telemetry struct {
	Voltage      *float64                      `json:"voltage"`
	VoltageMode  string                        `json:"voltage_mode"`
	PressurePSI  float64                       `json:"pressure_psi"`
	DepthVoltage float64                       `json:"depth_voltage"`
	MotorState   map[string]float64            `json:"motor_state"`
	Actual       map[string]float64            `json:"actual,omitempty"`
	Env          map[string]sensors.EnvReading `json:"env"`
	Log          string                        `json:"log,omitempty"`
}

// LogNotice is a standalone human-readable event line, e.g. a shutdown
// acknowledgement.
type LogNotice struct {
	Log string `json:"log"`
}
