// Package config loads and validates the rovd configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// MotorKind discriminates the two motor output paths.
type MotorKind string

// The supported motor kinds.
const (
	MotorKindBrushed   MotorKind = "brushed"
	MotorKindBrushless MotorKind = "brushless"
)

// MotorConfig describes one motor output. Brushed motors address a channel on
// the PWM hat; brushless motors address a GPIO line carrying a servo signal.
type MotorConfig struct {
	Kind    MotorKind `json:"type"`
	Channel *int      `json:"channel,omitempty"`
	GPIO    *uint32   `json:"gpio,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *MotorConfig) Validate(path string) error {
	switch conf.Kind {
	case MotorKindBrushed:
		if conf.Channel == nil {
			return goutils.NewConfigValidationFieldRequiredError(path, "channel")
		}
	case MotorKindBrushless:
		if conf.GPIO == nil {
			return goutils.NewConfigValidationFieldRequiredError(path, "gpio")
		}
	default:
		return goutils.NewConfigValidationError(path,
			errors.Errorf("unknown motor type %q", conf.Kind))
	}
	return nil
}

// DepthSensorConfig describes the pressure transducer on the ADC.
type DepthSensorConfig struct {
	ADCChannel       int        `json:"adc_channel"`
	VoltageRange     [2]float64 `json:"voltage_range"`
	PressureRangePSI [2]float64 `json:"pressure_range_psi"`
	AtmosphericPSI   float64    `json:"atmospheric_psi"`
}

// Validate ensures all parts of the config are valid.
func (conf *DepthSensorConfig) Validate(path string) error {
	if conf.VoltageRange[1] <= conf.VoltageRange[0] {
		return goutils.NewConfigValidationError(path,
			errors.New("voltage_range must be [min, max] with min < max"))
	}
	return nil
}

// DHTSensorConfig describes one temperature/humidity sensor.
type DHTSensorConfig struct {
	GPIO int    `json:"gpio"`
	Type string `json:"type"` // "DHT11" or "DHT22"
}

// Validate ensures all parts of the config are valid.
func (conf *DHTSensorConfig) Validate(path string) error {
	switch conf.Type {
	case "", "DHT11", "DHT22":
		return nil
	default:
		return goutils.NewConfigValidationError(path,
			errors.Errorf("unknown dht sensor type %q", conf.Type))
	}
}

// EscPowerConfig describes the outputs gating ESC power: PWM hat channels
// driving MOSFET gates and/or GPIO lines driving solid-state relays.
type EscPowerConfig struct {
	PWMChannels []int    `json:"pwm_channels,omitempty"`
	GPIOPins    []uint32 `json:"gpio_pins,omitempty"`
}

// FailsafeConfig holds the voltage failsafe debounce parameters, in the units
// the monitor consumes.
type FailsafeConfig struct {
	LimitedCount    int     `json:"limited_count"`
	LimitedDelaySec float64 `json:"limited_delay_sec"`

	CriticalCount    int     `json:"critical_count"`
	CriticalDelaySec float64 `json:"critical_delay_sec"`
	VerifyDelaySec   float64 `json:"verify_delay_sec"`

	// Whether motor commands resume automatically when a verified critical
	// episode turns out to have recovered. Off by default: the operator
	// resumes through the normal command flow.
	ResumeAfterRecovery bool `json:"resume_after_recovery"`
}

// Config is the full rovd configuration.
type Config struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	TrustedClients []string `json:"trusted_clients"`

	I2CBus   int `json:"i2c_bus"`
	GPIOChip int `json:"gpio_chip"`

	MotorChannels        map[string]MotorConfig `json:"motor_channels"`
	MotorSmoothingFactor float64                `json:"motor_smoothing_factor"`
	PWMMin               int                    `json:"pwm_min"`
	PWMNeutral           int                    `json:"pwm_neutral"`
	PWMMax               int                    `json:"pwm_max"`
	PWMFreq              uint                   `json:"pwm_freq"`

	VoltageWarning      float64 `json:"voltage_warning"`
	VoltageLimited      float64 `json:"voltage_limited"`
	VoltageCritical     float64 `json:"voltage_critical"`
	VoltageADCChannel   int     `json:"voltage_adc_channel"`
	VoltageDividerRatio float64 `json:"voltage_divider_ratio"`
	VoltagePollSec      float64 `json:"voltage_poll_sec"`

	Failsafe FailsafeConfig `json:"failsafe"`

	DepthSensor        DepthSensorConfig          `json:"depth_sensor"`
	DHTSensors         map[string]DHTSensorConfig `json:"dht_sensor_map"`
	DHTPollIntervalSec float64                    `json:"dht_poll_interval_sec"`

	EscPower EscPowerConfig `json:"esc_power"`

	CommandTimeoutSec  float64 `json:"command_timeout_sec"`
	TelemetryPeriodSec float64 `json:"telemetry_period_sec"`

	LogFilePath string `json:"log_file_path"`
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// VoltagePollInterval returns the voltage poll interval as a duration.
func (conf *Config) VoltagePollInterval() time.Duration {
	return secondsToDuration(conf.VoltagePollSec)
}

// DHTPollInterval returns the environment poll interval as a duration.
func (conf *Config) DHTPollInterval() time.Duration {
	return secondsToDuration(conf.DHTPollIntervalSec)
}

// CommandTimeout returns the command-timeout failsafe window as a duration.
func (conf *Config) CommandTimeout() time.Duration {
	return secondsToDuration(conf.CommandTimeoutSec)
}

// TelemetryPeriod returns the minimum time between telemetry sends.
func (conf *Config) TelemetryPeriod() time.Duration {
	return secondsToDuration(conf.TelemetryPeriodSec)
}

// applyDefaults fills in values the file may omit.
func (conf *Config) applyDefaults() {
	if conf.Host == "" {
		conf.Host = "0.0.0.0"
	}
	if conf.Port == 0 {
		conf.Port = 9000
	}
	if conf.MotorSmoothingFactor == 0 {
		conf.MotorSmoothingFactor = 0.8
	}
	if conf.PWMMin == 0 {
		conf.PWMMin = 1100
	}
	if conf.PWMNeutral == 0 {
		conf.PWMNeutral = 1500
	}
	if conf.PWMMax == 0 {
		conf.PWMMax = 1900
	}
	if conf.PWMFreq == 0 {
		conf.PWMFreq = 50
	}
	if conf.VoltageDividerRatio == 0 {
		conf.VoltageDividerRatio = 5.0
	}
	if conf.VoltagePollSec == 0 {
		conf.VoltagePollSec = 1.0
	}
	if conf.DHTPollIntervalSec == 0 {
		conf.DHTPollIntervalSec = 10.0
	}
	if conf.CommandTimeoutSec == 0 {
		conf.CommandTimeoutSec = 0.5
	}
	if conf.TelemetryPeriodSec == 0 {
		conf.TelemetryPeriodSec = 0.1
	}
	if conf.Failsafe.LimitedCount == 0 {
		conf.Failsafe.LimitedCount = 3
	}
	if conf.Failsafe.LimitedDelaySec == 0 {
		conf.Failsafe.LimitedDelaySec = 2.0
	}
	if conf.Failsafe.CriticalCount == 0 {
		conf.Failsafe.CriticalCount = 3
	}
	if conf.Failsafe.CriticalDelaySec == 0 {
		conf.Failsafe.CriticalDelaySec = 2.0
	}
	if conf.Failsafe.VerifyDelaySec == 0 {
		conf.Failsafe.VerifyDelaySec = 5.0
	}
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if len(conf.TrustedClients) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "trusted_clients")
	}
	if len(conf.MotorChannels) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "motor_channels")
	}
	if conf.MotorSmoothingFactor <= 0 || conf.MotorSmoothingFactor > 1 {
		return goutils.NewConfigValidationError(path,
			errors.New("motor_smoothing_factor must be in (0, 1]"))
	}
	if !(conf.PWMMin < conf.PWMNeutral && conf.PWMNeutral < conf.PWMMax) {
		return goutils.NewConfigValidationError(path,
			errors.New("pwm pulse widths must satisfy min < neutral < max"))
	}
	if conf.VoltageWarning == 0 || conf.VoltageLimited == 0 || conf.VoltageCritical == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "voltage thresholds")
	}
	for name, motor := range conf.MotorChannels {
		motor := motor
		if err := motor.Validate(fmt.Sprintf("%s.motor_channels.%s", path, name)); err != nil {
			return err
		}
	}
	if err := conf.DepthSensor.Validate(path + ".depth_sensor"); err != nil {
		return err
	}
	for name, sensor := range conf.DHTSensors {
		sensor := sensor
		if err := sensor.Validate(fmt.Sprintf("%s.dht_sensor_map.%s", path, name)); err != nil {
			return err
		}
	}
	return nil
}

// Read loads, defaults, and validates the config file at the given path.
func Read(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	var conf Config
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	conf.applyDefaults()
	if err := conf.Validate(""); err != nil {
		return nil, err
	}
	return &conf, nil
}
