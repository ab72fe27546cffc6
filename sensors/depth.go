// Package sensors implements the ROV's monitoring stack: battery voltage
// failsafes, the depth transducer, and the enclosure environment sensors.
package sensors

import (
	"context"
	"sync"

	"github.com/sealab-robotics/rovd/board"
	"github.com/sealab-robotics/rovd/config"
	"github.com/sealab-robotics/rovd/logging"
)

// DepthMonitor reads analog voltage from the pressure transducer and converts
// it to pressure. Raw PSI is the contract; depth conversion (fresh vs salt)
// is a display concern.
type DepthMonitor struct {
	analog board.Analog
	vMin   float64
	vMax   float64
	pMin   float64
	pMax   float64
	logger logging.Logger

	mu           sync.Mutex
	voltage      float64
	haveVoltage  bool
	pressurePSI  float64
	havePressure bool
}

// NewDepthMonitor returns a monitor for the configured transducer channel.
func NewDepthMonitor(analog board.Analog, conf config.DepthSensorConfig, logger logging.Logger) *DepthMonitor {
	return &DepthMonitor{
		analog: analog,
		vMin:   conf.VoltageRange[0],
		vMax:   conf.VoltageRange[1],
		pMin:   conf.PressureRangePSI[0],
		pMax:   conf.PressureRangePSI[1],
		logger: logger,
	}
}

// Read samples the transducer and updates the stored pressure. Readings
// outside the sensor's valid voltage range are discarded; pressure is
// reported unavailable for the cycle.
func (m *DepthMonitor) Read(ctx context.Context) {
	voltage, err := m.analog.Read(ctx)
	if err != nil {
		m.logger.Errorw("depth sensor read failed", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.voltage = voltage
	m.haveVoltage = true

	if voltage < m.vMin || voltage > m.vMax {
		m.logger.Warnw("depth sensor voltage out of range", "voltage", voltage)
		m.havePressure = false
		return
	}
	spanV := m.vMax - m.vMin
	spanP := m.pMax - m.pMin
	m.pressurePSI = (voltage-m.vMin)/spanV*spanP + m.pMin
	m.havePressure = true
}

// Telemetry returns the latest pressure and raw voltage. Both are always
// numeric, substituting 0.0 when no valid reading exists.
func (m *DepthMonitor) Telemetry() (pressurePSI, depthVoltage float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.havePressure {
		pressurePSI = m.pressurePSI
	}
	if m.haveVoltage {
		depthVoltage = m.voltage
	}
	return pressurePSI, depthVoltage
}
