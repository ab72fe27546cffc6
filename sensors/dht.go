package sensors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sealab-robotics/rovd/config"
	"github.com/sealab-robotics/rovd/logging"
	"github.com/sealab-robotics/rovd/utils"
)

// stabilizationDelay is how long the poll loop waits before the first pass so
// freshly powered sensors can settle.
const stabilizationDelay = 2 * time.Second

// EnvReading is one temperature/humidity sample.
type EnvReading struct {
	Temperature float64 `json:"temp"`
	Humidity    float64 `json:"humidity"`
}

// TempHumiditySensor is a handle on one enclosure sensor.
type TempHumiditySensor interface {
	Read(ctx context.Context) (EnvReading, error)
	Close() error
}

// A TransientReadError marks a sensor-protocol failure expected to recover on
// a later poll.
type TransientReadError struct {
	Err error
}

func (e *TransientReadError) Error() string {
	return fmt.Sprintf("transient sensor read failure: %v", e.Err)
}

func (e *TransientReadError) Unwrap() error { return e.Err }

// IsTransientReadError reports whether err is a known-recoverable sensor
// fault.
func IsTransientReadError(err error) bool {
	var transient *TransientReadError
	return errors.As(err, &transient)
}

// SensorOpener constructs a sensor handle from its configuration.
type SensorOpener func(conf config.DHTSensorConfig) (TempHumiditySensor, error)

// DHTMonitor polls all configured temperature/humidity sensors from one
// background goroutine, exposing a latest-readings snapshot.
type DHTMonitor struct {
	sensors  map[string]TempHumiditySensor
	interval time.Duration
	logger   logging.Logger

	mu       sync.Mutex
	readings map[string]EnvReading

	workers utils.StoppableWorkers
}

// NewDHTMonitor initializes a sensor handle per configured entry. A sensor
// that fails to initialize is logged and omitted from polling; one bad sensor
// does not block the others.
func NewDHTMonitor(
	confs map[string]config.DHTSensorConfig,
	interval time.Duration,
	open SensorOpener,
	logger logging.Logger,
) *DHTMonitor {
	sensors := map[string]TempHumiditySensor{}
	for name, conf := range confs {
		sensor, err := open(conf)
		if err != nil {
			logger.Errorw("failed to initialize environment sensor",
				"name", name, "gpio", conf.GPIO, "error", err)
			continue
		}
		logger.Infow("initialized environment sensor", "name", name, "gpio", conf.GPIO, "type", conf.Type)
		sensors[name] = sensor
	}
	return &DHTMonitor{
		sensors:  sensors,
		interval: interval,
		logger:   logger,
		readings: map[string]EnvReading{},
	}
}

// Start launches the background polling goroutine.
func (m *DHTMonitor) Start() {
	m.workers = utils.NewStoppableWorkers(m.pollLoop)
}

func (m *DHTMonitor) pollLoop(ctx context.Context) {
	if !goutils.SelectContextOrWait(ctx, stabilizationDelay) {
		return
	}
	for {
		m.pollOnce(ctx)
		if !goutils.SelectContextOrWait(ctx, m.interval) {
			return
		}
	}
}

// pollOnce reads every sensor. A transient failure keeps the previous
// reading; unexpected errors are logged at error level, also non-fatally.
func (m *DHTMonitor) pollOnce(ctx context.Context) {
	for name, sensor := range m.sensors {
		reading, err := sensor.Read(ctx)
		if err != nil {
			if IsTransientReadError(err) {
				m.logger.Warnw("sensor read failed (recoverable)", "name", name, "error", err)
			} else {
				m.logger.Errorw("sensor error", "name", name, "error", err)
			}
			continue
		}
		m.mu.Lock()
		m.readings[name] = reading
		m.mu.Unlock()
		m.logger.Debugw("environment reading", "name", name,
			"temp", reading.Temperature, "humidity", reading.Humidity)
	}
}

// Readings returns a snapshot copy of the latest readings, safe for
// concurrent use while the poll goroutine writes.
func (m *DHTMonitor) Readings() map[string]EnvReading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]EnvReading, len(m.readings))
	for name, reading := range m.readings {
		out[name] = reading
	}
	return out
}

// Stop halts polling and releases every sensor handle, logging but not
// failing on release errors.
func (m *DHTMonitor) Stop() {
	if m.workers != nil {
		m.workers.Stop()
	}
	for name, sensor := range m.sensors {
		if err := sensor.Close(); err != nil {
			m.logger.Warnw("failed to release sensor", "name", name, "error", err)
		}
	}
}
