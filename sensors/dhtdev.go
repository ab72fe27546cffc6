package sensors

import (
	"context"

	dht "github.com/d2r2/go-dht"
	"github.com/pkg/errors"

	"github.com/sealab-robotics/rovd/config"
)

// readRetries is how many times one poll retries the single-wire protocol
// before reporting a transient failure.
const readRetries = 3

// dhtSensor reads a DHT11/DHT22 over its single-wire GPIO protocol.
type dhtSensor struct {
	sensorType dht.SensorType
	pin        int
}

// OpenDHTSensor returns a sensor handle for the configured GPIO pin. This is
// the production SensorOpener.
func OpenDHTSensor(conf config.DHTSensorConfig) (TempHumiditySensor, error) {
	sensorType := dht.DHT22
	if conf.Type == "DHT11" {
		sensorType = dht.DHT11
	}
	if conf.GPIO <= 0 {
		return nil, errors.Errorf("invalid dht gpio pin %d", conf.GPIO)
	}
	return &dhtSensor{sensorType: sensorType, pin: conf.GPIO}, nil
}

// Read lets dhtSensor implement TempHumiditySensor. The single-wire protocol
// is timing sensitive and fails routinely; failures are reported as
// transient.
func (s *dhtSensor) Read(ctx context.Context) (EnvReading, error) {
	temperature, humidity, _, err := dht.ReadDHTxxWithRetry(s.sensorType, s.pin, false, readRetries)
	if err != nil {
		return EnvReading{}, &TransientReadError{Err: err}
	}
	return EnvReading{
		Temperature: float64(temperature),
		Humidity:    float64(humidity),
	}, nil
}

func (s *dhtSensor) Close() error { return nil }
