// Package ads1x15 implements a driver for the ADS1115 I2C ADC, used for the
// battery voltage divider and the depth transducer.
package ads1x15

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sealab-robotics/rovd/board"
)

// DefaultAddr is the chip's I2C address with ADDR tied to ground.
const DefaultAddr = 0x48

// Addresses of ADS1115 registers.
const (
	conversionReg = 0x00
	configReg     = 0x01
)

// Fields of the config register.
const (
	configOsSingle    = 0x8000 // start a single conversion
	configMuxSingle0  = 0x4000 // single-ended AINx, channel selected below
	configGainOne     = 0x0200 // PGA gain 1, FS +-4.096V
	configModeSingle  = 0x0100 // single-shot mode
	configRate128SPS  = 0x0080
	configCompDisable = 0x0003
)

// fullScaleVolts is the measurement range at gain 1.
const fullScaleVolts = 4.096

// conversionDelay comfortably covers one conversion at 128 samples/s.
const conversionDelay = 9 * time.Millisecond

const nChannels = 4

// ADS1115 reads single-ended voltages from the chip's four input channels.
type ADS1115 struct {
	mu     sync.Mutex
	handle board.I2CHandle
}

// New opens the ADC at the given address.
func New(bus board.I2C, addr byte) (*ADS1115, error) {
	handle, err := bus.OpenHandle(addr)
	if err != nil {
		return nil, err
	}
	return &ADS1115{handle: handle}, nil
}

// ReadVoltage performs a single-shot conversion on the given channel and
// returns the measured voltage.
func (adc *ADS1115) ReadVoltage(ctx context.Context, channel int) (float64, error) {
	if channel < 0 || channel >= nChannels {
		return 0, errors.Errorf("ads1115 channel %d out of range [0, %d)", channel, nChannels)
	}
	adc.mu.Lock()
	defer adc.mu.Unlock()

	config := uint16(configOsSingle | configMuxSingle0 | configGainOne |
		configModeSingle | configRate128SPS | configCompDisable)
	config |= uint16(channel) << 12
	if err := adc.handle.WriteWordData(ctx, configReg, config); err != nil {
		return 0, errors.Wrap(err, "starting ads1115 conversion")
	}
	if !goutils.SelectContextOrWait(ctx, conversionDelay) {
		return 0, ctx.Err()
	}
	raw, err := adc.handle.ReadWordData(ctx, conversionReg)
	if err != nil {
		return 0, errors.Wrap(err, "reading ads1115 conversion")
	}
	return float64(int16(raw)) * fullScaleVolts / 32768.0, nil
}

// Close releases the bus handle.
func (adc *ADS1115) Close() error {
	adc.mu.Lock()
	defer adc.mu.Unlock()
	return adc.handle.Close()
}

// AnalogIn binds one ADC channel to the board.Analog interface.
type AnalogIn struct {
	adc     *ADS1115
	channel int
}

// NewAnalogIn returns an Analog reading the given channel.
func NewAnalogIn(adc *ADS1115, channel int) *AnalogIn {
	return &AnalogIn{adc: adc, channel: channel}
}

// Read lets AnalogIn implement board.Analog.
func (in *AnalogIn) Read(ctx context.Context) (float64, error) {
	return in.adc.ReadVoltage(ctx, in.channel)
}
