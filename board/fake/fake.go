// Package fake provides in-memory implementations of the board interfaces,
// used by tests and by rovd's --fake mode for running off-target.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/sealab-robotics/rovd/board"
)

// Analog is a fake analog input whose voltage is set by tests.
type Analog struct {
	mu    sync.Mutex
	volts float64
	err   error
}

// NewAnalog returns a fake analog input reading the given voltage.
func NewAnalog(volts float64) *Analog {
	return &Analog{volts: volts}
}

// SetVoltage sets the voltage returned by subsequent reads.
func (a *Analog) SetVoltage(volts float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.volts = volts
}

// SetError makes subsequent reads fail with the given error.
func (a *Analog) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Read lets Analog implement board.Analog.
func (a *Analog) Read(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return 0, a.err
	}
	return a.volts, nil
}

// PWMDriver is a fake multi-channel PWM driver that records what was written.
type PWMDriver struct {
	mu       sync.Mutex
	freqHz   uint
	duties   map[int]uint16
	channels int
}

// NewPWMDriver returns a fake driver with the given channel count.
func NewPWMDriver(channels int) *PWMDriver {
	return &PWMDriver{duties: map[int]uint16{}, channels: channels}
}

// SetPWMFreq lets PWMDriver implement board.PWMDriver.
func (d *PWMDriver) SetPWMFreq(ctx context.Context, freqHz uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freqHz = freqHz
	return nil
}

// PWMFreq returns the last frequency set.
func (d *PWMDriver) PWMFreq() uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freqHz
}

// Channel lets PWMDriver implement board.PWMDriver.
func (d *PWMDriver) Channel(index int) (board.PWMChannel, error) {
	if index < 0 || index >= d.channels {
		return nil, errors.Errorf("fake pwm channel %d out of range [0, %d)", index, d.channels)
	}
	return &pwmChannel{driver: d, index: index}, nil
}

// DutyCycle returns the last duty cycle written to the given channel.
func (d *PWMDriver) DutyCycle(index int) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duties[index]
}

type pwmChannel struct {
	driver *PWMDriver
	index  int
}

func (ch *pwmChannel) SetDutyCycle(ctx context.Context, duty uint16) error {
	ch.driver.mu.Lock()
	defer ch.driver.mu.Unlock()
	ch.driver.duties[ch.index] = duty
	return nil
}

// DigitalOut is a fake digital output line.
type DigitalOut struct {
	mu   sync.Mutex
	high bool
}

// Set lets DigitalOut implement board.DigitalOut.
func (o *DigitalOut) Set(ctx context.Context, high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.high = high
	return nil
}

// High returns the current line level.
func (o *DigitalOut) High() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.high
}

// ServoOut is a fake servo output recording the pulse widths written to it.
type ServoOut struct {
	mu     sync.Mutex
	widths []uint
}

// SetPulseWidth lets ServoOut implement board.ServoOut.
func (s *ServoOut) SetPulseWidth(ctx context.Context, us uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widths = append(s.widths, us)
	return nil
}

// PulseWidth returns the last width written, or 0 if none.
func (s *ServoOut) PulseWidth() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.widths) == 0 {
		return 0
	}
	return s.widths[len(s.widths)-1]
}

// Widths returns every width written so far.
func (s *ServoOut) Widths() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint, len(s.widths))
	copy(out, s.widths)
	return out
}
