// Package board defines the hardware boundary of the ROV: analog inputs,
// PWM outputs, digital outputs, servo-pulse outputs, and I2C buses. Concrete
// implementations live in the subpackages; board/fake has in-memory versions
// for tests and for running off-target.
package board

import "context"

// Analog is a single analog input channel. Read returns the measured voltage
// in volts.
type Analog interface {
	Read(ctx context.Context) (float64, error)
}

// PWMChannel is one output channel of a multi-channel PWM driver. Duty is a
// 16-bit value: 0 is fully off, 0xFFFF fully on.
type PWMChannel interface {
	SetDutyCycle(ctx context.Context, duty uint16) error
}

// PWMDriver is a multi-channel hardware PWM generator, e.g. a PCA9685 hat.
// All channels share one output frequency.
type PWMDriver interface {
	SetPWMFreq(ctx context.Context, freqHz uint) error
	Channel(index int) (PWMChannel, error)
}

// DigitalOut is a single digital output line.
type DigitalOut interface {
	Set(ctx context.Context, high bool) error
}

// ServoOut emits a standard servo pulse train on one line. A width of 0
// releases the line (held low, no pulses), which is distinct from neutral.
type ServoOut interface {
	SetPulseWidth(ctx context.Context, us uint) error
}
