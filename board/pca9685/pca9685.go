// Package pca9685 implements a driver for the PCA9685 16-channel PWM hat,
// the output stage for the ROV's brushed motor ESCs.
package pca9685

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sealab-robotics/rovd/board"
	"github.com/sealab-robotics/rovd/logging"
)

// DefaultAddr is the factory I2C address of the chip.
const DefaultAddr = 0x40

// Addresses of PCA9685 registers.
const (
	mode1Reg    = 0x00
	led0OnLReg  = 0x06
	allLedOffH  = 0xFD
	prescaleReg = 0xFE
)

// MODE1 register bits.
const (
	mode1Restart = 0x80
	mode1AutoInc = 0x20
	mode1Sleep   = 0x10
)

const (
	nChannels = 16
	// Internal oscillator frequency, per datasheet.
	oscillatorHz = 25_000_000
	// PWM counter resolution.
	counterMax = 4096
)

// PCA9685 drives the chip over I2C. All channels share one PWM frequency.
type PCA9685 struct {
	mu     sync.Mutex
	handle board.I2CHandle
	logger logging.Logger
}

// New opens the chip at the given address and resets it.
func New(bus board.I2C, addr byte, logger logging.Logger) (*PCA9685, error) {
	handle, err := bus.OpenHandle(addr)
	if err != nil {
		return nil, err
	}
	chip := &PCA9685{handle: handle, logger: logger}
	if err := handle.WriteByteData(context.Background(), mode1Reg, mode1AutoInc); err != nil {
		return nil, errors.Wrap(err, "resetting pca9685")
	}
	return chip, nil
}

// SetPWMFreq reprograms the prescaler. The chip must be put to sleep while
// the prescale register is written.
func (chip *PCA9685) SetPWMFreq(ctx context.Context, freqHz uint) error {
	chip.mu.Lock()
	defer chip.mu.Unlock()

	if freqHz < 24 || freqHz > 1526 {
		return errors.Errorf("pca9685 frequency %d out of range [24, 1526]", freqHz)
	}
	prescale := byte(math.Round(oscillatorHz/(counterMax*float64(freqHz))) - 1)

	oldMode, err := chip.handle.ReadByteData(ctx, mode1Reg)
	if err != nil {
		return err
	}
	sleepMode := (oldMode &^ mode1Restart) | mode1Sleep
	if err := chip.handle.WriteByteData(ctx, mode1Reg, sleepMode); err != nil {
		return err
	}
	if err := chip.handle.WriteByteData(ctx, prescaleReg, prescale); err != nil {
		return err
	}
	if err := chip.handle.WriteByteData(ctx, mode1Reg, oldMode); err != nil {
		return err
	}
	// Oscillator needs at most 500us to come back from sleep.
	time.Sleep(time.Millisecond)
	return chip.handle.WriteByteData(ctx, mode1Reg, oldMode|mode1Restart|mode1AutoInc)
}

// Channel returns the PWM channel at the given index.
func (chip *PCA9685) Channel(index int) (board.PWMChannel, error) {
	if index < 0 || index >= nChannels {
		return nil, errors.Errorf("pca9685 channel %d out of range [0, %d)", index, nChannels)
	}
	return &channel{chip: chip, baseReg: byte(led0OnLReg + 4*index)}, nil
}

// Close turns every output off and releases the bus handle.
func (chip *PCA9685) Close() error {
	chip.mu.Lock()
	defer chip.mu.Unlock()

	// Setting bit 4 of ALL_LED_OFF_H switches all outputs off.
	if err := chip.handle.WriteByteData(context.Background(), allLedOffH, 0x10); err != nil {
		chip.logger.Warnw("failed to switch pca9685 outputs off", "error", err)
	}
	return chip.handle.Close()
}

type channel struct {
	chip    *PCA9685
	baseReg byte
}

// SetDutyCycle programs the on/off counts for one channel from a 16-bit duty
// value. 0 and 0xFFFF use the chip's dedicated full-off/full-on bits.
func (ch *channel) SetDutyCycle(ctx context.Context, duty uint16) error {
	ch.chip.mu.Lock()
	defer ch.chip.mu.Unlock()

	var onCount, offCount uint16
	switch duty {
	case 0:
		offCount = counterMax // full off bit
	case 0xFFFF:
		onCount = counterMax // full on bit
	default:
		offCount = duty >> 4
	}

	regs := []struct {
		reg   byte
		value byte
	}{
		{ch.baseReg, byte(onCount)},
		{ch.baseReg + 1, byte(onCount >> 8)},
		{ch.baseReg + 2, byte(offCount)},
		{ch.baseReg + 3, byte(offCount >> 8)},
	}
	for _, r := range regs {
		if err := ch.chip.handle.WriteByteData(ctx, r.reg, r.value); err != nil {
			return errors.Wrapf(err, "writing pca9685 register 0x%x", r.reg)
		}
	}
	return nil
}
