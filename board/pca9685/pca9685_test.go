package pca9685

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/sealab-robotics/rovd/board/fake"
	"github.com/sealab-robotics/rovd/logging"
)

func newTestChip(t *testing.T) (*PCA9685, *fake.I2CHandle) {
	t.Helper()
	bus := fake.NewI2C()
	chip, err := New(bus, DefaultAddr, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return chip, bus.Handle
}

func TestNewResetsChip(t *testing.T) {
	_, handle := newTestChip(t)

	test.That(t, handle.Addr(), test.ShouldEqual, byte(DefaultAddr))
	test.That(t, handle.ByteReg(mode1Reg), test.ShouldEqual, byte(mode1AutoInc))
}

func TestSetPWMFreq(t *testing.T) {
	ctx := context.Background()
	chip, handle := newTestChip(t)

	test.That(t, chip.SetPWMFreq(ctx, 50), test.ShouldBeNil)

	// 25MHz oscillator over 4096 counts at 50Hz gives prescale 121.
	test.That(t, handle.ByteReg(prescaleReg), test.ShouldEqual, byte(121))
	// The chip ends awake with restart and auto-increment set.
	mode := handle.ByteReg(mode1Reg)
	test.That(t, mode&mode1Sleep, test.ShouldEqual, 0)
	test.That(t, mode&mode1Restart, test.ShouldEqual, byte(mode1Restart))
	test.That(t, mode&mode1AutoInc, test.ShouldEqual, byte(mode1AutoInc))
}

func TestSetPWMFreqRange(t *testing.T) {
	ctx := context.Background()
	chip, _ := newTestChip(t)

	test.That(t, chip.SetPWMFreq(ctx, 23), test.ShouldNotBeNil)
	test.That(t, chip.SetPWMFreq(ctx, 1527), test.ShouldNotBeNil)
	test.That(t, chip.SetPWMFreq(ctx, 24), test.ShouldBeNil)
	test.That(t, chip.SetPWMFreq(ctx, 1526), test.ShouldBeNil)
}

func TestChannelRange(t *testing.T) {
	chip, _ := newTestChip(t)

	_, err := chip.Channel(-1)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = chip.Channel(16)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = chip.Channel(15)
	test.That(t, err, test.ShouldBeNil)
}

func TestSetDutyCycle(t *testing.T) {
	ctx := context.Background()
	chip, handle := newTestChip(t)

	channel, err := chip.Channel(0)
	test.That(t, err, test.ShouldBeNil)

	// A neutral ESC pulse at 50Hz: duty 4915 maps to off count 307.
	test.That(t, channel.SetDutyCycle(ctx, 4915), test.ShouldBeNil)
	test.That(t, handle.ByteReg(led0OnLReg), test.ShouldEqual, byte(0x00))
	test.That(t, handle.ByteReg(led0OnLReg+1), test.ShouldEqual, byte(0x00))
	test.That(t, handle.ByteReg(led0OnLReg+2), test.ShouldEqual, byte(0x33))
	test.That(t, handle.ByteReg(led0OnLReg+3), test.ShouldEqual, byte(0x01))

	// Zero duty uses the dedicated full-off bit.
	test.That(t, channel.SetDutyCycle(ctx, 0), test.ShouldBeNil)
	test.That(t, handle.ByteReg(led0OnLReg+3), test.ShouldEqual, byte(0x10))

	// Full duty uses the dedicated full-on bit.
	test.That(t, channel.SetDutyCycle(ctx, 0xFFFF), test.ShouldBeNil)
	test.That(t, handle.ByteReg(led0OnLReg+1), test.ShouldEqual, byte(0x10))
	test.That(t, handle.ByteReg(led0OnLReg+3), test.ShouldEqual, byte(0x00))
}

func TestChannelRegisterAddressing(t *testing.T) {
	ctx := context.Background()
	chip, handle := newTestChip(t)

	channel, err := chip.Channel(3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, channel.SetDutyCycle(ctx, 4915), test.ShouldBeNil)

	// Channel 3 registers start at LED0_ON_L + 12.
	test.That(t, handle.ByteReg(led0OnLReg+12+2), test.ShouldEqual, byte(0x33))
	test.That(t, handle.ByteReg(led0OnLReg+12+3), test.ShouldEqual, byte(0x01))
}

func TestClose(t *testing.T) {
	chip, handle := newTestChip(t)

	test.That(t, chip.Close(), test.ShouldBeNil)
	test.That(t, handle.ByteReg(allLedOffH), test.ShouldEqual, byte(0x10))
	test.That(t, handle.Closed(), test.ShouldBeTrue)
}
