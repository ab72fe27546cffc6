package ads1x15

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/sealab-robotics/rovd/board/fake"
)

func newTestADC(t *testing.T) (*ADS1115, *fake.I2CHandle) {
	t.Helper()
	bus := fake.NewI2C()
	adc, err := New(bus, DefaultAddr)
	test.That(t, err, test.ShouldBeNil)
	return adc, bus.Handle
}

func TestReadVoltage(t *testing.T) {
	ctx := context.Background()
	adc, handle := newTestADC(t)

	// Half scale: raw 16384 at FS 4.096V reads 2.048V.
	handle.SetWordReg(conversionReg, 16384)
	volts, err := adc.ReadVoltage(ctx, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, volts, test.ShouldAlmostEqual, 2.048)

	// Channel 0 single-shot conversion request.
	test.That(t, handle.WordReg(configReg), test.ShouldEqual, uint16(0xC383))
}

func TestReadVoltageChannelSelect(t *testing.T) {
	ctx := context.Background()
	adc, handle := newTestADC(t)

	_, err := adc.ReadVoltage(ctx, 2)
	test.That(t, err, test.ShouldBeNil)
	// The mux field selects AIN2.
	test.That(t, handle.WordReg(configReg), test.ShouldEqual, uint16(0xE383))
}

func TestReadVoltageNegative(t *testing.T) {
	ctx := context.Background()
	adc, handle := newTestADC(t)

	// The conversion register is two's complement.
	handle.SetWordReg(conversionReg, 0xF000)
	volts, err := adc.ReadVoltage(ctx, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, volts, test.ShouldAlmostEqual, -0.512)
}

func TestReadVoltageChannelRange(t *testing.T) {
	ctx := context.Background()
	adc, _ := newTestADC(t)

	_, err := adc.ReadVoltage(ctx, -1)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = adc.ReadVoltage(ctx, 4)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAnalogIn(t *testing.T) {
	ctx := context.Background()
	adc, handle := newTestADC(t)

	handle.SetWordReg(conversionReg, 8192)
	in := NewAnalogIn(adc, 1)
	volts, err := in.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, volts, test.ShouldAlmostEqual, 1.024)
	test.That(t, handle.WordReg(configReg), test.ShouldEqual, uint16(0xD383))
}

func TestClose(t *testing.T) {
	adc, handle := newTestADC(t)

	test.That(t, adc.Close(), test.ShouldBeNil)
	test.That(t, handle.Closed(), test.ShouldBeTrue)
}
