package escpower

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/sealab-robotics/rovd/board"
	"github.com/sealab-robotics/rovd/board/fake"
	"github.com/sealab-robotics/rovd/logging"
)

func newTestManager(t *testing.T) (*Manager, *fake.PWMDriver, *fake.DigitalOut) {
	t.Helper()
	driver := fake.NewPWMDriver(16)
	channel, err := driver.Channel(15)
	test.That(t, err, test.ShouldBeNil)
	pin := &fake.DigitalOut{}

	// Seed non-off state so construction observably forces power off.
	test.That(t, channel.SetDutyCycle(context.Background(), 0x8000), test.ShouldBeNil)
	test.That(t, pin.Set(context.Background(), true), test.ShouldBeNil)

	manager, err := New(context.Background(), []board.PWMChannel{channel}, []board.DigitalOut{pin}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return manager, driver, pin
}

func TestNewForcesPowerOff(t *testing.T) {
	manager, driver, pin := newTestManager(t)

	test.That(t, manager.Enabled(), test.ShouldBeFalse)
	test.That(t, driver.DutyCycle(15), test.ShouldEqual, 0)
	test.That(t, pin.High(), test.ShouldBeFalse)
}

func TestEnableDisable(t *testing.T) {
	ctx := context.Background()
	manager, driver, pin := newTestManager(t)

	test.That(t, manager.Enable(ctx), test.ShouldBeNil)
	test.That(t, manager.Enabled(), test.ShouldBeTrue)
	test.That(t, driver.DutyCycle(15), test.ShouldEqual, uint16(0xFFFF))
	test.That(t, pin.High(), test.ShouldBeTrue)

	// Idempotent in both directions.
	test.That(t, manager.Enable(ctx), test.ShouldBeNil)
	test.That(t, manager.Enabled(), test.ShouldBeTrue)

	test.That(t, manager.Disable(ctx), test.ShouldBeNil)
	test.That(t, manager.Enabled(), test.ShouldBeFalse)
	test.That(t, driver.DutyCycle(15), test.ShouldEqual, 0)
	test.That(t, pin.High(), test.ShouldBeFalse)

	test.That(t, manager.Disable(ctx), test.ShouldBeNil)
	test.That(t, manager.Enabled(), test.ShouldBeFalse)
}

func TestNoOutputsConfigured(t *testing.T) {
	manager, err := New(context.Background(), nil, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, manager.Enable(context.Background()), test.ShouldBeNil)
	test.That(t, manager.Enabled(), test.ShouldBeTrue)
}
