// Package escpower gates power to the motor ESCs through MOSFETs on PWM hat
// channels and/or solid-state relays on GPIO lines. Used only for startup and
// shutdown sequencing.
package escpower

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/sealab-robotics/rovd/board"
	"github.com/sealab-robotics/rovd/logging"
)

// Manager switches ESC power on and off. The disabled state is forced at
// construction so ESCs never see power before a valid control signal exists.
type Manager struct {
	channels []board.PWMChannel
	pins     []board.DigitalOut
	logger   logging.Logger

	mu      sync.Mutex
	enabled bool
}

// New builds a manager over the given outputs and forces power off.
func New(
	ctx context.Context,
	channels []board.PWMChannel,
	pins []board.DigitalOut,
	logger logging.Logger,
) (*Manager, error) {
	m := &Manager{channels: channels, pins: pins, logger: logger}
	if err := m.Disable(ctx); err != nil {
		return nil, errors.Wrap(err, "forcing esc power off at startup")
	}
	return m, nil
}

// Enable switches ESC power on: PWM channels to full duty, GPIO pins high.
// Idempotent.
func (m *Manager) Enable(ctx context.Context) error {
	if err := m.setAll(ctx, true); err != nil {
		return err
	}
	m.setEnabled(true)
	m.logger.Info("esc power enabled")
	return nil
}

// Disable switches ESC power off: PWM channels to zero duty, GPIO pins low.
// Idempotent.
func (m *Manager) Disable(ctx context.Context) error {
	if err := m.setAll(ctx, false); err != nil {
		return err
	}
	m.setEnabled(false)
	m.logger.Info("esc power disabled")
	return nil
}

// Enabled reports the last commanded state.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Manager) setEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *Manager) setAll(ctx context.Context, on bool) error {
	var duty uint16
	if on {
		duty = 0xFFFF
	}
	var err error
	for _, channel := range m.channels {
		err = multierr.Combine(err, channel.SetDutyCycle(ctx, duty))
	}
	for _, pin := range m.pins {
		err = multierr.Combine(err, pin.Set(ctx, on))
	}
	return err
}
