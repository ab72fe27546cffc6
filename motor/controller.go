// Package motor implements the ROV's motor controller: normalized thrust
// commands in, PWM duty cycles (brushed) and GPIO servo pulses (brushless)
// out, with exponential smoothing and the low-voltage command lockout.
package motor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/sealab-robotics/rovd/board"
	"github.com/sealab-robotics/rovd/config"
	"github.com/sealab-robotics/rovd/logging"
)

// Options adjusts construction behavior.
type Options struct {
	// SettleDelay is how long to hold neutral output after initialization
	// before commanding zero thrust, giving the ESCs time to arm.
	SettleDelay time.Duration
}

// DefaultOptions is what production wiring uses.
var DefaultOptions = Options{SettleDelay: time.Second}

type output struct {
	kind  config.MotorKind
	pwm   board.PWMChannel // brushed
	servo board.ServoOut   // brushless
}

// Controller owns every motor output and the per-motor thrust state.
type Controller struct {
	mu             sync.Mutex
	outputs        map[string]output
	states         map[string]float64
	voltageLimited bool

	smoothingFactor float64
	pwmMin          int
	pwmNeutral      int
	pwmMax          int
	periodUS        float64

	logger logging.Logger
}

// New wires up a controller from the configured motor map. Brushed motors
// take channels from the PWM driver; brushless motors take the prepared servo
// output for their name. Every output is driven to neutral, and after the
// settle delay all motors are commanded to zero thrust.
func New(
	ctx context.Context,
	conf *config.Config,
	pwm board.PWMDriver,
	servos map[string]board.ServoOut,
	opts Options,
	logger logging.Logger,
) (*Controller, error) {
	c := &Controller{
		outputs:         map[string]output{},
		states:          map[string]float64{},
		smoothingFactor: conf.MotorSmoothingFactor,
		pwmMin:          conf.PWMMin,
		pwmNeutral:      conf.PWMNeutral,
		pwmMax:          conf.PWMMax,
		periodUS:        1e6 / float64(conf.PWMFreq),
		logger:          logger,
	}

	if err := pwm.SetPWMFreq(ctx, conf.PWMFreq); err != nil {
		return nil, errors.Wrap(err, "setting pwm frequency")
	}

	for name, motorConf := range conf.MotorChannels {
		switch motorConf.Kind {
		case config.MotorKindBrushed:
			channel, err := pwm.Channel(*motorConf.Channel)
			if err != nil {
				return nil, errors.Wrapf(err, "motor %q", name)
			}
			if err := channel.SetDutyCycle(ctx, c.dutyCycle(c.pwmNeutral)); err != nil {
				return nil, errors.Wrapf(err, "driving motor %q to neutral", name)
			}
			c.outputs[name] = output{kind: motorConf.Kind, pwm: channel}
		case config.MotorKindBrushless:
			servo, ok := servos[name]
			if !ok {
				return nil, errors.Errorf("no servo output wired for brushless motor %q", name)
			}
			if err := servo.SetPulseWidth(ctx, uint(c.pwmNeutral)); err != nil {
				return nil, errors.Wrapf(err, "driving motor %q to neutral", name)
			}
			c.outputs[name] = output{kind: motorConf.Kind, servo: servo}
		}
		c.states[name] = 0.0
	}

	if opts.SettleDelay > 0 {
		time.Sleep(opts.SettleDelay)
	}
	c.StopAll(ctx)
	return c, nil
}

func clampThrust(thrust float64) float64 {
	return math.Max(math.Min(thrust, 1.0), -1.0)
}

// PulseWidthUS converts normalized thrust in [-1, 1] to a pulse width in
// microseconds. Zero maps exactly to the neutral width; positive and negative
// thrust interpolate linearly toward the max and min widths.
func (c *Controller) PulseWidthUS(thrust float64) int {
	thrust = clampThrust(thrust)
	switch {
	case thrust == 0.0:
		return c.pwmNeutral
	case thrust > 0.0:
		return c.pwmNeutral + int(float64(c.pwmMax-c.pwmNeutral)*thrust)
	default:
		return c.pwmNeutral - int(float64(c.pwmNeutral-c.pwmMin)*math.Abs(thrust))
	}
}

// dutyCycle converts a pulse width to the driver's 16-bit duty value.
func (c *Controller) dutyCycle(pulseUS int) uint16 {
	return uint16(math.Round(float64(pulseUS) / c.periodUS * 65535))
}

// SetMotor applies thrust to one motor, clamping and routing to the right
// output path. Unknown motor names are logged and ignored. Brushless motors
// never receive reverse thrust; negative commands clamp to zero.
func (c *Controller) SetMotor(ctx context.Context, name string, thrust float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setMotorLocked(ctx, name, thrust)
}

func (c *Controller) setMotorLocked(ctx context.Context, name string, thrust float64) error {
	out, ok := c.outputs[name]
	if !ok {
		c.logger.Warnw("unknown motor", "name", name)
		return nil
	}
	thrust = clampThrust(thrust)

	switch out.kind {
	case config.MotorKindBrushless:
		if thrust < 0 {
			c.logger.Debugw("clamping reverse thrust for brushless motor", "name", name)
			thrust = 0.0
		}
		if err := out.servo.SetPulseWidth(ctx, uint(c.PulseWidthUS(thrust))); err != nil {
			return errors.Wrapf(err, "setting servo pulse for motor %q", name)
		}
	case config.MotorKindBrushed:
		if err := out.pwm.SetDutyCycle(ctx, c.dutyCycle(c.PulseWidthUS(thrust))); err != nil {
			return errors.Wrapf(err, "setting duty cycle for motor %q", name)
		}
	}

	c.states[name] = thrust
	return nil
}

// StopAll sets every motor to zero thrust, the canonical safe state. Output
// errors are logged, not returned, so one bad channel never blocks the rest.
func (c *Controller) StopAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.outputs {
		if err := c.setMotorLocked(ctx, name, 0.0); err != nil {
			c.logger.Errorw("failed to stop motor", "name", name, "error", err)
		}
	}
}

// ApplyCommandProfile applies a smoothed thrust profile to the named motors.
// While the voltage lockout is active the whole command is dropped.
func (c *Controller) ApplyCommandProfile(ctx context.Context, thrusts map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.voltageLimited {
		c.logger.Warn("ignoring motor command due to voltage-limited mode")
		return
	}
	for name, target := range thrusts {
		current := c.states[name]
		smoothed := current + (target-current)*c.smoothingFactor
		if err := c.setMotorLocked(ctx, name, smoothed); err != nil {
			c.logger.Errorw("failed to set motor", "name", name, "error", err)
		}
	}
}

// States returns a copy of the most recent thrust values per motor.
func (c *Controller) States() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.states))
	for name, thrust := range c.states {
		out[name] = thrust
	}
	return out
}

// SetVoltageLimited toggles the low-voltage command lockout. Engaging it
// stops all motors immediately.
func (c *Controller) SetVoltageLimited(ctx context.Context, limited bool) {
	c.mu.Lock()
	c.voltageLimited = limited
	c.mu.Unlock()
	if limited {
		c.StopAll(ctx)
	}
}

// VoltageLimited reports whether the command lockout is active.
func (c *Controller) VoltageLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voltageLimited
}

// Close stops all motors, then fully releases the brushless servo lines by
// writing a zero pulse width, which is distinct from neutral.
func (c *Controller) Close(ctx context.Context) error {
	c.StopAll(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for name, out := range c.outputs {
		if out.kind != config.MotorKindBrushless {
			continue
		}
		if releaseErr := out.servo.SetPulseWidth(ctx, 0); releaseErr != nil {
			err = multierr.Combine(err, errors.Wrapf(releaseErr, "releasing servo line for motor %q", name))
		}
	}
	return err
}
