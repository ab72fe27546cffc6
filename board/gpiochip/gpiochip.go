// Package gpiochip drives GPIO lines through the Linux character device
// (/dev/gpiochipN) by way of mkch's gpio package. It provides plain digital
// outputs for the ESC power relays and software-generated servo pulse trains
// for the brushless motor ESCs.
package gpiochip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mkch/gpio"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/sealab-robotics/rovd/board"
	"github.com/sealab-robotics/rovd/logging"
)

const consumerName = "rovd-gpio"

// servoPeriod is the period of the 50Hz servo signal expected by the ESCs.
const servoPeriod = 20 * time.Millisecond

// Chip is an open GPIO character device from which output lines are drawn.
type Chip struct {
	mu     sync.Mutex
	chip   *gpio.Chip
	lines  []interface{ Close() error }
	logger logging.Logger
}

// Open opens /dev/gpiochip<number>.
func Open(number int, logger logging.Logger) (*Chip, error) {
	chip, err := gpio.OpenChip(fmt.Sprintf("/dev/gpiochip%d", number))
	if err != nil {
		return nil, err
	}
	return &Chip{chip: chip, logger: logger}, nil
}

// OutputLine opens the line at the given offset as a digital output,
// initially low.
func (c *Chip) OutputLine(offset uint32) (board.DigitalOut, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.chip.OpenLine(offset, 0, gpio.Output, consumerName)
	if err != nil {
		return nil, err
	}
	out := &outputLine{line: line}
	c.lines = append(c.lines, out)
	return out, nil
}

// ServoLine opens the line at the given offset as a servo pulse output. No
// pulses are emitted until SetPulseWidth is called with a nonzero width.
func (c *Chip) ServoLine(offset uint32) (board.ServoOut, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.chip.OpenLine(offset, 0, gpio.Output, consumerName)
	if err != nil {
		return nil, err
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	servo := &servoLine{line: line, cancelCtx: cancelCtx, cancelFunc: cancelFunc}
	c.lines = append(c.lines, servo)
	return servo, nil
}

// Close closes every opened line and then the chip itself.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, line := range c.lines {
		err = multierr.Combine(err, line.Close())
	}
	c.lines = nil
	return multierr.Combine(err, c.chip.Close())
}

type outputLine struct {
	mu   sync.Mutex
	line *gpio.Line
}

// Set lets outputLine implement board.DigitalOut.
func (o *outputLine) Set(ctx context.Context, high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var value byte
	if high {
		value = 1
	}
	return o.line.SetValue(value)
}

func (o *outputLine) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.line.Close()
}

// servoLine generates the pulse train in a background goroutine, toggling the
// line high for the requested width once per period.
type servoLine struct {
	mu         sync.Mutex
	line       *gpio.Line
	pulseUS    uint
	running    bool
	cancelCtx  context.Context
	cancelFunc func()
	waitGroup  sync.WaitGroup
}

// SetPulseWidth lets servoLine implement board.ServoOut. A width of 0 lets
// the pulse loop wind down and holds the line low.
func (s *servoLine) SetPulseWidth(ctx context.Context, us uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pulseUS = us
	if us == 0 {
		if !s.running {
			return s.line.SetValue(0)
		}
		return nil
	}
	if !s.running {
		s.running = true
		s.waitGroup.Add(1)
		goutils.ManagedGo(s.pulseLoop, s.waitGroup.Done)
	}
	return nil
}

// One iteration per servo period. If there's an error toggling the line,
// don't stop the loop; hopefully the next toggle works.
func (s *servoLine) pulseLoop() {
	for {
		s.mu.Lock()
		if !s.running || s.cancelCtx.Err() != nil {
			s.running = false
			s.mu.Unlock()
			return
		}
		width := time.Duration(s.pulseUS) * time.Microsecond
		if width == 0 {
			s.running = false
			goutils.UncheckedErrorFunc(func() error { return s.line.SetValue(0) })
			s.mu.Unlock()
			return
		}
		goutils.UncheckedErrorFunc(func() error { return s.line.SetValue(1) })
		s.mu.Unlock()

		if !goutils.SelectContextOrWait(s.cancelCtx, width) {
			return
		}

		s.mu.Lock()
		goutils.UncheckedErrorFunc(func() error { return s.line.SetValue(0) })
		s.mu.Unlock()

		rest := servoPeriod - width
		if rest < 0 {
			rest = 0
		}
		if !goutils.SelectContextOrWait(s.cancelCtx, rest) {
			return
		}
	}
}

func (s *servoLine) Close() error {
	s.cancelFunc()
	s.waitGroup.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return multierr.Combine(s.line.SetValue(0), s.line.Close())
}
