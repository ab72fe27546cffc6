package sensors

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sealab-robotics/rovd/board"
	"github.com/sealab-robotics/rovd/config"
	"github.com/sealab-robotics/rovd/logging"
)

// VoltageMode is the battery state derived from the last reading and the
// limited-mode latch.
type VoltageMode string

// The three failsafe tiers. Critical takes display priority over limited.
const (
	VoltageNormal   VoltageMode = "normal"
	VoltageLimited  VoltageMode = "limited"
	VoltageCritical VoltageMode = "critical"
)

// MotorGuard is the slice of the motor controller the failsafe acts on.
type MotorGuard interface {
	SetVoltageLimited(ctx context.Context, limited bool)
	StopAll(ctx context.Context)
}

// waitFunc waits for the given duration and reports whether the wait ran to
// completion (as opposed to being cancelled). Injecting it keeps the blocking
// and suspending check variants on one state machine.
type waitFunc func(ctx context.Context, d time.Duration) bool

// VoltageMonitor tracks battery voltage against the warning, limited, and
// critical thresholds. Noisy readings are handled by requiring repeated
// low-voltage events over time before any failsafe acts.
type VoltageMonitor struct {
	analog       board.Analog
	dividerRatio float64

	warning  float64
	limited  float64
	critical float64

	limitedCount  int
	limitedDelay  time.Duration
	criticalCount int
	criticalDelay time.Duration
	verifyDelay   time.Duration

	resumeAfterRecovery bool

	clk    clock.Clock
	logger logging.Logger

	mu            sync.Mutex
	lastVoltage   float64
	haveReading   bool
	limitedTimes  []time.Time
	criticalTimes []time.Time
	inLimitedMode bool
	shutdownFunc  func()
}

// NewVoltageMonitor builds a monitor from the configured thresholds and
// failsafe debounce parameters.
func NewVoltageMonitor(
	analog board.Analog,
	conf *config.Config,
	clk clock.Clock,
	logger logging.Logger,
) *VoltageMonitor {
	return &VoltageMonitor{
		analog:              analog,
		dividerRatio:        conf.VoltageDividerRatio,
		warning:             conf.VoltageWarning,
		limited:             conf.VoltageLimited,
		critical:            conf.VoltageCritical,
		limitedCount:        conf.Failsafe.LimitedCount,
		limitedDelay:        time.Duration(conf.Failsafe.LimitedDelaySec * float64(time.Second)),
		criticalCount:       conf.Failsafe.CriticalCount,
		criticalDelay:       time.Duration(conf.Failsafe.CriticalDelaySec * float64(time.Second)),
		verifyDelay:         time.Duration(conf.Failsafe.VerifyDelaySec * float64(time.Second)),
		resumeAfterRecovery: conf.Failsafe.ResumeAfterRecovery,
		clk:                 clk,
		logger:              logger,
	}
}

// RegisterShutdownCallback registers the operation to run when a critical
// episode is confirmed by the post-stop verification read.
func (m *VoltageMonitor) RegisterShutdownCallback(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFunc = callback
}

// readRaw samples the ADC and recovers battery voltage through the divider
// ratio without touching the stored state.
func (m *VoltageMonitor) readRaw(ctx context.Context) (float64, error) {
	measured, err := m.analog.Read(ctx)
	if err != nil {
		return 0, err
	}
	return measured * m.dividerRatio, nil
}

// ReadVoltage reads the battery voltage and retains it for failsafe checks.
// On a read error the last known value is kept.
func (m *VoltageMonitor) ReadVoltage(ctx context.Context) (float64, error) {
	voltage, err := m.readRaw(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.lastVoltage = voltage
	m.haveReading = true
	m.mu.Unlock()
	return voltage, nil
}

// LastVoltage returns the most recent reading, and whether one exists yet.
func (m *VoltageMonitor) LastVoltage() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVoltage, m.haveReading
}

// Mode derives the current tier. Critical takes priority over the limited
// latch.
func (m *VoltageMonitor) Mode() VoltageMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.haveReading && m.lastVoltage < m.critical:
		return VoltageCritical
	case m.inLimitedMode:
		return VoltageLimited
	default:
		return VoltageNormal
	}
}

// CheckBlocking evaluates the failsafe, sleeping through the verify delay.
// For synchronous call sites.
func (m *VoltageMonitor) CheckBlocking(ctx context.Context, guard MotorGuard) {
	m.check(ctx, guard, func(ctx context.Context, d time.Duration) bool {
		m.clk.Sleep(d)
		return true
	})
}

// Check evaluates the failsafe, suspending through the verify delay without
// blocking concurrent work. For use inside the control loop's poll task.
func (m *VoltageMonitor) Check(ctx context.Context, guard MotorGuard) {
	m.check(ctx, guard, m.waitInterruptible)
}

func (m *VoltageMonitor) waitInterruptible(ctx context.Context, d time.Duration) bool {
	timer := m.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// pruneWindow drops event timestamps older than the bounded horizon.
func pruneWindow(times []time.Time, now time.Time, horizon time.Duration) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) < horizon {
			kept = append(kept, t)
		}
	}
	return kept
}

// check is the single failsafe state machine behind both variants.
//
// Limited mode engages only after limitedCount sustained events and releases
// on a single recovery reading; critical stops the motors after
// criticalCount events, then verifies with a fresh read after verifyDelay
// before invoking the shutdown callback.
func (m *VoltageMonitor) check(ctx context.Context, guard MotorGuard, wait waitFunc) {
	now := m.clk.Now()

	m.mu.Lock()
	if !m.haveReading {
		m.mu.Unlock()
		return
	}
	voltage := m.lastVoltage

	if voltage < m.warning {
		m.logger.Warnf("battery low, surface immediately (%.2fV)", voltage)
	}

	var engageLimited, releaseLimited bool
	if voltage < m.limited {
		// Record at most one event per limitedDelay; this rate-limits event
		// recording rather than being a strict debounce window.
		if len(m.limitedTimes) == 0 || now.Sub(m.limitedTimes[len(m.limitedTimes)-1]) > m.limitedDelay {
			m.limitedTimes = append(m.limitedTimes, now)
			m.logger.Infof("voltage below limited threshold: %.2fV", voltage)
		}
		m.limitedTimes = pruneWindow(m.limitedTimes, now, m.limitedDelay*time.Duration(m.limitedCount)*2)
		if len(m.limitedTimes) >= m.limitedCount && !m.inLimitedMode {
			m.logger.Warn("sustained low voltage, disabling motors")
			m.inLimitedMode = true
			engageLimited = true
		}
	} else if m.inLimitedMode {
		m.logger.Info("voltage back in normal range, re-enabling motor control")
		m.inLimitedMode = false
		m.limitedTimes = nil
		releaseLimited = true
	}

	criticalTripped := false
	if voltage < m.critical {
		if len(m.criticalTimes) == 0 || now.Sub(m.criticalTimes[len(m.criticalTimes)-1]) > m.criticalDelay {
			m.criticalTimes = append(m.criticalTimes, now)
			m.logger.Warnf("battery voltage below critical: %.2fV, count=%d", voltage, len(m.criticalTimes))
		}
		m.criticalTimes = pruneWindow(m.criticalTimes, now, m.criticalDelay*time.Duration(m.criticalCount)*2)
		criticalTripped = len(m.criticalTimes) >= m.criticalCount
	} else {
		m.criticalTimes = nil
	}
	m.mu.Unlock()

	if engageLimited {
		guard.SetVoltageLimited(ctx, true)
	}
	if releaseLimited {
		guard.SetVoltageLimited(ctx, false)
	}

	if !criticalTripped {
		return
	}
	m.logger.Error("multiple low-voltage events detected, stopping all motors")
	guard.StopAll(ctx)
	if !wait(ctx, m.verifyDelay) {
		return
	}

	// Fresh direct reading, bypassing the event window, to rule out a
	// transient sag under motor load.
	fresh, err := m.readRaw(ctx)
	if err != nil {
		m.logger.Errorw("verification read failed", "error", err)
		return
	}
	m.logger.Errorf("voltage after motor stop: %.2fV", fresh)

	m.mu.Lock()
	m.criticalTimes = nil
	callback := m.shutdownFunc
	m.mu.Unlock()

	if fresh < m.critical {
		m.logger.Error("confirmed persistent low voltage, shutting down")
		if callback != nil {
			callback()
		}
		return
	}

	m.logger.Warn("voltage returned to safe level")
	if !m.resumeAfterRecovery {
		// Conservative default: hold the command lockout until voltage
		// climbs back above the limited threshold.
		m.mu.Lock()
		m.inLimitedMode = true
		m.mu.Unlock()
		guard.SetVoltageLimited(ctx, true)
	}
}

// PollLoop reads the battery voltage and evaluates the failsafe at the given
// interval until ctx is cancelled.
func (m *VoltageMonitor) PollLoop(ctx context.Context, guard MotorGuard, interval time.Duration) {
	for {
		if voltage, err := m.ReadVoltage(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warnw("voltage read failed", "error", err)
		} else {
			m.logger.Debugf("voltage: %.2fV", voltage)
		}
		m.Check(ctx, guard)
		if !m.waitInterruptible(ctx, interval) {
			return
		}
	}
}
