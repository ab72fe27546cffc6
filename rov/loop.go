package rov

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"

	"github.com/sealab-robotics/rovd/comms"
	"github.com/sealab-robotics/rovd/config"
	"github.com/sealab-robotics/rovd/escpower"
	"github.com/sealab-robotics/rovd/logging"
	"github.com/sealab-robotics/rovd/motor"
	"github.com/sealab-robotics/rovd/sensors"
	"github.com/sealab-robotics/rovd/utils"
)

const (
	// commandPollTimeout bounds how long one cycle waits for an inbound
	// command; absence of a command is not an error.
	commandPollTimeout = 10 * time.Millisecond
	// loopSleep is the fixed inter-iteration sleep.
	loopSleep = 10 * time.Millisecond

	// Safety delays before the OS-level power operation runs, leaving room
	// for a future cancel feature.
	shutdownDelay = 10 * time.Second
	rebootDelay   = 5 * time.Second
)

// Deps bundles the components the loop drives.
type Deps struct {
	Comms    *comms.Server
	Motors   *motor.Controller
	Voltage  *sensors.VoltageMonitor
	Depth    *sensors.DepthMonitor
	Env      *sensors.DHTMonitor
	EscPower *escpower.Manager
	System   System
}

// Loop is the single control loop: it dispatches commands, applies the
// command-timeout failsafe, merges sensor readings into telemetry, and hands
// shutdown/reboot off to background goroutines.
type Loop struct {
	conf   *config.Config
	deps   Deps
	clk    clock.Clock
	logger logging.Logger
}

// NewLoop returns an unstarted loop.
func NewLoop(conf *config.Config, deps Deps, clk clock.Clock, logger logging.Logger) *Loop {
	return &Loop{conf: conf, deps: deps, clk: clk, logger: logger}
}

// Run drives the control loop until ctx is cancelled or the active session
// is lost. On any exit path the motors are stopped and the background
// voltage worker is cancelled and awaited.
func (l *Loop) Run(ctx context.Context) error {
	workers := utils.NewStoppableWorkers(func(ctx context.Context) {
		l.deps.Voltage.PollLoop(ctx, l.deps.Motors, l.conf.VoltagePollInterval())
	})
	defer workers.Stop()
	defer l.deps.Motors.StopAll(context.Background())

	l.logger.Info("control loop running")

	lastCommandTime := l.clk.Now()
	telemetryLimiter := rate.NewLimiter(rate.Every(l.conf.TelemetryPeriod()), 1)

	for {
		command, err := l.deps.Comms.Receive(ctx, commandPollTimeout)
		switch {
		case errors.Is(err, comms.ErrConnectionLost):
			l.logger.Error("connection lost, stopping motors and exiting loop")
			return err
		case ctx.Err() != nil:
			return nil
		case err != nil:
			l.logger.Errorw("unexpected receive error", "error", err)
			return err
		}

		now := l.clk.Now()
		var telemetry comms.Telemetry

		if command != nil {
			lastCommandTime = now
			switch command.Command {
			case comms.CommandSetThrust:
				l.deps.Motors.ApplyCommandProfile(ctx, command.Motors)
				telemetry.MotorState = command.Motors
				telemetry.Actual = l.deps.Motors.States()
			case comms.CommandEmergencyStop:
				l.deps.Motors.StopAll(ctx)
				l.logger.Warn("emergency stop received")
			case comms.CommandShutdown:
				l.logger.Warn("shutdown command received, shutting down in 10 seconds")
				l.deps.Comms.Send(ctx, comms.LogNotice{Log: "ROV shutting down (shutdown_pi command received)."})
				l.BeginShutdown()
			case comms.CommandRestart:
				l.logger.Warn("restart command received, rebooting in 5 seconds")
				l.deps.Comms.Send(ctx, comms.LogNotice{Log: "ROV rebooting (restart_pi command received)."})
				l.BeginReboot()
			default:
				l.logger.Warnw("unknown command type received", "command", command.Command)
			}
		} else if now.Sub(lastCommandTime) > l.conf.CommandTimeout() {
			// Command-timeout failsafe: evaluated before telemetry assembly
			// so the stop shows up in this cycle's packet.
			l.deps.Motors.StopAll(ctx)
		}

		l.deps.Depth.Read(ctx)
		telemetry.PressurePSI, telemetry.DepthVoltage = l.deps.Depth.Telemetry()
		if telemetry.MotorState == nil {
			telemetry.MotorState = l.deps.Motors.States()
		}
		if _, err := l.deps.Voltage.ReadVoltage(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warnw("voltage read failed", "error", err)
		}
		if voltage, ok := l.deps.Voltage.LastVoltage(); ok {
			telemetry.Voltage = &voltage
		}
		telemetry.VoltageMode = string(l.deps.Voltage.Mode())
		telemetry.Env = l.deps.Env.Readings()

		if telemetryLimiter.Allow() {
			l.deps.Comms.Send(ctx, &telemetry)
		}

		if !goutils.SelectContextOrWait(ctx, loopSleep) {
			return nil
		}
	}
}

// BeginShutdown launches the safe shutdown sequence in the background so the
// control loop is never blocked by its safety delay.
func (l *Loop) BeginShutdown() {
	goutils.PanicCapturingGo(func() {
		l.powerSequence("shutdown", shutdownDelay, l.deps.System.Shutdown)
	})
}

// BeginReboot launches the safe reboot sequence in the background.
func (l *Loop) BeginReboot() {
	goutils.PanicCapturingGo(func() {
		l.powerSequence("reboot", rebootDelay, l.deps.System.Reboot)
	})
}

// powerSequence stops the motors, cuts ESC power, waits out the safety
// delay, and then executes the OS-level operation.
func (l *Loop) powerSequence(name string, delay time.Duration, op func(context.Context) error) {
	ctx := context.Background()
	l.logger.Errorf("performing %s in %v", name, delay)
	l.deps.Motors.StopAll(ctx)
	if err := l.deps.EscPower.Disable(ctx); err != nil {
		l.logger.Errorw("failed to disable esc power", "error", err)
	}
	l.clk.Sleep(delay)
	l.logger.Errorf("executing system %s now", name)
	if err := op(ctx); err != nil {
		l.logger.Errorw("system power operation failed", "op", name, "error", err)
	}
}
