// Package main is the entry point for rovd, the onboard controller of the
// ROV. It wires the hardware stack, sequences ESC power-up, and runs the
// network control loop.
package main

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/sealab-robotics/rovd/board"
	"github.com/sealab-robotics/rovd/board/ads1x15"
	"github.com/sealab-robotics/rovd/board/buses"
	"github.com/sealab-robotics/rovd/board/fake"
	"github.com/sealab-robotics/rovd/board/gpiochip"
	"github.com/sealab-robotics/rovd/board/pca9685"
	"github.com/sealab-robotics/rovd/comms"
	"github.com/sealab-robotics/rovd/config"
	"github.com/sealab-robotics/rovd/escpower"
	"github.com/sealab-robotics/rovd/logging"
	"github.com/sealab-robotics/rovd/motor"
	"github.com/sealab-robotics/rovd/rov"
	"github.com/sealab-robotics/rovd/sensors"
)

var logger = logging.NewLogger("rovd")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=rovd config file"`
	Fake       bool   `flag:"fake,usage=use fake hardware instead of the real I2C/GPIO stack"`
}

// escDischargeDelay is how long ESCs are left unpowered at boot so their
// capacitors fully discharge before a valid control signal appears.
const escDischargeDelay = 2 * time.Second

// signalSettleDelay is a small buffer between neutral output appearing and
// ESC power coming on.
const signalSettleDelay = 500 * time.Millisecond

// hardware is the assembled output/input stack, real or fake.
type hardware struct {
	pwm         board.PWMDriver
	servos      map[string]board.ServoOut
	voltageIn   board.Analog
	depthIn     board.Analog
	escChannels []board.PWMChannel
	escPins     []board.DigitalOut
	openDHT     sensors.SensorOpener
	closers     []func() error
}

func (h *hardware) close() error {
	var err error
	for _, closer := range h.closers {
		err = multierr.Combine(err, closer())
	}
	return err
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	conf, err := config.Read(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	if conf.LogFilePath != "" {
		logger = logging.NewFileLogger("rovd", conf.LogFilePath)
	}

	var hw *hardware
	if argsParsed.Fake {
		logger.Warn("running with fake hardware")
		hw = fakeHardware(conf)
	} else {
		hw, err = realHardware(conf, logger)
		if err != nil {
			return err
		}
	}
	defer func() {
		err = multierr.Combine(err, hw.close())
	}()

	clk := clock.New()

	// ESC power-up sequencing: power off, let the ESCs discharge, put a
	// neutral signal on every output, then power on.
	escPower, err := escpower.New(ctx, hw.escChannels, hw.escPins, logger.Sublogger("escpower"))
	if err != nil {
		return err
	}
	if !goutils.SelectContextOrWait(ctx, escDischargeDelay) {
		return ctx.Err()
	}
	controller, err := motor.New(ctx, conf, hw.pwm, hw.servos, motor.DefaultOptions, logger.Sublogger("motor"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, controller.Close(context.Background()))
	}()
	if !goutils.SelectContextOrWait(ctx, signalSettleDelay) {
		return ctx.Err()
	}
	if err := escPower.Enable(ctx); err != nil {
		return err
	}

	voltageMonitor := sensors.NewVoltageMonitor(hw.voltageIn, conf, clk, logger.Sublogger("voltage"))
	depthMonitor := sensors.NewDepthMonitor(hw.depthIn, conf.DepthSensor, logger.Sublogger("depth"))
	envMonitor := sensors.NewDHTMonitor(conf.DHTSensors, conf.DHTPollInterval(), hw.openDHT, logger.Sublogger("env"))
	envMonitor.Start()
	defer envMonitor.Stop()

	server := comms.NewServer(conf.TrustedClients, logger.Sublogger("comms"))
	if err := server.Start(net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, server.Close())
	}()

	loop := rov.NewLoop(conf, rov.Deps{
		Comms:    server,
		Motors:   controller,
		Voltage:  voltageMonitor,
		Depth:    depthMonitor,
		Env:      envMonitor,
		EscPower: escPower,
		System:   rov.NewOSSystem(),
	}, clk, logger.Sublogger("loop"))
	voltageMonitor.RegisterShutdownCallback(loop.BeginShutdown)

	runErr := loop.Run(ctx)
	if errors.Is(runErr, comms.ErrConnectionLost) {
		// Restart policy is external (systemd); a lost session is a clean
		// exit here.
		logger.Warn("exiting after connection loss")
		return nil
	}
	return runErr
}

func realHardware(conf *config.Config, logger logging.Logger) (*hardware, error) {
	bus := buses.NewI2CBus(conf.I2CBus)

	pwm, err := pca9685.New(bus, pca9685.DefaultAddr, logger.Sublogger("pca9685"))
	if err != nil {
		return nil, err
	}
	adc, err := ads1x15.New(bus, ads1x15.DefaultAddr)
	if err != nil {
		return nil, multierr.Combine(err, pwm.Close())
	}
	chip, err := gpiochip.Open(conf.GPIOChip, logger.Sublogger("gpio"))
	if err != nil {
		return nil, multierr.Combine(err, pwm.Close(), adc.Close())
	}

	hw := &hardware{
		pwm:       pwm,
		servos:    map[string]board.ServoOut{},
		voltageIn: ads1x15.NewAnalogIn(adc, conf.VoltageADCChannel),
		depthIn:   ads1x15.NewAnalogIn(adc, conf.DepthSensor.ADCChannel),
		openDHT:   sensors.OpenDHTSensor,
		closers:   []func() error{chip.Close, adc.Close, pwm.Close},
	}

	for name, motorConf := range conf.MotorChannels {
		if motorConf.Kind != config.MotorKindBrushless {
			continue
		}
		servo, err := chip.ServoLine(*motorConf.GPIO)
		if err != nil {
			return nil, multierr.Combine(err, hw.close())
		}
		hw.servos[name] = servo
	}
	for _, channelIndex := range conf.EscPower.PWMChannels {
		channel, err := pwm.Channel(channelIndex)
		if err != nil {
			return nil, multierr.Combine(err, hw.close())
		}
		hw.escChannels = append(hw.escChannels, channel)
	}
	for _, pin := range conf.EscPower.GPIOPins {
		out, err := chip.OutputLine(pin)
		if err != nil {
			return nil, multierr.Combine(err, hw.close())
		}
		hw.escPins = append(hw.escPins, out)
	}
	return hw, nil
}

func fakeHardware(conf *config.Config) *hardware {
	hw := &hardware{
		pwm:    fake.NewPWMDriver(16),
		servos: map[string]board.ServoOut{},
		// A healthy 3S pack through the 5:1 divider.
		voltageIn: fake.NewAnalog(12.6 / conf.VoltageDividerRatio),
		depthIn:   fake.NewAnalog(conf.DepthSensor.VoltageRange[0]),
		openDHT: func(config.DHTSensorConfig) (sensors.TempHumiditySensor, error) {
			return staticEnvSensor{}, nil
		},
	}
	for name, motorConf := range conf.MotorChannels {
		if motorConf.Kind == config.MotorKindBrushless {
			hw.servos[name] = &fake.ServoOut{}
		}
	}
	for _, channelIndex := range conf.EscPower.PWMChannels {
		channel, err := hw.pwm.Channel(channelIndex)
		if err != nil {
			continue
		}
		hw.escChannels = append(hw.escChannels, channel)
	}
	for range conf.EscPower.GPIOPins {
		hw.escPins = append(hw.escPins, &fake.DigitalOut{})
	}
	return hw
}

// staticEnvSensor backs the fake environment readings.
type staticEnvSensor struct{}

func (staticEnvSensor) Read(ctx context.Context) (sensors.EnvReading, error) {
	return sensors.EnvReading{Temperature: 21.5, Humidity: 40.0}, nil
}

func (staticEnvSensor) Close() error { return nil }
