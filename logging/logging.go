// Package logging contains the logging functionality for the rovd process.
package logging

import (
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Defaults for the rotating log file.
const (
	defaultLogFileMaxSizeMB = 1
	defaultLogFileBackups   = 5
)

// Logger is the logging interface used throughout rovd. Each component
// receives one at construction and derives subloggers from it.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})

	// These mirror the underlying zap logger so the interface satisfies
	// goutils' ZapCompatibleLogger.
	Desugar() *zap.Logger
	Named(name string) *zap.SugaredLogger
	With(args ...interface{}) *zap.SugaredLogger

	Sublogger(name string) Logger
	Sync() error
}

type impl struct {
	*zap.SugaredLogger
}

func (l *impl) Sublogger(name string) Logger {
	return &impl{l.Named(name)}
}

func (l *impl) Sync() error {
	return l.Desugar().Sync()
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func newConsoleCore(level zapcore.Level) zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(newEncoderConfig()),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(level),
	)
}

func fromCore(name string, core zapcore.Core) Logger {
	return &impl{zap.New(core, zap.AddCaller()).Sugar().Named(name)}
}

// NewLogger returns a logger writing Info+ logs to stdout.
func NewLogger(name string) Logger {
	return fromCore(name, newConsoleCore(zap.InfoLevel))
}

// NewDebugLogger returns a logger writing Debug+ logs to stdout.
func NewDebugLogger(name string) Logger {
	return fromCore(name, newConsoleCore(zap.DebugLevel))
}

// NewFileLogger returns a logger that tees logs to stdout and to a rotating
// file at the given path.
func NewFileLogger(name, path string) Logger {
	fileEncoderConfig := newEncoderConfig()
	fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(fileEncoderConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    defaultLogFileMaxSizeMB,
			MaxBackups: defaultLogFileBackups,
		}),
		zap.NewAtomicLevelAt(zap.InfoLevel),
	)
	return fromCore(name, zapcore.NewTee(newConsoleCore(zap.InfoLevel), fileCore))
}

// NewTestLogger returns a logger for use in tests.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also saves logs to an in
// memory observer for assertions on emitted messages.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	observerCore, observedLogs := observer.New(zapcore.DebugLevel)
	core := zapcore.NewTee(newConsoleCore(zap.DebugLevel), observerCore)
	return fromCore(tb.Name(), core), observedLogs
}
