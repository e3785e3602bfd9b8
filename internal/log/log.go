// Package log provides centralized logging functionality using zap logger.
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = zap.NewNop().Sugar()
var baseLogger = zap.NewNop()

// fatalHook runs after a Fatal entry is written
var fatalHook zapcore.CheckWriteHook = zapcore.WriteThenFatal

// Options selects the logger's encoding and destination
type Options struct {
	Debug      bool
	File       string // empty logs to stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init initializes the package-level logger
func Init(opts Options) error {
	var zapLogger *zap.Logger
	var err error

	switch {
	case opts.File != "":
		zapLogger = newFileLogger(opts)
	case opts.Debug:
		zapLogger, err = zap.NewDevelopment(zap.AddCallerSkip(1), zap.WithFatalHook(fatalHook))
	default:
		zapLogger, err = zap.NewProduction(zap.AddCallerSkip(1), zap.WithFatalHook(fatalHook))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %v", err)
	}

	baseLogger = zapLogger
	log = zapLogger.Sugar()
	return nil
}

// newFileLogger writes JSON lines to a rotating file
func newFileLogger(opts Options) *zap.Logger {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	})

	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), writer, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.WithFatalHook(fatalHook))
}

// GetSugaredLogger returns the sugared logger instance
func GetSugaredLogger() *zap.SugaredLogger {
	return log
}

// With returns a child logger carrying the given fields, e.g.
// With("component", "lock")
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return baseLogger.Sugar().With(keysAndValues...)
}

// Sync flushes any buffered log entries
func Sync() {
	if log != nil {
		log.Sync()
	}
}

// Package-level convenience functions
func Infof(template string, args ...interface{}) {
	log.Infof(template, args...)
}

func Warnf(template string, args ...interface{}) {
	log.Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	log.Errorf(template, args...)
}

// Fatalf logs and exits. Reserved for startup invariants the controller
// cannot run without.
func Fatalf(template string, args ...interface{}) {
	log.Fatalf(template, args...)
}
