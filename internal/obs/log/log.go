// Package log provides the structured logging facade used across the
// authorization server. It wraps a lazily-initialized zap.SugaredLogger
// singleton so packages can log without threading a logger through every
// constructor.
package log

import (
	"os"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var singleton atomic.Pointer[zap.SugaredLogger]

// Initialize builds the process-wide logger. Safe to call more than once;
// the last call wins. Tests that need to capture output should use
// SetForTest instead.
func Initialize() {
	var cfg zap.Config
	if unstructured() {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Logging itself is broken; fall back to a no-op logger rather than
		// panic during process startup.
		l = zap.NewNop()
	}
	singleton.Store(l.Sugar())
}

// unstructured reports whether human-readable console logging was
// requested via the UNSTRUCTURED_LOGS environment variable. Defaults to
// true (matches local-development expectations) unless explicitly
// disabled.
func unstructured() bool {
	v, ok := os.LookupEnv("UNSTRUCTURED_LOGS")
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

func get() *zap.SugaredLogger {
	if l := singleton.Load(); l != nil {
		return l
	}
	Initialize()
	return singleton.Load()
}

// SetForTest installs a custom logger and returns a restore function.
func SetForTest(l *zap.Logger) func() {
	prev := singleton.Load()
	singleton.Store(l.Sugar())
	return func() { singleton.Store(prev) }
}

// Debugw logs at debug level with structured key/value pairs.
func Debugw(msg string, kv ...interface{}) { get().Debugw(msg, kv...) }

// Infow logs at info level with structured key/value pairs.
func Infow(msg string, kv ...interface{}) { get().Infow(msg, kv...) }

// Warnw logs at warn level with structured key/value pairs.
func Warnw(msg string, kv ...interface{}) { get().Warnw(msg, kv...) }

// Errorw logs at error level with structured key/value pairs.
func Errorw(msg string, kv ...interface{}) { get().Errorw(msg, kv...) }

// Debug logs an unstructured debug message.
func Debug(msg string) { get().Debug(msg) }

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }
