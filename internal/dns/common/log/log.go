// Package log is the structured logging facade used across nullroute.
// Call sites pass a field map and a short message; the backing
// implementation is zap.
package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Fields carries structured key/value context for a log entry.
type Fields = map[string]any

// Logger defines the logging interface every component depends on.
type Logger interface {
	Info(fields Fields, msg string)
	Error(fields Fields, msg string)
	Debug(fields Fields, msg string)
	Warn(fields Fields, msg string)
	Panic(fields Fields, msg string)
	Fatal(fields Fields, msg string)
}

var global Logger = newZapLogger(false, zapcore.InfoLevel)

// SetLogger replaces the global logger instance.
func SetLogger(l Logger) {
	global = l
}

// GetLogger returns the current global logger instance.
func GetLogger() Logger {
	return global
}

// Configure installs a zap-backed global logger. Any env other than "prod"
// selects the colored development console encoder.
func Configure(env, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	global = newZapLogger(env != "prod", lvl)
	return nil
}

// Sync flushes buffered entries of the global logger, if it buffers.
func Sync() {
	if s, ok := global.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func Info(fields Fields, msg string)  { global.Info(fields, msg) }
func Error(fields Fields, msg string) { global.Error(fields, msg) }
func Debug(fields Fields, msg string) { global.Debug(fields, msg) }
func Warn(fields Fields, msg string)  { global.Warn(fields, msg) }
func Panic(fields Fields, msg string) { global.Panic(fields, msg) }
func Fatal(fields Fields, msg string) { global.Fatal(fields, msg) }
