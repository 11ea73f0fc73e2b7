package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given level.
// Valid levels: debug, info, warn, error. Anything else falls back to info.
// Debug switches to the human-readable development encoder.
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || level == "" {
		lvl = zapcore.InfoLevel
	}

	if lvl == zapcore.DebugLevel {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "message"
	return cfg.Build()
}

// Printf adapts a zap logger to printf-style hooks such as kafka.LoggerFunc.
func Printf(l *zap.Logger) func(string, ...interface{}) {
	s := l.Sugar()
	return func(format string, args ...interface{}) {
		s.Debugf(format, args...)
	}
}

// ErrorPrintf is Printf at error level.
func ErrorPrintf(l *zap.Logger) func(string, ...interface{}) {
	s := l.Sugar()
	return func(format string, args ...interface{}) {
		s.Errorf(format, args...)
	}
}
