package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the level and encoding of the application logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // "console" or "json"
}

// Logger provides leveled, printf-style logging throughout the application.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a Logger writing to stdout/stderr. Unknown levels fall back to info.
func NewLogger(cfg LogConfig) *Logger {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format != "json" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		zapCfg.DisableStacktrace = true
	}
	zapCfg.DisableCaller = true

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapCfg.Level = level

	base, err := zapCfg.Build()
	if err != nil {
		base = zap.NewExample()
	}
	return FromZap(base)
}

// FromZap wraps an existing zap logger.
func FromZap(base *zap.Logger) *Logger {
	return &Logger{sugar: base.Sugar()}
}

// NewNopLogger returns a Logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return FromZap(zap.NewNop())
}

// With returns a child Logger that attaches key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Info(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
