// Package logger builds the structured zap loggers used throughout the
// engine. Every subsystem receives a *zap.SugaredLogger scoped to its own
// service name so log lines can be filtered by component in production.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap.SugaredLogger tagged with the given service
// name. It writes JSON-encoded entries to stderr at info level and above,
// with ISO8601 timestamps and the service name as the logger name (the
// "logger" field) on every line.
func New(service string) *zap.SugaredLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(zapcore.InfoLevel),
	)

	base := zap.New(core, zap.AddCaller()).Named(service)
	return base.Sugar()
}

// NewDevelopment builds a human-readable, colorized logger suitable for
// local development and tests, at debug level.
func NewDevelopment(service string) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	base, err := cfg.Build()
	if err != nil {
		// Development config construction cannot fail for the fixed
		// options above; fall back to a no-op logger rather than panic.
		return zap.NewNop().Sugar().Named(service)
	}

	return base.Named(service).Sugar()
}

// Nop returns a logger that discards everything, used in tests that assert
// on behavior rather than log output.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
