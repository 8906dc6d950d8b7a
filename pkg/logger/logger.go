// Package logger constructs the structured loggers used across blockvault.
// The engine, index and data file take a *zap.SugaredLogger in their Config
// structs and the server takes one in server.New; all of them log with
// field-structured calls (Infow/Errorw/Warnw), so the construction is
// centralized here rather than left to each package to configure zap
// independently. pkg/vaultclient does not log.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile *zap.SugaredLogger tagged with the given
// service name, which appears as a "service" field on every log line. It
// panics if the underlying zap configuration fails to build, matching zap's
// own convention for zap.NewProduction()-style constructors that are
// expected to succeed in any normal environment.
func New(service string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build()
	if err != nil {
		panic("logger: failed to build zap logger: " + err.Error())
	}

	return base.With(zap.String("service", service)).Sugar()
}

// NewDevelopment builds a human-readable, colorized logger suitable for local
// development and tests. It never returns an error; test callers can ignore
// the build failure path entirely.
func NewDevelopment(service string) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	base, err := cfg.Build()
	if err != nil {
		panic("logger: failed to build zap development logger: " + err.Error())
	}

	return base.With(zap.String("service", service)).Sugar()
}

// Noop returns a logger that discards all output, useful for tests that don't
// want to assert on or print log lines.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
