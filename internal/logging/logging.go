// Package logging builds the loggers used by the evidence tooling.
package logging

import (
	"go.uber.org/zap"
)

// New creates a new [*zap.Logger].
// Development loggers are human readable and include stack traces on warnings.
func New(dev bool) (*zap.Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = true // Disable stacktraces in production
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log, nil
}

// OrNop returns log, or a no-op logger if log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
