// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a logger for the given level ("debug", "info", "warn",
// "error") and format. Format "json" gives the production encoder; anything
// else the development console encoder.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}

// Must is New for main packages; it falls back to a development logger
// when the configuration is invalid.
func Must(level, format string) *zap.Logger {
	logger, err := New(level, format)
	if err != nil {
		logger, _ = zap.NewDevelopment()
		logger.Warn("invalid log configuration, using development logger", zap.Error(err))
	}
	return logger
}
