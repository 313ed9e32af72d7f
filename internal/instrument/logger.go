// Package instrument builds the process logger and the Prometheus metrics
// the engine reports to.
package instrument

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"entityflow/internal/config"
)

// NewLogger builds a JSON production logger, or a console logger in
// development mode, at the configured level.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
