package config

import (
	"fmt"

	"go.uber.org/zap"
)

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// NewLogger builds the process logger
func (l LogConfig) NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}

	if l.Level != "" {
		level, err := zap.ParseAtomicLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
		}
		cfg.Level = level
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
