// Package logging builds the process logger and shared zap field helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const bytesPerMB = 1024 * 1024

// Options selects the encoder and minimum level.
type Options struct {
	// Development switches to the colored console encoder with debug output.
	Development bool
	// Level overrides the encoder's default level when set.
	Level string
}

// New builds the logger. Development loggers write colored console lines to
// stderr; production loggers write JSON with stack traces on errors.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = level
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// MB converts a byte count to mebibytes.
func MB(bytes uint64) float64 {
	return float64(bytes) / bytesPerMB
}

// Memory renders a byte count as a megabyte field rounded to two decimals.
func Memory(key string, bytes uint64) zap.Field {
	return zap.Float64(key, float64(int64(MB(bytes)*100+0.5))/100)
}
