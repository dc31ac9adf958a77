// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is attached to every log line so shipped logs can be filtered.
const Service = "catalog-crawler"

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	logger, err := buildConfig(development).Build(zap.Fields(zap.String("service", Service)))
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

func buildConfig(development bool) zap.Config {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		// Per-identifier lines are never sampled.
		cfg.Sampling = nil
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg
}
