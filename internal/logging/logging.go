// Package logging builds the service's structured logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON logger every component shares. Each entry carries
// a "service" field so logs from the chat node can be told apart downstream.
func NewLogger(service, level string) (*zap.Logger, error) {
	cfg, err := config(service, level)
	if err != nil {
		return nil, err
	}
	return cfg.Build()
}

func config(service, level string) (zap.Config, error) {
	var lvl zapcore.Level
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		return zap.Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "msg"
	// connection churn logs at debug; sampling would hide per-conn traces
	if lvl == zapcore.DebugLevel {
		cfg.Sampling = nil
	}
	if service != "" {
		cfg.InitialFields = map[string]any{"service": service}
	}
	return cfg, nil
}
