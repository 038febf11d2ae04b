// Package observability provides logging and metrics for the collaboration server.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Prasannaverse13/ArtChainCollective/internal/config"
)

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Stroke traffic can log at high rates; keep the sampler but widen it.
	if zapCfg.Sampling != nil {
		zapCfg.Sampling.Initial = 200
		zapCfg.Sampling.Thereafter = 200
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// SessionFields returns the fields that scope a session's logger.
//
// Postcondition: remote_addr is omitted when remoteAddr is empty.
func SessionFields(sessionID, remoteAddr string) []zap.Field {
	fields := []zap.Field{zap.String("session_id", sessionID)}
	if remoteAddr != "" {
		fields = append(fields, zap.String("remote_addr", remoteAddr))
	}
	return fields
}
