// Package logging builds the process-wide structured logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a production zap logger at the requested level. Empty and
// unrecognized levels fall back to info so a misconfigured process still logs.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "warning" {
		normalized = "warn"
	}
	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil || parsed < zapcore.DebugLevel || parsed > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return parsed
}
