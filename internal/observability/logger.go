package observability

import (
	"strings"

	"go.uber.org/zap"
)

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// NewLogger creates a structured zap logger based on configuration.
// Unknown levels and formats fall back to info and JSON.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var config zap.Config
	switch strings.ToLower(cfg.Level) {
	case "debug":
		config = zap.NewDevelopmentConfig()
	default:
		config = zap.NewProductionConfig()
		config.Level = parseLogLevel(cfg.Level)
	}

	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		config.Encoding = "console"
	default:
		config.Encoding = "json"
	}

	switch strings.ToLower(cfg.Output) {
	case "stderr":
		config.OutputPaths = []string{"stderr"}
	case "stdout", "":
		config.OutputPaths = []string{"stdout"}
	default:
		config.OutputPaths = []string{cfg.Output}
	}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build()
}

// parseLogLevel parses the log level string.
func parseLogLevel(level string) zap.AtomicLevel {
	switch strings.ToLower(level) {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
