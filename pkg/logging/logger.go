package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config defines the configuration for structured logging.
type Config struct {
	Level     string // "DEBUG", "INFO", "WARN" or "ERROR"
	Format    string // "json" or "text"
	AddSource bool
}

// ParseLevel maps a textual level to slog.Level. ok is false for unknown input.
func ParseLevel(v string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// InitLogger builds a logger writing to w (stderr when nil) and installs it as the slog default.
func InitLogger(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, levelOK := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	formatOK := true
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
		formatOK = false
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	if !levelOK {
		logger.Warn("invalid log level specified, defaulting to INFO", "specified_level", cfg.Level)
	}
	if !formatOK {
		logger.Warn("invalid log format specified, defaulting to text", "specified_format", cfg.Format)
	}
	return logger
}

// NewComponentLogger creates a component-specific logger with context.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(
		slog.String("component", component),
	)
}
