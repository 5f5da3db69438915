// Package logging builds the suite's zerolog logger: a console or JSON
// writer on stderr plus an optional rotating file.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/v0xg/astarcheck/internal/config"
)

// New builds a logger that writes to stderr and, if configured, to a file.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger whose console output goes to w.
func NewWithWriter(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	writers := []io.Writer{consoleWriter(cfg.Format, w)}
	if cfg.File != "" {
		writers = append(writers, fileWriter(cfg))
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// ParseLevel maps the suite's level names to zerolog levels; unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

func consoleWriter(format string, w io.Writer) io.Writer {
	if strings.EqualFold(format, "json") {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

func fileWriter(cfg config.LogConfig) io.Writer {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	// file output is always JSON
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
}
