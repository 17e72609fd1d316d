// Package logging provides the structured logger used across go-settings.
//
// Components accept the small Logger interface, which *slog.Logger satisfies,
// and fall back to a no-op logger when none is configured.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface used by go-settings components. Arguments
// after msg are slog-style key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return logger
}

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "text" or "json". Defaults to text.
	Format string
	// File enables rotating file output when set.
	File string
	// MaxSizeMB is the size of a log file before rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
	// MaxAgeDays is the number of days to keep rotated files.
	MaxAgeDays int
	// Console also writes to stderr when File is set.
	Console bool
}

// ParseLevel converts a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a *slog.Logger from cfg. The returned closer releases the log
// file, if any.
func New(cfg Config) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    defaultInt(cfg.MaxSizeMB, 10),
			MaxBackups: defaultInt(cfg.MaxBackups, 3),
			MaxAge:     defaultInt(cfg.MaxAgeDays, 7),
		}
		out = rotating
		closer = rotating
		if cfg.Console {
			out = io.MultiWriter(rotating, os.Stderr)
		}
	}
	return NewWithWriter(out, cfg), closer
}

// NewWithWriter builds a *slog.Logger writing to w.
func NewWithWriter(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func defaultInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
