package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log is the global logger instance
var Log *slog.Logger

// level is the dynamic log level, changeable at runtime via SetLevel.
var level slog.LevelVar

// Init initializes the global logger with the specified level and format.
// Valid formats: text (default), json, journal. The journal format falls
// back to text when the systemd journal socket is not present.
func Init(levelStr, format string) {
	SetLevel(levelStr)
	Log = slog.New(newHandler(os.Stdout, format))
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: &level}
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "journal":
		if JournalAvailable() {
			return newJournalHandler()
		}
	}
	return slog.NewTextHandler(w, opts)
}

// SetLevel changes the log level at runtime. Valid values: debug, info, warn, error.
// Invalid values fall back to info.
func SetLevel(levelStr string) {
	level.Set(ParseLevel(levelStr))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
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

// Level returns the current log level.
func Level() slog.Level {
	return level.Level()
}

// With returns a child of the global logger carrying the given attributes.
// It falls back to a discarding logger before Init so library code never
// has to nil-check.
func With(args ...any) *slog.Logger {
	if Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil)).With(args...)
	}
	return Log.With(args...)
}

// Module returns a child logger tagged with module=name.
func Module(name string) *slog.Logger {
	return With("module", name)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

// Info logs an info message
func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

// Error logs an error message
func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}
