// Package logger provides the process-wide structured logger. The engine
// emits JSON to stderr by default; level, format and destination come from
// the logging configuration section.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options configures the logger. Zero values select info-level JSON on stderr.
type Options struct {
	Level    string // debug, info, warn, error
	Format   string // json or text
	Output   string // stderr, stdout or file
	FilePath string // used when Output is file
}

var (
	defaultLogger *slog.Logger
	once          sync.Once
)

// Init initializes the default logger once; later calls are no-ops.
func Init(opts Options) {
	once.Do(func() {
		defaultLogger = build(opts)
		slog.SetDefault(defaultLogger)
	})
}

// Get returns the initialized default logger, initializing it with defaults
// if Init was never called.
func Get() *slog.Logger {
	Init(Options{})
	return defaultLogger
}

func build(opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var out io.Writer
	switch opts.Output {
	case "stdout":
		out = os.Stdout
	case "file":
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			out = os.Stderr
		} else {
			out = f
		}
	default:
		out = os.Stderr
	}

	if strings.EqualFold(opts.Format, "text") {
		return slog.New(slog.NewTextHandler(out, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(out, handlerOpts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Info logs an informational message using the default logger.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, args...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}
