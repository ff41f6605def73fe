package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global JSON logger on stdout.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level string) {
	Configure(level, "json", os.Stdout)
}

// Configure initializes the global logger with an explicit format ("json" or
// "text") and writer. Only the first call of Setup or Configure takes effect.
func Configure(level, format string, w io.Writer) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}
		var handler slog.Handler
		if strings.EqualFold(format, "text") {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a config level name to a slog level, INFO when unknown.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithModule returns a logger with the module field set.
func WithModule(name string) *slog.Logger {
	return Get().With(slog.String("module", name))
}

// WithBehaviour returns a logger with the behaviour field set.
func WithBehaviour(name string) *slog.Logger {
	return Get().With(slog.String("behaviour", name))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
