// Package logger wraps log/slog for the WHAD host process. A process-wide
// default is configured once from the host configuration; long-lived
// components (devices, bridges, monitors, the API) derive child loggers
// carrying the name of the dongle or pipe they serve, so every line can be
// traced back to one piece of the pipeline.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger wraps *slog.Logger; all slog methods are available directly.
type Logger struct {
	*slog.Logger
}

// Config selects level, format and destination.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json"
	Output string // "stdout", "file"
	File   string // path, when Output is "file"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// New creates a Logger from config. A file destination that cannot be
// opened falls back to stdout with a note on stderr rather than failing
// the host start.
func New(config Config) *Logger {
	var w io.Writer = os.Stdout
	if strings.ToLower(config.Output) == "file" && config.File != "" {
		f, err := os.OpenFile(config.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v, falling back to stdout\n", err)
		} else {
			w = f
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(config.Level)}
	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithComponent returns a child logger tagged with the subsystem it serves
// (e.g. "host", "api", "api.ws").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// WithDevice returns a child logger tagged with a dongle's configured name.
func (l *Logger) WithDevice(name string) *Logger {
	return &Logger{Logger: l.Logger.With("device", name)}
}

// WithBridge returns a child logger tagged with a bridge's identifier.
func (l *Logger) WithBridge(id string) *Logger {
	return &Logger{Logger: l.Logger.With("bridge", id)}
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// Global returns the process-wide logger, creating an info-level text
// logger on first use if SetGlobal was never called.
func Global() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = New(Config{Level: "info", Format: "text"})
	}
	return globalLogger
}

// SetGlobal installs the process-wide logger, normally once at startup
// after the host configuration is loaded.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}
