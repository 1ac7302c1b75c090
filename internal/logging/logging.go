// Package logging builds the slog loggers used across ksched.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/me/ksched/pkg/model"
)

// NewLogger creates a configured slog.Logger.
//
// level: slog level (DEBUG, INFO, WARN, ERROR)
// format: "text" (human-readable) or "json" (structured)
//
// Output goes to stderr; stdout carries the simulated program's output.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to the given writer.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// EventAttrs returns the attributes of a scheduler trace event.
func EventAttrs(ev model.Event) []any {
	attrs := []any{
		"seq", ev.Seq,
		"tick", ev.Tick,
		"kind", string(ev.Kind),
		"tid", int(ev.TID),
		"thread", ev.Name,
		"priority", ev.Priority,
	}
	if ev.Detail != "" {
		attrs = append(attrs, "detail", ev.Detail)
	}
	return attrs
}

// EventLogger writes every trace event it receives to a logger at Debug.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an EventLogger with the "trace" component.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	return &EventLogger{logger: logger.With("component", "trace")}
}

// Trace logs ev.
func (l *EventLogger) Trace(ev model.Event) {
	l.logger.Debug("event", EventAttrs(ev)...)
}
