package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/me/ksched/pkg/model"
)

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"msg=\"thread created\"", "tid=3"}},
		{"json", []string{`"msg":"thread created"`, `"tid":3`}},
		{"JSON", []string{`"msg":"thread created"`}},
		{"", []string{"tid=3"}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(slog.LevelInfo, tt.format, &buf)
		logger.Info("thread created", "tid", 3)
		for _, w := range tt.want {
			if !strings.Contains(buf.String(), w) {
				t.Errorf("format %q: output %q missing %q", tt.format, buf.String(), w)
			}
		}
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(slog.LevelWarn, "text", &buf)

	logger.Info("should not appear")
	logger.Warn("killing thread")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Errorf("INFO message should be filtered at WARN level, got: %s", output)
	}
	if !strings.Contains(output, "killing thread") {
		t.Errorf("WARN message should appear at WARN level, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLogger(NewLoggerWithWriter(slog.LevelDebug, "text", &buf))
	el.Trace(model.Event{Seq: 7, Tick: 12, Kind: model.EventDonate, TID: 2, Name: "main", Priority: 40, Detail: "from high via a"})

	for _, want := range []string{"component=trace", "kind=donate", "tick=12", "thread=main", `detail="from high via a"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output %q missing %q", buf.String(), want)
		}
	}
}

func TestEventAttrs_OmitsEmptyDetail(t *testing.T) {
	attrs := EventAttrs(model.Event{Kind: model.EventYield})
	for i := 0; i < len(attrs); i += 2 {
		if attrs[i] == "detail" {
			t.Errorf("attrs contain detail: %v", attrs)
		}
	}
}
