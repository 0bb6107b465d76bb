package observe

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogLoggerFlattensFields(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	l := NewSlogLogger(slog.New(handler))

	l.Info("bridge event", F("key", "count"), F("source", "ctx-b"))
	out := buf.String()
	if !strings.Contains(out, "msg=\"bridge event\"") {
		t.Fatalf("missing message: %s", out)
	}
	if !strings.Contains(out, "key=count") || !strings.Contains(out, "source=ctx-b") {
		t.Fatalf("missing fields: %s", out)
	}
}

func TestSlogLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	l := NewSlogLogger(slog.New(handler))

	l.Debug("dropped")
	l.Info("dropped too")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}
