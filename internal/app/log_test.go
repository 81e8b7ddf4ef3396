package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSessionHandler_Handle(t *testing.T) {
	ts := time.Date(2025, 3, 10, 9, 15, 30, 0, time.UTC)

	tests := []struct {
		name      string
		sessionID string
		level     slog.Level
		message   string
		attrs     []slog.Attr
		want      string
	}{
		{
			name:      "basic info message",
			sessionID: "20250310T091530Z",
			level:     slog.LevelInfo,
			message:   "draft saved",
			want:      "2025-03-10T09:15:30Z\tINFO\t20250310T091530Z\tdraft saved\n",
		},
		{
			name:      "debug level",
			sessionID: "s-2",
			level:     slog.LevelDebug,
			message:   "lock acquired",
			want:      "2025-03-10T09:15:30Z\tDEBUG\ts-2\tlock acquired\n",
		},
		{
			name:      "with record attrs",
			sessionID: "s-3",
			level:     slog.LevelWarn,
			message:   "queue replay failed",
			attrs:     []slog.Attr{slog.String("draft_id", "d1"), slog.Int("attempts", 2)},
			want:      "2025-03-10T09:15:30Z\tWARN\ts-3\tqueue replay failed\tdraft_id=d1\tattempts=2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &sessionHandler{w: &buf, sessionID: tt.sessionID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestSessionHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &sessionHandler{w: &buf, sessionID: "s-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "engine")}).(*sessionHandler)

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "push", 0)
	r.AddAttrs(slog.String("draft_id", "d1"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=engine") {
		t.Errorf("expected pre-set attr component=engine, got: %q", got)
	}
	if !strings.Contains(got, "draft_id=d1") {
		t.Errorf("expected record attr draft_id=d1, got: %q", got)
	}
}

func TestSessionHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &sessionHandler{w: &buf, sessionID: "s-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*sessionHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-session")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	if logger == nil {
		t.Fatal("newLogger() returned nil logger")
	}
	if f == nil {
		t.Fatal("newLogger() returned nil file")
	}
}
