package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newBufLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestKeysRedacted(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{})
	h.SweepEntryFailed("!!users|secret-id", errors.New("bad mode"))

	out := buf.String()
	if strings.Contains(out, "secret-id") {
		t.Fatalf("key leaked: %s", out)
	}
	if !strings.Contains(out, "gcache.sweep_entry_failed") {
		t.Fatalf("missing event: %s", out)
	}
}

func TestCustomRedact(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{Redact: func(string) string { return "XX" }})
	h.AsyncFailed("incr", "k", errors.New("down"))
	if !strings.Contains(buf.String(), "key=XX") {
		t.Fatalf("custom redactor not used: %s", buf.String())
	}
}

func TestSampling(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{ExpiredReadEvery: 10})
	for i := 0; i < 100; i++ {
		h.ExpiredRead("k")
	}
	if n := strings.Count(buf.String(), "gcache.expired_read"); n != 10 {
		t.Fatalf("logged %d, want 10", n)
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.SweepCompleted(1, 2, time.Second)
	h.PoolRefillFailed(errors.New("x"))
	h.RetryAttempt("get", 1, errors.New("x"))
}
