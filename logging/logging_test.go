package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/mars/config"
)

func TestNewJSONUsesTsKey(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.Logging{Level: "debug", Format: "json"})
	l.Debug("hello", "tool", "search_cwd")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	if _, ok := rec["ts"]; !ok {
		t.Errorf("expected ts key, got %v", rec)
	}
	if rec["tool"] != "search_cwd" {
		t.Errorf("expected tool attr, got %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.Logging{Level: "warn"})
	l.Info("dropped")
	l.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	l := Discard()
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("logger not recovered from context")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected default logger")
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mars.log")
	l, closer, err := Open(config.Logging{File: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer closer.Close()
	l.Info("written")
}
