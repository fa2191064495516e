package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := levelFromString(in).Level(); got != want {
			t.Errorf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "ride-server", "info")
	l.Debug("hidden")
	l.Info("ride started", "ride_id", "r1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "ride-server" || rec["ride_id"] != "r1" || rec["msg"] != "ride started" {
		t.Fatalf("record = %v", rec)
	}
}
