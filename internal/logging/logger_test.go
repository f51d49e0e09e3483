package logging

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(InfoLevel, &buf).With(String("component", "world"))
	logger.Info("contact", Uint64("tick", 42), Float64("speed", 1.5), Vec("normal", [3]float64{0, 1, 0}))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry["message"] != "contact" || entry["level"] != "info" || entry["service"] != "mover" {
		t.Fatalf("unexpected envelope %v", entry)
	}
	if entry["component"] != "world" || entry["tick"] != float64(42) || entry["speed"] != 1.5 {
		t.Fatalf("unexpected fields %v", entry)
	}
	if normal, ok := entry["normal"].([]any); !ok || len(normal) != 3 || normal[1] != float64(1) {
		t.Fatalf("unexpected vector field %v", entry["normal"])
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(WarnLevel, &buf)
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")
	if entries := decodeLines(t, &buf); len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if logger.Enabled(InfoLevel) || !logger.Enabled(ErrorLevel) {
		t.Fatal("unexpected Enabled result")
	}
}

func TestLoggerSurvivesNonFiniteValues(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(DebugLevel, &buf).Warn("poisoned", Float64("distance", math.NaN()))
	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["encode_error"] == nil || entries[0]["message"] != "poisoned" {
		t.Fatalf("expected fallback entry, got %v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DebugLevel, "": InfoLevel, " WARNING ": WarnLevel, "error": ErrorLevel}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected unknown level to fail")
	}
}
