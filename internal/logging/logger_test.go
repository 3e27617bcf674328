package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in directory", func(t *testing.T) {
		dir := t.TempDir()
		logger, err := NewLogger(Options{Dir: dir, Level: LevelDebug, Rotation: DefaultRotationConfig()})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Errorf("log file was not created: %v", err)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger(Options{Level: LevelInfo})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close on stderr logger returned %v", err)
		}
	})
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarn, 2},
		{LevelError, 1},
		{"bogus", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			if got := len(decodeLines(t, buf.Bytes())); got != tt.want {
				t.Errorf("level %s: got %d lines, want %d", tt.level, got, tt.want)
			}
		})
	}
}

func TestPersistentAttributes(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, LevelDebug)
	child := root.WithRun("run-1").WithLoop("active").With("record_id", "rec9")

	child.Info("processing", "step", 2)
	root.Info("plain")

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	first := lines[0]
	for key, want := range map[string]any{"run_id": "run-1", "loop": "active", "record_id": "rec9", "step": float64(2)} {
		if first[key] != want {
			t.Errorf("%s = %v, want %v", key, first[key], want)
		}
	}
	if _, ok := lines[1]["run_id"]; ok {
		t.Error("parent logger must not inherit child attributes")
	}
}

func TestObserve(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	var mu sync.Mutex
	var got []Record
	logger.Observe(func(r Record) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})

	logger.WithLoop("passive").Warn("scan failed", "error", "boom")
	logger.Debug("filtered out")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("observer saw %d records, want 1", len(got))
	}
	if got[0].Level != "WARN" || got[0].Message != "scan failed" {
		t.Errorf("unexpected record %+v", got[0])
	}
	if got[0].Attrs["loop"] != "passive" || got[0].Attrs["error"] != "boom" {
		t.Errorf("attrs = %v", got[0].Attrs)
	}
	if got[0].Time.IsZero() {
		t.Error("record time not set")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": LevelDebug,
		"WARN":  LevelWarn,
		"Error": LevelError,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("ignored")
	if err := logger.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}
