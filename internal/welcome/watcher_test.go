package welcome

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.yaml")
	if err := os.WriteFile(path, []byte("- content: one\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan []Step, 4)
	w, err := NewWatcher(path, func(s []Step) { reloaded <- s }, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("- content: one\n- content: two\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case steps := <-reloaded:
		if len(steps) != 2 || steps[1].Content != "two" {
			t.Errorf("reloaded steps = %+v", steps)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestWatcherIgnoresOtherFilesAndBadContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "steps.yaml")
	if err := os.WriteFile(path, []byte("- content: one\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan []Step, 4)
	w, err := NewWatcher(path, func(s []Step) { reloaded <- s }, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("- content: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("- content: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case steps := <-reloaded:
		t.Errorf("unexpected reload with %+v", steps)
	case <-time.After(3 * reloadDebounce):
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
