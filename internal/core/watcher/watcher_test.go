package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForChange(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case paths := <-ch:
		return paths
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change notification")
		return nil
	}
}

func contains(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}

func TestNewWatcher_RejectsNilCallback(t *testing.T) {
	w, err := NewWatcher(100*time.Millisecond, nil, nil)
	if !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("expected os.ErrInvalid, got %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher when callback is invalid")
	}
}

func TestNewWatcher_RejectsBadPattern(t *testing.T) {
	if _, err := NewWatcher(time.Millisecond, []string{"[unclosed"}, func([]string) {}); err == nil {
		t.Fatal("expected error for invalid glob")
	}
}

func TestWatcher_SnapshotFile(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "shop.json")
	other := filepath.Join(dir, "other.json")

	changed := make(chan []string, 4)
	w, err := NewWatcher(50*time.Millisecond, nil, func(paths []string) { changed <- paths })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch([]string{snapshot}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(other, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(snapshot, []byte(`{"atoms":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	paths := waitForChange(t, changed)
	if !contains(paths, snapshot) {
		t.Fatalf("expected %s in %v", snapshot, paths)
	}
	if contains(paths, other) {
		t.Fatalf("unrelated file reported: %v", paths)
	}
}

func TestWatcher_RenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "shop.json")
	if err := os.WriteFile(snapshot, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan []string, 4)
	w, err := NewWatcher(50*time.Millisecond, nil, func(paths []string) { changed <- paths })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch([]string{snapshot}); err != nil {
		t.Fatal(err)
	}

	tmp := filepath.Join(dir, ".shop.json.tmp")
	if err := os.WriteFile(tmp, []byte(`{"atoms":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, snapshot); err != nil {
		t.Fatal(err)
	}

	if paths := waitForChange(t, changed); !contains(paths, snapshot) {
		t.Fatalf("expected %s in %v", snapshot, paths)
	}
}

func TestWatcher_DirectoryPatterns(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan []string, 4)
	w, err := NewWatcher(50*time.Millisecond, []string{"*.graph.json"}, func(paths []string) { changed <- paths })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch([]string{dir}); err != nil {
		t.Fatal(err)
	}

	skipped := filepath.Join(dir, "notes.json")
	matched := filepath.Join(dir, "api.graph.json")
	if err := os.WriteFile(skipped, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(matched, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	paths := waitForChange(t, changed)
	if !contains(paths, matched) || contains(paths, skipped) {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher(time.Millisecond, nil, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
