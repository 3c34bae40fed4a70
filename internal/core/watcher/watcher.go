// Package watcher re-triggers analysis when snapshot files change on disk.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"racewatch/internal/shared/observability"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultPattern selects snapshot files inside watched directories.
const DefaultPattern = "*.json"

// Watcher watches snapshot files and the directories that hold them. Files
// are tracked through their parent directory so atomic rename-into-place
// writes are seen.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	patterns  []glob.Glob
	// targets are individual files; dirs are directories whose matching
	// files all count.
	targets    map[string]bool
	dirs       map[string]bool
	onChange   func([]string)
	callbackMu sync.Mutex

	pending   map[string]time.Time
	pendingMu sync.Mutex
	timer     *time.Timer
	closeOnce sync.Once
}

// NewWatcher builds a watcher. patterns are base-name globs applied to files
// inside watched directories; empty means DefaultPattern.
func NewWatcher(debounce time.Duration, patterns []string, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, os.ErrInvalid
	}
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern}
	}
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsw,
		debounce:  debounce,
		patterns:  compiled,
		targets:   make(map[string]bool),
		dirs:      make(map[string]bool),
		onChange:  onChange,
		pending:   make(map[string]time.Time),
	}, nil
}

func (w *Watcher) SetDebounce(debounce time.Duration) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.debounce = debounce
}

// Watch registers paths and starts the event loop. A path may be a snapshot
// file (which need not exist yet) or a directory.
func (w *Watcher) Watch(paths []string) error {
	added := make(map[string]bool)
	for _, raw := range paths {
		path, err := filepath.Abs(raw)
		if err != nil {
			return err
		}
		dir := path
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.dirs[path] = true
		} else {
			w.targets[path] = true
			dir = filepath.Dir(path)
		}
		if added[dir] {
			continue
		}
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watch %q: %w", dir, err)
		}
		added[dir] = true
	}

	go w.run()
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			if !w.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.scheduleChange(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	path, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.targets[path] {
		return true
	}
	if !w.dirs[filepath.Dir(path)] {
		return false
	}
	base := filepath.Base(path)
	for _, g := range w.patterns {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = time.Now()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flushChanges)
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]time.Time)
	w.pendingMu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.onChange(paths)
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.pendingMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pendingMu.Unlock()
		err = w.fsWatcher.Close()
	})
	return err
}
