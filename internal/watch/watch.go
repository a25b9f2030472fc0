// Package watch debounces filesystem events on todo/TODO.md so a
// long-running supervisor can trigger a pulse on change instead of
// polling on a fixed interval. Falls back to polling when fsnotify
// cannot be set up (generalized from the teacher's FileWatcher in
// cmd/bd/daemon_watcher.go, which does the same for its JSONL store
// and git refs).
package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TODOWatcher notifies onChanged (debounced) when todo/TODO.md changes.
type TODOWatcher struct {
	watcher      *fsnotify.Watcher
	todoPath     string
	parentDir    string
	pollingMode  bool
	pollInterval time.Duration
	lastModTime  time.Time

	onChanged func()

	mu        sync.Mutex
	timer     *time.Timer
	debounce  time.Duration
	cancelled chan struct{}
}

// New sets up a watcher for repoRoot/todo/TODO.md. Set
// AIDEVOPS_WATCHER_FALLBACK=false to make a failed fsnotify.NewWatcher
// a hard error instead of falling back to polling.
func New(repoRoot string, onChanged func()) (*TODOWatcher, error) {
	todoPath := filepath.Join(repoRoot, "todo", "TODO.md")
	w := &TODOWatcher{
		todoPath:     todoPath,
		parentDir:    filepath.Dir(todoPath),
		pollInterval: 5 * time.Second,
		onChanged:    onChanged,
		debounce:     500 * time.Millisecond,
		cancelled:    make(chan struct{}),
	}

	if stat, err := os.Stat(todoPath); err == nil {
		w.lastModTime = stat.ModTime()
	}

	fallbackDisabled := os.Getenv("AIDEVOPS_WATCHER_FALLBACK") == "false"

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if fallbackDisabled {
			return nil, err
		}
		w.pollingMode = true
		return w, nil
	}
	if err := watcher.Add(w.parentDir); err != nil {
		_ = watcher.Close()
		if fallbackDisabled {
			return nil, err
		}
		w.pollingMode = true
		return w, nil
	}
	w.watcher = watcher
	return w, nil
}

// SetPollInterval overrides the default polling interval used when
// operating in fallback (non-fsnotify) mode.
func (w *TODOWatcher) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

// Run blocks until stop is closed, firing onChanged (debounced) on
// every detected change to todo/TODO.md.
func (w *TODOWatcher) Run(stop <-chan struct{}) {
	if w.pollingMode {
		w.runPolling(stop)
		return
	}
	defer w.watcher.Close()
	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name == w.todoPath {
				w.scheduleDebounced()
			}
		case <-w.watcher.Errors:
			// best-effort: a watch error never stops the supervisor
		}
	}
}

func (w *TODOWatcher) runPolling(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stat, err := os.Stat(w.todoPath)
			if err != nil {
				continue
			}
			if stat.ModTime().After(w.lastModTime) {
				w.lastModTime = stat.ModTime()
				w.onChanged()
			}
		}
	}
}

func (w *TODOWatcher) scheduleDebounced() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChanged)
}
