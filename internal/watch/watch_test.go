package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPollingModeDetectsChange(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "todo"), 0o750); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	todoPath := filepath.Join(dir, "todo", "TODO.md")
	if err := os.WriteFile(todoPath, []byte("# todo\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fired := make(chan struct{}, 1)
	w, err := New(dir, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.pollingMode = true
	w.pollInterval = 20 * time.Millisecond

	stop := make(chan struct{})
	go w.Run(stop)
	defer close(stop)

	time.Sleep(10 * time.Millisecond)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(todoPath, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected onChanged to fire after TODO.md mtime advanced")
	}
}
