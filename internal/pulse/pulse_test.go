package pulse

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcusquinn/aidevops-sub001/internal/storage/sqlite"
)

func TestRunWithNoCollaboratorsIsANoOp(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "supervisor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := &Supervisor{Store: store, StateDir: dir}
	ps, err := s.Run(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ps == nil {
		t.Fatal("expected a PulseState from a successful lock acquisition")
	}
	if len(ps.Errors) != 0 {
		t.Fatalf("expected no phase errors with empty store, got %v", ps.Errors)
	}
}

func TestRunRefusesConcurrentPulse(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "supervisor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	lock := NewLock(dir, time.Minute)
	if ok, err := lock.Acquire(); err != nil || !ok {
		t.Fatalf("priming Acquire: ok=%v err=%v", ok, err)
	}
	defer lock.Release()

	s := &Supervisor{Store: store, StateDir: dir}
	ps, err := s.Run(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ps != nil {
		t.Fatal("expected Run to observe the lock held by another pulse and return nil")
	}
}
