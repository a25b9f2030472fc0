// Package worktree owns filesystem-level worktree ownership tokens
// (spec §4.4): when a worktree is created, the registry records which
// session created it, so a foreign session can never delete work it
// doesn't own. The JSON-registry-plus-file-lock shape mirrors the
// teacher's own daemon registry.
package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/marcusquinn/aidevops-sub001/internal/procutil"
)

// Entry is one registered worktree's ownership token.
type Entry struct {
	Path      string    `json:"path"`
	TaskID    string    `json:"task_id"`
	Session   string    `json:"session"` // e.g. "pid:1234"
	Token     string    `json:"token"`
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the on-disk ownership table under
// ~/.aidevops/.agent-workspace/supervisor/worktree-registry.json.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// New opens the registry rooted at stateDir (normally
// ~/.aidevops/.agent-workspace/supervisor).
func New(stateDir string) (*Registry, error) {
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &Registry{
		path:     filepath.Join(stateDir, "worktree-registry.json"),
		lockPath: filepath.Join(stateDir, "worktree-registry.lock"),
	}, nil
}

func (r *Registry) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock := flock.New(r.lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring worktree registry lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

func (r *Registry) readLocked() ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupted registry is treated as empty instead of failing;
		// its entries are lost until worktrees are registered again.
		return []Entry{}, nil
	}
	return entries, nil
}

func (r *Registry) writeLocked(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, "worktree-registry-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp registry file: %w", err)
	}
	return nil
}

// Register records ownership of a newly created worktree, returning the
// token written so the caller can embed it in the task's metadata.
func (r *Registry) Register(path, taskID, session string, pid int) (string, error) {
	token := uuid.NewString()
	err := r.withLock(func() error {
		entries, err := r.readLocked()
		if err != nil {
			return err
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.Path != path {
				filtered = append(filtered, e)
			}
		}
		filtered = append(filtered, Entry{
			Path: path, TaskID: taskID, Session: session, Token: token, PID: pid, CreatedAt: time.Now().UTC(),
		})
		return r.writeLocked(filtered)
	})
	return token, err
}

// Unregister drops the ownership entry for path, irrespective of owner
// (used once cleanup has already been authorized).
func (r *Registry) Unregister(path string) error {
	return r.withLock(func() error {
		entries, err := r.readLocked()
		if err != nil {
			return err
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.Path != path {
				filtered = append(filtered, e)
			}
		}
		return r.writeLocked(filtered)
	})
}

// Lookup returns the ownership entry for path, or nil if unregistered.
func (r *Registry) Lookup(path string) (*Entry, error) {
	var found *Entry
	err := r.withLock(func() error {
		entries, err := r.readLocked()
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].Path == path {
				e := entries[i]
				found = &e
				return nil
			}
		}
		return nil
	})
	return found, err
}

// CanCleanup reports whether callerSession may remove path. Per spec
// §4.4: a missing registry row is treated as "no owner" (safe to
// remove); a row owned by a dead session is also safe; only a row
// belonging to a still-alive, *different* session refuses cleanup.
func (r *Registry) CanCleanup(path, callerSession string) (bool, error) {
	entry, err := r.Lookup(path)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return true, nil
	}
	if entry.Session == callerSession {
		return true, nil
	}
	if !procutil.IsAlive(entry.PID) {
		return true, nil
	}
	return false, nil
}

// Cleanup removes path's ownership entry if CanCleanup authorizes it;
// otherwise it returns an error the caller should log and skip, never
// fail the pulse over (cleanup is always best-effort per spec §7).
func (r *Registry) Cleanup(path, callerSession string) error {
	ok, err := r.CanCleanup(path, callerSession)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("worktree %s is owned by a live foreign session, refusing cleanup", path)
	}
	return r.Unregister(path)
}

// Prune discards entries whose filesystem paths no longer exist.
func (r *Registry) Prune() (int, error) {
	removed := 0
	err := r.withLock(func() error {
		entries, err := r.readLocked()
		if err != nil {
			return err
		}
		kept := entries[:0]
		for _, e := range entries {
			if _, statErr := os.Stat(e.Path); statErr != nil {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if removed == 0 {
			return nil
		}
		return r.writeLocked(kept)
	})
	return removed, err
}

// List returns every registered entry, for `doctor` and `worktree list`.
func (r *Registry) List() ([]Entry, error) {
	var out []Entry
	err := r.withLock(func() error {
		entries, err := r.readLocked()
		if err != nil {
			return err
		}
		out = entries
		return nil
	})
	return out, err
}
