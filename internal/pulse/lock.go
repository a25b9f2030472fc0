package pulse

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marcusquinn/aidevops-sub001/internal/procutil"
)

// DefaultStaleTimeout is the pulse lock's default staleness threshold
// (spec §5: "10 min stale threshold").
const DefaultStaleTimeout = 10 * time.Minute

// Lock is the pulse's mutual-exclusion primitive: a directory created
// atomically via Mkdir, with a sidecar "pid" file recording the owner.
type Lock struct {
	path         string
	staleTimeout time.Duration
	pid          int
}

// NewLock builds a Lock rooted at dir/pulse.lock.
func NewLock(dir string, staleTimeout time.Duration) *Lock {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &Lock{path: filepath.Join(dir, "pulse.lock"), staleTimeout: staleTimeout, pid: os.Getpid()}
}

// Acquire implements the lock's atomic-mkdir-plus-staleness-breaker
// protocol. It returns (true, nil) when the lock is held, (false, nil)
// when another live pulse holds it, and a non-nil error only on an
// unexpected filesystem failure.
func (l *Lock) Acquire() (bool, error) {
	if err := os.Mkdir(l.path, 0o750); err == nil {
		return true, l.writePID()
	} else if !os.IsExist(err) {
		return false, fmt.Errorf("creating pulse lock: %w", err)
	}

	stale, err := l.isStale()
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}

	if err := l.breakStaleLock(); err != nil {
		return false, err
	}

	if err := os.Mkdir(l.path, 0o750); err != nil {
		if os.IsExist(err) {
			// lost the race to another breaker; that's fine, they own it now
			return false, nil
		}
		return false, fmt.Errorf("recreating pulse lock after breaking stale one: %w", err)
	}
	return true, l.writePID()
}

func (l *Lock) writePID() error {
	return os.WriteFile(filepath.Join(l.path, "pid"), []byte(strconv.Itoa(l.pid)), 0o644)
}

func (l *Lock) ownerPID() (int, bool) {
	data, err := os.ReadFile(filepath.Join(l.path, "pid"))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func (l *Lock) isStale() (bool, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil // raced with a concurrent release; not ours to break
		}
		return false, fmt.Errorf("stat pulse lock: %w", err)
	}

	if pid, ok := l.ownerPID(); ok && !procutil.IsAlive(pid) {
		return true, nil
	}
	return time.Since(info.ModTime()) > l.staleTimeout, nil
}

// breakStaleLock renames the stale lock directory aside before
// removing it. Rename-then-remove matters: two breakers racing a bare
// `rm -rf` + `mkdir` could both succeed the mkdir and believe they hold
// the lock (spec §5).
func (l *Lock) breakStaleLock() error {
	sidecar := fmt.Sprintf("%s.stale.%d.%d", l.path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(l.path, sidecar); err != nil {
		if os.IsNotExist(err) {
			return nil // another breaker already moved it
		}
		return fmt.Errorf("renaming stale pulse lock: %w", err)
	}
	return os.RemoveAll(sidecar)
}

// Release removes the lock directory, but only if it is still owned by
// this process's PID, making release idempotent and safe to call even
// after a lock has already been broken by a staleness recovery.
func (l *Lock) Release() error {
	pid, ok := l.ownerPID()
	if !ok || pid != l.pid {
		return nil
	}
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("releasing pulse lock: %w", err)
	}
	return nil
}
