// Package procutil manages worker subprocess lifetimes: liveness checks,
// process-group signalling, and the graceful two-phase hang shutdown
// (spec §5). Every PID the pulse acts on was written by the dispatcher
// into pids/<task_id>.pid and is considered pulse-owned (spec §9).
package procutil

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// IsAlive reports whether pid names a live process. Signal 0 performs no
// action but still validates existence/permission, the standard Unix
// liveness probe.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, unix.ESRCH)
}

// KillGroup sends sig to the process group rooted at pid (negative PID
// convention), so descendants spawned by a worker's wrapper script die
// with it. ESRCH (already gone) is not an error.
func KillGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signalling process group %d: %w", pid, err)
	}
	return nil
}

// GracefulShutdown implements the two-phase hang handling from spec §5:
// it sends SIGTERM at once and waits up to grace, then sends SIGKILL and
// waits up to timeout. alive is supplied by the caller (typically
// procutil.IsAlive) and polled here, so the function returns as soon as
// the group is confirmed dead rather than always waiting out the full
// period.
func GracefulShutdown(pid int, grace, timeout time.Duration, alive func(pid int) bool) error {
	if !alive(pid) {
		return nil
	}
	if err := KillGroup(pid, unix.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !alive(pid) {
		return nil
	}

	if err := KillGroup(pid, unix.SIGKILL); err != nil {
		return err
	}

	killDeadline := time.Now().Add(timeout)
	for time.Now().Before(killDeadline) {
		if !alive(pid) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("pid %d survived SIGKILL within %s", pid, timeout)
}

// WalkAndKill signals every pid in pids with sig, bottom-up (callers are
// expected to have already ordered descendants before ancestors; this
// function itself is order-agnostic since each pid's group kill covers
// its own descendants).
func WalkAndKill(pids []int, sig unix.Signal) []error {
	var errs []error
	for _, pid := range pids {
		if err := KillGroup(pid, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
