// Package registry mutates the task-claim (TODO.md) and verification
// (VERIFY.md) files that live inside the target repository itself
// (spec §6, §9). Both files are treated as CRDT-like: edits are
// line-addressed, and conflicting writers are resolved by git's own
// push rejection rather than any in-process lock.
package registry

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// gitRepo wraps the handful of git plumbing commands the registry
// mutators need, grounded on the teacher's gitCommit/gitPull/gitPush
// helpers (cmd/bd/sync_git.go).
type gitRepo struct {
	root string
}

func newGitRepo(root string) *gitRepo {
	return &gitRepo{root: root}
}

func (g *gitRepo) add(ctx context.Context, relPath string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "add", relPath) //nolint:gosec // G204: relPath from internal callers
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add %s: %w\n%s", relPath, err, out)
	}
	return nil
}

func (g *gitRepo) commit(ctx context.Context, message string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "commit", "-m", message) //nolint:gosec // G204: message is internally generated
	out, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "nothing to commit") {
			return errNothingToCommit
		}
		return fmt.Errorf("git commit: %w\n%s", err, out)
	}
	return nil
}

func (g *gitRepo) pullRebase(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "pull", "--rebase")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git pull --rebase: %w\n%s", err, out)
	}
	return nil
}

func (g *gitRepo) push(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "push")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &pushRejectedError{output: string(out), cause: err}
	}
	return nil
}

func (g *gitRepo) readFile(relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(g.root, relPath))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (g *gitRepo) writeFile(relPath, content string) error {
	full := filepath.Join(g.root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

var errNothingToCommit = fmt.Errorf("nothing to commit")

// pushRejectedError signals a conflicting writer got there first (spec
// §9: "the push rejection is the conflict signal").
type pushRejectedError struct {
	output string
	cause  error
}

func (e *pushRejectedError) Error() string {
	return fmt.Sprintf("push rejected: %v\n%s", e.cause, e.output)
}

func (e *pushRejectedError) Unwrap() error { return e.cause }

func isPushRejected(err error) bool {
	_, ok := err.(*pushRejectedError)
	return ok
}

// commitAndPushWithRetry implements spec §9's claim protocol: commit,
// then push; on rejection, pull --rebase, re-apply mutate, and retry up
// to 3 attempts total, waiting 1s before the second and 2s before the
// third. mutate is called again on
// each retry since a rebase may have changed the file's current
// contents out from under the caller (re-read, re-decide, may become a
// no-op if another process already made the same change).
func commitAndPushWithRetry(ctx context.Context, g *gitRepo, relPath, message string, mutate func() (changed bool, err error)) error {
	const maxAttempts = 3
	backoff := time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		changed, err := mutate()
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		if err := g.add(ctx, relPath); err != nil {
			return err
		}
		if err := g.commit(ctx, message); err != nil {
			if err == errNothingToCommit {
				return nil
			}
			return err
		}

		err = g.push(ctx)
		if err == nil {
			return nil
		}
		if !isPushRejected(err) || attempt == maxAttempts {
			return err
		}

		if err := g.pullRebase(ctx); err != nil {
			return fmt.Errorf("pull --rebase after push rejection: %w", err)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff += time.Second
	}
	return fmt.Errorf("exhausted %d claim attempts", maxAttempts)
}
