package registry

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mustRun(t *testing.T, dir, name string, args ...string) string {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %v: %v\n%s", name, args, err, out)
	}
	return string(out)
}

// setupRepoWithRemote creates a bare "origin" repo and a clone with a
// TODO.md committed and pushed, returning the clone's working directory.
func setupRepoWithRemote(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	bare := filepath.Join(root, "origin.git")
	work := filepath.Join(root, "work")

	mustRun(t, root, "git", "init", "--bare", bare)
	mustRun(t, root, "git", "-c", "init.defaultBranch=main", "init", work)
	mustRun(t, work, "git", "remote", "add", "origin", bare)

	if err := os.WriteFile(filepath.Join(work, "TODO.md"), []byte("# Tasks\n\n- [ ] t001 Add retry logic\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustRun(t, work, "git", "add", "TODO.md")
	mustRun(t, work, "git", "commit", "-m", "initial")
	mustRun(t, work, "git", "push", "-u", "origin", "HEAD:main")

	return work
}

func TestClaimCommitsAndPushes(t *testing.T) {
	work := setupRepoWithRemote(t)
	reg := NewRegistry(work)

	if err := reg.Claim(context.Background(), "t001", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(work, "TODO.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "assignee:alice") {
		t.Fatalf("expected assignee in TODO.md, got:\n%s", content)
	}

	log := mustRun(t, work, "git", "log", "--oneline", "-1")
	if !strings.Contains(log, "claim t001") {
		t.Fatalf("expected a claim commit, got: %s", log)
	}
}

func TestClaimAlreadyClaimedByOther(t *testing.T) {
	work := setupRepoWithRemote(t)
	reg := NewRegistry(work)

	if err := reg.Claim(context.Background(), "t001", "alice"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := reg.Claim(context.Background(), "t001", "bob")
	if err != ErrAlreadyClaimed {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimIdempotentForSameIdentity(t *testing.T) {
	work := setupRepoWithRemote(t)
	reg := NewRegistry(work)

	if err := reg.Claim(context.Background(), "t001", "alice"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := reg.Claim(context.Background(), "t001", "alice"); err != nil {
		t.Fatalf("re-claim by same identity should be a no-op, got: %v", err)
	}
}

func TestMarkDeployedFlipsCheckbox(t *testing.T) {
	work := setupRepoWithRemote(t)
	reg := NewRegistry(work)

	if err := reg.Claim(context.Background(), "t001", "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := reg.MarkDeployed(context.Background(), "t001", time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("MarkDeployed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(work, "TODO.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "- [x] t001") || !strings.Contains(string(content), "completed:2026-07-31") {
		t.Fatalf("expected completed checkbox, got:\n%s", content)
	}
	if strings.Contains(string(content), "assignee:") {
		t.Fatalf("expected assignee cleared on deploy, got:\n%s", content)
	}
}

func TestAnnotateBlockedAddsNote(t *testing.T) {
	work := setupRepoWithRemote(t)
	reg := NewRegistry(work)

	if err := reg.AnnotateBlocked(context.Background(), "t001", "missing credentials"); err != nil {
		t.Fatalf("AnnotateBlocked: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(work, "TODO.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "- Notes: BLOCKED: missing credentials") {
		t.Fatalf("expected blocked note, got:\n%s", content)
	}
}
