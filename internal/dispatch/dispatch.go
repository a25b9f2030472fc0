// Package dispatch implements the pre-flight gate chain, worktree
// provisioning, and worker-process spawn described in spec §4.6. A
// failing gate returns a code from the top-level executable's exit-code
// contract in spec §6; several gates share a code, and Outcome.Reason
// tells them apart.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/marcusquinn/aidevops-sub001/internal/concurrency"
	"github.com/marcusquinn/aidevops-sub001/internal/forge"
	"github.com/marcusquinn/aidevops-sub001/internal/model"
	"github.com/marcusquinn/aidevops-sub001/internal/registry"
	"github.com/marcusquinn/aidevops-sub001/internal/storage/sqlite"
	"github.com/marcusquinn/aidevops-sub001/internal/task"
	"github.com/marcusquinn/aidevops-sub001/internal/worktree"
)

// ReturnCode mirrors the top-level executable's exit-code contract
// (spec §6): 0 success, 1 generic failure, 2 concurrency limit reached,
// 3 provider unavailable/rate-limited.
type ReturnCode int

const (
	CodeSuccess             ReturnCode = 0
	CodeGenericFailure      ReturnCode = 1
	CodeConcurrencyLimit    ReturnCode = 2
	CodeProviderUnavailable ReturnCode = 3
)

// Outcome is the result of one Dispatch attempt.
type Outcome struct {
	Code   ReturnCode
	Reason string
}

// Dispatcher wires together every collaborator the pre-flight gate
// chain needs.
type Dispatcher struct {
	Store       *sqlite.Store
	TODORegistry *registry.Registry
	Identity    string

	Forge    forge.Forge
	Owner    string
	Repo     string

	Prober *model.Prober

	Sampler           *concurrency.Sampler
	ConcurrencyBase   int
	ConcurrencyCap    int
	RunningCount      func() int

	Worktrees *worktree.Registry
	RepoRoot  string
	StateDir  string

	DefaultModel string
	PulseOwnerPID int
}

var taskRefPattern = func(taskID string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(taskID) + `\b`)
}

// alreadyDispatched inspects git history for a commit referencing the
// task id and the forge for a merged PR whose title contains it (spec
// §4.6 step 2, "the crucial guard").
func (d *Dispatcher) alreadyDispatched(ctx context.Context, taskID string) (bool, error) {
	pattern := taskRefPattern(taskID)

	cmd := exec.CommandContext(ctx, "git", "-C", d.RepoRoot, "log", "--all", "--oneline", "--grep", taskID, "-F") //nolint:gosec // G204: taskID is an internal task identifier
	out, err := cmd.Output()
	if err == nil && pattern.Match(out) {
		return true, nil
	}

	if d.Forge == nil {
		return false, nil
	}
	prs, err := d.Forge.FindPullRequestsByTitleSubstring(ctx, d.Owner, d.Repo, taskID)
	if err != nil {
		return false, nil // forge unavailable: not a hard failure of this gate
	}
	for _, pr := range prs {
		if pr.Merged && pattern.MatchString(pr.Title) {
			return true, nil
		}
	}
	return false, nil
}

// Dispatch runs the full pre-flight gate chain for taskID and, on
// success, provisions a worktree and spawns the worker.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string) (Outcome, error) {
	t, err := d.Store.GetTask(ctx, taskID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading task %s: %w", taskID, err)
	}

	// Gate 1: terminal-state recheck.
	if t.Status != task.StatusQueued {
		return Outcome{Code: CodeGenericFailure, Reason: "not queued"}, nil
	}

	// Gate 2: already-done detection.
	done, err := d.alreadyDispatched(ctx, taskID)
	if err != nil {
		return Outcome{}, err
	}
	if done {
		reason := "Pre-dispatch: already completed"
		if err := d.Store.Transition(ctx, taskID, task.StatusCancelled, sqlite.TransitionOptions{Reason: reason}); err != nil {
			return Outcome{}, err
		}
		return Outcome{Code: CodeGenericFailure, Reason: reason}, nil
	}

	// Gate 3: claim acquisition.
	if d.TODORegistry != nil {
		if err := d.TODORegistry.Claim(ctx, taskID, d.Identity); err != nil {
			return Outcome{Code: CodeGenericFailure, Reason: "claim lost: " + err.Error()}, nil
		}
	}

	// Gate 4: admission.
	sample := d.Sampler.Sample(d.RunningCount())
	if !concurrency.HasRoom(sample, d.ConcurrencyBase, d.ConcurrencyCap, d.RunningCount()) {
		return Outcome{Code: CodeConcurrencyLimit, Reason: "concurrency limit reached"}, nil
	}

	// Gate 5: model health.
	modelID := t.Model
	if modelID == "" {
		modelID = d.DefaultModel
	}
	if d.Prober != nil {
		health, err := d.Prober.Probe(ctx, modelID)
		if err != nil {
			return Outcome{Code: CodeProviderUnavailable, Reason: "health probe error: " + err.Error()}, nil
		}
		switch health {
		case model.HealthHealthy:
			// proceed
		case model.HealthUnavailable, model.HealthRateLimited:
			return Outcome{Code: CodeProviderUnavailable, Reason: string(health)}, nil
		case model.HealthCreditsExhausted, model.HealthInvalidKey:
			if err := d.Store.Transition(ctx, taskID, task.StatusBlocked, sqlite.TransitionOptions{Reason: string(health)}); err != nil {
				return Outcome{}, err
			}
			return Outcome{Code: CodeGenericFailure, Reason: string(health)}, nil
		}
	}

	// Gate 6: forge-auth check.
	if d.Forge != nil {
		if _, err := d.Forge.AuthenticatedUser(ctx); err != nil {
			return Outcome{Code: CodeProviderUnavailable, Reason: "forge auth failed: " + err.Error()}, nil
		}
	}

	// Gate 7: remote protocol check.
	if err := registry.RewriteRemoteToHTTPS(ctx, d.RepoRoot, "origin"); err != nil {
		return Outcome{}, fmt.Errorf("rewriting remote to https: %w", err)
	}

	worktreePath, branch, err := d.provisionWorktree(ctx, t)
	if err != nil {
		return Outcome{}, fmt.Errorf("provisioning worktree: %w", err)
	}

	logFile := filepath.Join(d.StateDir, "logs", fmt.Sprintf("%s-%d.log", taskID, time.Now().Unix()))
	pid, err := d.spawn(ctx, t, worktreePath, logFile)
	if err != nil {
		return Outcome{}, fmt.Errorf("spawning worker: %w", err)
	}

	if err := d.Store.Transition(ctx, taskID, task.StatusDispatched, sqlite.TransitionOptions{
		Worktree: worktreePath, Branch: branch, LogFile: logFile, SetModel: modelID,
	}); err != nil {
		return Outcome{}, err
	}
	if err := d.Store.Transition(ctx, taskID, task.StatusRunning, sqlite.TransitionOptions{
		Session: fmt.Sprintf("pid:%d", pid),
	}); err != nil {
		return Outcome{}, err
	}

	return Outcome{Code: CodeSuccess}, nil
}

// provisionWorktree applies the reuse-rule table (spec §4.6) and
// returns the worktree path and branch name to dispatch against.
func (d *Dispatcher) provisionWorktree(ctx context.Context, t *task.Task) (string, string, error) {
	branch := "feature/" + t.ID
	worktreePath := filepath.Join(d.StateDir, "worktrees", t.ID)

	state := worktree.State{}
	if _, err := os.Stat(worktreePath); err == nil {
		state.WorktreeExists = true
	}
	if d.Forge != nil {
		prs, err := d.Forge.FindPullRequestsByBranch(ctx, d.Owner, d.Repo, branch)
		if err == nil {
			for _, pr := range prs {
				if pr.State == "open" {
					state.OpenPRExists = true
				}
			}
		}
	}
	state.CommitsAhead = commitsAheadOfMain(ctx, d.RepoRoot, branch)
	state.FilesDiverged = filesDivergedFromMain(ctx, d.RepoRoot, branch)
	state.BranchAhead = state.CommitsAhead >= 1

	policy := worktree.DecidePolicy(state)

	switch policy {
	case worktree.PolicyReuse:
		// existing worktree is fine as-is
	case worktree.PolicyCreateOnBranch:
		if err := createWorktree(ctx, d.RepoRoot, worktreePath, branch, false); err != nil {
			return "", "", err
		}
	case worktree.PolicyDeleteRecreate:
		_ = removeWorktree(ctx, d.RepoRoot, worktreePath)
		if err := createWorktree(ctx, d.RepoRoot, worktreePath, branch, true); err != nil {
			return "", "", err
		}
	case worktree.PolicyResetForcePush:
		if err := resetToMainAndForcePush(ctx, d.RepoRoot, worktreePath, branch); err != nil {
			return "", "", err
		}
	case worktree.PolicyCreateFresh:
		_ = removeWorktree(ctx, d.RepoRoot, worktreePath)
		if err := createWorktree(ctx, d.RepoRoot, worktreePath, branch, true); err != nil {
			return "", "", err
		}
	}

	if d.Worktrees != nil {
		if _, err := d.Worktrees.Register(worktreePath, t.ID, d.Identity, os.Getpid()); err != nil {
			return "", "", err
		}
	}

	return worktreePath, branch, nil
}

func commitsAheadOfMain(ctx context.Context, repoRoot, branch string) int {
	out, err := exec.CommandContext(ctx, "git", "-C", repoRoot, "rev-list", "--count", "origin/main.."+branch).Output() //nolint:gosec // G204: branch is internally generated
	if err != nil {
		return 0
	}
	var n int
	_, _ = fmt.Sscanf(string(out), "%d", &n)
	return n
}

func filesDivergedFromMain(ctx context.Context, repoRoot, branch string) int {
	out, err := exec.CommandContext(ctx, "git", "-C", repoRoot, "diff", "--name-only", "origin/main.."+branch).Output() //nolint:gosec // G204: branch is internally generated
	if err != nil {
		return 0
	}
	n := 0
	for _, b := range out {
		if b == '\n' {
			n++
		}
	}
	return n
}

func createWorktree(ctx context.Context, repoRoot, worktreePath, branch string, newBranch bool) error {
	args := []string{"-C", repoRoot, "worktree", "add"}
	if newBranch {
		args = append(args, "-b", branch, worktreePath, "origin/main")
	} else {
		args = append(args, worktreePath, branch)
	}
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // G204: worktreePath/branch are internally generated
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree add: %w\n%s", err, out)
	}
	return nil
}

func removeWorktree(ctx context.Context, repoRoot, worktreePath string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", repoRoot, "worktree", "remove", worktreePath, "--force") //nolint:gosec // G204: worktreePath is internally generated
	return cmd.Run()
}

func resetToMainAndForcePush(ctx context.Context, repoRoot, worktreePath, branch string) error {
	cmds := [][]string{
		{"-C", worktreePath, "fetch", "origin", "main"},
		{"-C", worktreePath, "reset", "--hard", "origin/main"},
		{"-C", worktreePath, "push", "--force-with-lease", "origin", branch},
	}
	for _, args := range cmds {
		cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // G204: args are internally generated
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %v: %w\n%s", args, err, out)
		}
	}
	return nil
}
