package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marcusquinn/aidevops-sub001/internal/prooflog"
	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "supervisor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := &task.Task{ID: "t1", RepoRoot: "/repo", Description: "fix thing"}
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Status != task.StatusQueued {
		t.Fatalf("expected queued, got %s", got.Status)
	}
	if got.MaxRetries != 3 || got.MaxEscalation != 2 {
		t.Fatalf("expected default retry/escalation budgets, got %+v", got)
	}
}

func TestGetTaskMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetTask(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for missing task")
	}
}

func TestTransitionHappyPath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := &task.Task{ID: "t1", RepoRoot: "/repo", Description: "fix thing"}
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.Transition(ctx, "t1", task.StatusDispatched, TransitionOptions{
		Session: "sess-1", Worktree: "/repo/.worktrees/t1", Branch: "task/t1", LogFile: "/tmp/t1.log",
	}); err != nil {
		t.Fatalf("Transition to dispatched: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusDispatched {
		t.Fatalf("expected dispatched, got %s", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("expected started_at to be set on first dispatch")
	}
	if got.Worktree == "" || got.Session == "" {
		t.Fatalf("expected side-band fields populated, got %+v", got)
	}

	log, err := s.StateLogForTask(ctx, "t1")
	if err != nil {
		t.Fatalf("StateLogForTask: %v", err)
	}
	if len(log) != 1 || log[0].From != task.StatusQueued || log[0].To != task.StatusDispatched {
		t.Fatalf("unexpected state log: %+v", log)
	}

	entries, err := s.ProofLogForTask(ctx, "t1")
	if err != nil {
		t.Fatalf("ProofLogForTask: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != prooflog.EventTransition {
		t.Fatalf("expected one significant transition entry, got %+v", entries)
	}
}

func TestTransitionIllegal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := &task.Task{ID: "t1", RepoRoot: "/repo"}
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.Transition(ctx, "t1", task.StatusDeployed, TransitionOptions{}); err == nil {
		t.Fatal("expected error transitioning queued -> deployed directly")
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusQueued {
		t.Fatalf("expected status unchanged after rejected transition, got %s", got.Status)
	}
}

func TestTransitionTerminalClearsWorktree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := &task.Task{ID: "t1", RepoRoot: "/repo"}
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	steps := []task.Status{
		task.StatusDispatched, task.StatusRunning, task.StatusEvaluating, task.StatusComplete,
		task.StatusPRReview, task.StatusMerging, task.StatusMerged, task.StatusDeploying, task.StatusDeployed,
		task.StatusVerifying, task.StatusVerified,
	}
	for _, st := range steps {
		if err := s.Transition(ctx, "t1", st, TransitionOptions{
			Worktree: "/repo/.worktrees/t1", Session: "sess-1",
		}); err != nil {
			t.Fatalf("transitioning to %s: %v", st, err)
		}
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Worktree != "" || got.Session != "" {
		t.Fatalf("expected worktree/session cleared on terminal state, got %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at set on terminal state")
	}
}

func TestListTasksByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		if err := s.CreateTask(ctx, &task.Task{ID: id, RepoRoot: "/repo"}); err != nil {
			t.Fatalf("CreateTask %s: %v", id, err)
		}
	}
	if err := s.Transition(ctx, "t2", task.StatusDispatched, TransitionOptions{}); err != nil {
		t.Fatalf("Transition t2: %v", err)
	}

	queued, err := s.ListTasksByStatus(ctx, task.StatusQueued)
	if err != nil {
		t.Fatalf("ListTasksByStatus: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", len(queued))
	}
}

func TestAppendProofLogDirect(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateTask(ctx, &task.Task{ID: "t1", RepoRoot: "/repo"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	e := &prooflog.Entry{TaskID: "t1", Event: prooflog.EventRetry, Stage: "evaluating", Decision: prooflog.DecisionRetry("timeout")}
	if err := s.AppendProofLog(ctx, e); err != nil {
		t.Fatalf("AppendProofLog: %v", err)
	}
	if e.ID == 0 {
		t.Fatal("expected generated id")
	}
}
