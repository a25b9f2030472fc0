package selfheal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marcusquinn/aidevops-sub001/internal/storage/sqlite"
	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

func newTestHealer(t *testing.T) (*Healer, *sqlite.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "supervisor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &Healer{Store: store}, store
}

func TestIsUndiagnosable(t *testing.T) {
	cases := map[string]bool{
		"authentication failed":      true,
		"OOM killed worker":          true,
		"merge conflict detected":    true,
		"max_retries exceeded":       true,
		"unexpected nil pointer":     false,
	}
	for reason, want := range cases {
		if got := isUndiagnosable(reason); got != want {
			t.Errorf("isUndiagnosable(%q) = %v, want %v", reason, got, want)
		}
	}
}

func TestMaybeSynthesizeDiagnosticSkipsForDiagnosticTask(t *testing.T) {
	h, _ := newTestHealer(t)
	diag := &task.Task{ID: "t1-diag-1", LastError: "something broke"}
	got, err := h.MaybeSynthesizeDiagnostic(context.Background(), diag)
	if err != nil {
		t.Fatalf("MaybeSynthesizeDiagnostic: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil: a diagnostic task never spawns its own diagnostic")
	}
}

func TestMaybeSynthesizeDiagnosticSkipsForUndiagnosableReason(t *testing.T) {
	h, _ := newTestHealer(t)
	tk := &task.Task{ID: "t1", LastError: "auth token expired"}
	got, err := h.MaybeSynthesizeDiagnostic(context.Background(), tk)
	if err != nil {
		t.Fatalf("MaybeSynthesizeDiagnostic: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil: auth failures are not diagnosable")
	}
}

func TestMaybeSynthesizeDiagnosticCreatesChild(t *testing.T) {
	h, store := newTestHealer(t)
	ctx := context.Background()
	parent := &task.Task{ID: "t1", RepoRoot: "/repo", Description: "do the thing", Model: "claude-haiku", LastError: "panic: nil pointer"}
	if err := store.CreateTask(ctx, parent); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	diag, err := h.MaybeSynthesizeDiagnostic(ctx, parent)
	if err != nil {
		t.Fatalf("MaybeSynthesizeDiagnostic: %v", err)
	}
	if diag == nil {
		t.Fatal("expected a diagnostic to be synthesized")
	}
	if diag.ID != "t1-diag-1" {
		t.Fatalf("expected t1-diag-1, got %s", diag.ID)
	}

	again, err := h.MaybeSynthesizeDiagnostic(ctx, parent)
	if err != nil {
		t.Fatalf("MaybeSynthesizeDiagnostic (second call): %v", err)
	}
	if again != nil {
		t.Fatal("expected second call to be a no-op: one diagnostic per parent")
	}
}

func TestQualityGateTrivialLog(t *testing.T) {
	res := Evaluate(QualityGateInput{LogSizeBytes: 100, HasPRSignal: false})
	if res.Pass {
		t.Fatal("expected trivial-log-no-pr-signal to fail the gate")
	}
}

func TestQualityGateEmptyDiff(t *testing.T) {
	res := Evaluate(QualityGateInput{LogSizeBytes: 10000, HasPRSignal: true, DiffEmpty: true})
	if res.Pass {
		t.Fatal("expected empty diff to fail the gate")
	}
}

func TestQualityGatePasses(t *testing.T) {
	res := Evaluate(QualityGateInput{LogSizeBytes: 10000, HasPRSignal: true})
	if !res.Pass {
		t.Fatalf("expected a clean log with PR signal to pass, got %s", res.Reason)
	}
}
