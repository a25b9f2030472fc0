// Package selfheal implements the diagnostic-subtask synthesis and
// quality gate described in spec §4.10.
package selfheal

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/marcusquinn/aidevops-sub001/internal/model"
	"github.com/marcusquinn/aidevops-sub001/internal/storage/sqlite"
	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

// blockReasonsWithoutDiagnostic are terminal block reasons that a
// diagnostic subtask cannot do anything about: the next pulse will
// only hit the same wall.
var blockReasonsWithoutDiagnostic = []string{
	"auth", "oom", "merge conflict", "conflict", "max_retries", "max-retries",
}

func isUndiagnosable(reason string) bool {
	lower := strings.ToLower(reason)
	for _, r := range blockReasonsWithoutDiagnostic {
		if strings.Contains(lower, r) {
			return true
		}
	}
	return false
}

// Healer synthesises diagnostic children and runs the completion
// quality gate.
type Healer struct {
	Store        *sqlite.Store
	ModelLadders map[string]model.Family // keyed by ladder family name, e.g. "claude", "gemini"
}

// MaybeSynthesizeDiagnostic implements spec §4.10 paragraph 1. It is a
// no-op if t is itself a diagnostic, if its block/fail reason is one a
// diagnostic subtask cannot address, or if a diagnostic for this
// parent already exists.
func (h *Healer) MaybeSynthesizeDiagnostic(ctx context.Context, t *task.Task) (*task.Task, error) {
	if task.IsDiagnostic(t.ID) {
		return nil, nil
	}
	if isUndiagnosable(t.LastError) {
		return nil, nil
	}

	existing, err := h.Store.ListTasksByStatus(ctx,
		task.StatusQueued, task.StatusDispatched, task.StatusRunning, task.StatusEvaluating,
		task.StatusComplete, task.StatusBlocked, task.StatusFailed)
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		if task.IsDiagnostic(other.ID) && task.ParentID(other.ID) == t.ID {
			return nil, nil // one diagnostic per parent, already exists
		}
	}

	logTail := readLastLines(t.LogFile, 100)
	diag := &task.Task{
		ID:          diagnosticID(t.ID, existing),
		RepoRoot:    t.RepoRoot,
		Description: diagnosticDescription(t.ID, t.LastError, logTail),
		Model:       t.Model,
		Status:      task.StatusQueued,
	}
	if err := h.Store.CreateTask(ctx, diag); err != nil {
		return nil, fmt.Errorf("creating diagnostic for %s: %w", t.ID, err)
	}
	return diag, nil
}

// diagnosticID picks the next free "-diag-N" suffix for parentID.
func diagnosticID(parentID string, existing []*task.Task) string {
	n := 1
	for _, other := range existing {
		if task.IsDiagnostic(other.ID) && task.ParentID(other.ID) == parentID {
			n++
		}
	}
	return fmt.Sprintf("%s-diag-%d", parentID, n)
}

// diagnosticDescription embeds the parent ID, final error, and log
// tail as a single line so the row survives TSV/DB round-tripping
// (spec §4.10: "newlines stripped to single line").
func diagnosticDescription(parentID, lastError, logTail string) string {
	flat := strings.ReplaceAll(logTail, "\n", " | ")
	return fmt.Sprintf("Diagnose and fix the failure in %s. Final error: %s. Last log output: %s", parentID, lastError, flat)
}

func readLastLines(path string, n int) string {
	if path == "" {
		return ""
	}
	out, err := exec.Command("tail", "-n", fmt.Sprintf("%d", n), path).Output() //nolint:gosec // G204: path is an internally-generated log path
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// ResetParentOnDiagnosticComplete implements spec §4.10's "when the
// diagnostic completes, its parent is reset to queued".
func (h *Healer) ResetParentOnDiagnosticComplete(ctx context.Context, diag *task.Task) error {
	if !task.IsDiagnostic(diag.ID) || diag.Status != task.StatusComplete {
		return nil
	}
	parentID := task.ParentID(diag.ID)
	parent, err := h.Store.GetTask(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Status != task.StatusBlocked && parent.Status != task.StatusFailed {
		return nil
	}
	return h.Store.Transition(ctx, parentID, task.StatusQueued, sqlite.TransitionOptions{Reason: "diagnostic_resolved"})
}
