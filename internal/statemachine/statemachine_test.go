package statemachine

import (
	"errors"
	"testing"

	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

func TestValidateLegalTransition(t *testing.T) {
	if err := Validate(task.StatusQueued, task.StatusDispatched); err != nil {
		t.Fatalf("expected queued->dispatched to be legal, got %v", err)
	}
}

func TestValidateIllegalTransition(t *testing.T) {
	err := Validate(task.StatusQueued, task.StatusMerged)
	if err == nil {
		t.Fatal("expected an error for queued->merged")
	}
	var invalid *ErrInvalidTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidTransition, got %T", err)
	}
	if invalid.Error() == "" {
		t.Fatal("expected a non-empty error naming legal next states")
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, s := range []task.Status{task.StatusVerified, task.StatusCancelled} {
		if got := AllowedNext(s); len(got) != 0 {
			t.Fatalf("expected %s to be terminal with no outgoing edges, got %v", s, got)
		}
	}
}

func TestFailedCanBeResetToQueuedBySelfHeal(t *testing.T) {
	if err := Validate(task.StatusFailed, task.StatusQueued); err != nil {
		t.Fatalf("expected failed->queued to be legal for self-heal resets, got %v", err)
	}
	if err := Validate(task.StatusFailed, task.StatusDispatched); err == nil {
		t.Fatal("expected failed->dispatched to remain illegal")
	}
}

func TestSignificantTransitions(t *testing.T) {
	if !Significant(task.StatusDeployed) {
		t.Fatal("deployed should be a significant transition")
	}
	if Significant(task.StatusRunning) {
		t.Fatal("running should not be a significant (micro) transition")
	}
}

func TestEffectsStartedAtOnlyOnFirstDispatch(t *testing.T) {
	e := Effects(task.StatusQueued, task.StatusDispatched)
	if !e.SetStartedAt {
		t.Fatal("expected SetStartedAt on queued->dispatched")
	}
	e2 := Effects(task.StatusRetrying, task.StatusQueued)
	if e2.SetStartedAt {
		t.Fatal("did not expect SetStartedAt on retrying->queued")
	}
}

func TestEffectsTerminalClearsWorktree(t *testing.T) {
	e := Effects(task.StatusVerifying, task.StatusVerified)
	if !e.SetCompletedAt || !e.ClearWorktree || !e.ClearSession {
		t.Fatalf("expected terminal side effects, got %+v", e)
	}
}

func TestEffectsRetryIncrementsCounter(t *testing.T) {
	e := Effects(task.StatusEvaluating, task.StatusRetrying)
	if !e.IncrementRetry {
		t.Fatal("expected IncrementRetry on evaluating->retrying")
	}
}
