// Package statemachine holds the fixed transition whitelist for Task
// status changes and the bookkeeping rules that accompany a transition
// (timestamp stamping, retry-counter increments). It is deliberately
// free of any storage or I/O concern: the store calls into this package
// to validate a transition before writing it.
package statemachine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

// edges is the whitelist of legal (from,to) pairs. Anything not listed
// here is rejected by Validate.
var edges = map[task.Status][]task.Status{
	task.StatusQueued: {
		task.StatusDispatched,
		task.StatusCancelled,
		task.StatusBlocked,
		task.StatusFailed,
	},
	task.StatusDispatched: {
		task.StatusRunning,
		task.StatusFailed,
		task.StatusBlocked,
		task.StatusQueued, // admission/health preflight deferred dispatch
	},
	task.StatusRunning: {
		task.StatusEvaluating,
		task.StatusFailed, // hang-kill
		task.StatusCancelled,
	},
	task.StatusEvaluating: {
		task.StatusComplete,
		task.StatusRetrying,
		task.StatusBlocked,
		task.StatusFailed,
	},
	task.StatusRetrying: {
		task.StatusQueued,
		task.StatusBlocked, // retries exhausted
		task.StatusCancelled,
	},
	task.StatusComplete: {
		task.StatusPRReview,
		task.StatusDeployed, // no PR found: skip straight through
		task.StatusQueued,   // quality gate rejected, requeue with escalation
		task.StatusBlocked,  // quality gate rejected, escalation exhausted
		task.StatusCancelled,
	},
	task.StatusPRReview: {
		task.StatusReviewTriage,
		task.StatusMerging, // fast path: zero review threads
		task.StatusMerged,  // already_merged fast-forward
		task.StatusBlocked,
		task.StatusDispatched, // draft promoted / worker re-dispatched
		task.StatusCancelled,
	},
	task.StatusReviewTriage: {
		task.StatusMerging,
		task.StatusDispatched, // review-fix worker spawned
		task.StatusBlocked,
		task.StatusCancelled,
	},
	task.StatusMerging: {
		task.StatusMerged,
		task.StatusBlocked,
	},
	task.StatusMerged: {
		task.StatusDeploying,
		task.StatusCancelled,
	},
	task.StatusDeploying: {
		task.StatusDeployed,
		task.StatusBlocked,
		task.StatusFailed,
	},
	task.StatusDeployed: {
		task.StatusVerifying,
		task.StatusDeploying, // stuck-deploying auto-recovery replay
	},
	task.StatusVerifying: {
		task.StatusVerified,
		task.StatusVerifyFailed,
	},
	task.StatusVerifyFailed: {
		task.StatusVerifying, // re-check after a fix
		task.StatusBlocked,
	},
	task.StatusBlocked: {
		task.StatusQueued, // self-heal diagnostic resolved the parent
		task.StatusCancelled,
	},
	task.StatusFailed: {
		task.StatusQueued, // self-heal diagnostic resolved the parent
	},
	// Verified, Cancelled are hard-terminal: no outgoing edges.
}

// significant is the set of destination states whose transitions are
// worth a proof-log entry, per spec §4.2: pipeline stages, not
// micro-transitions.
var significant = map[task.Status]bool{
	task.StatusDispatched:   true,
	task.StatusPRReview:     true,
	task.StatusReviewTriage: true,
	task.StatusMerging:      true,
	task.StatusMerged:       true,
	task.StatusDeploying:    true,
	task.StatusDeployed:     true,
	task.StatusVerifying:    true,
	task.StatusVerified:     true,
	task.StatusVerifyFailed: true,
}

// ErrInvalidTransition is returned by Validate when (from,to) is not in
// the whitelist. Its Error() names the legal next states, per spec
// §4.2's "rejected with an error naming the set of legal next states."
type ErrInvalidTransition struct {
	From    task.Status
	To      task.Status
	Allowed []task.Status
}

func (e *ErrInvalidTransition) Error() string {
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: %s is a terminal state", e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid transition %s -> %s: legal next states are [%s]", e.From, e.To, strings.Join(names, ", "))
}

// Validate checks whether from->to is a legal transition. It returns
// nil on success, or *ErrInvalidTransition naming the allowed set.
func Validate(from, to task.Status) error {
	allowed := edges[from]
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return &ErrInvalidTransition{From: from, To: to, Allowed: allowed}
}

// AllowedNext returns the legal destination states from a given status,
// used by callers (e.g. `doctor`) that want to report reachability
// without attempting a write.
func AllowedNext(from task.Status) []task.Status {
	out := make([]task.Status, len(edges[from]))
	copy(out, edges[from])
	return out
}

// Significant reports whether a transition into `to` should be mirrored
// into the proof log as a pipeline-stage event.
func Significant(to task.Status) bool {
	return significant[to]
}

// SideEffects describes the side-band bookkeeping a transition applies
// alongside the status column itself, computed purely from (from,to) so
// the store can apply it inside the same write as the status change.
type SideEffects struct {
	SetStartedAt        bool // queued -> dispatched, exactly once
	SetCompletedAt      bool // entering a terminal state
	IncrementRetry      bool // -> retrying
	IncrementEscalation bool // complete -> queued, quality gate rejected
	ClearWorktree       bool // entering deployed/verified/failed/cancelled
	ClearSession        bool
}

// Effects computes the SideEffects for a given transition.
func Effects(from, to task.Status) SideEffects {
	var e SideEffects
	if from == task.StatusQueued && to == task.StatusDispatched {
		e.SetStartedAt = true
	}
	if to.Terminal() {
		e.SetCompletedAt = true
		e.ClearWorktree = true
		e.ClearSession = true
	}
	if to == task.StatusRetrying {
		e.IncrementRetry = true
	}
	if from == task.StatusComplete && to == task.StatusQueued {
		e.IncrementEscalation = true
	}
	return e
}
