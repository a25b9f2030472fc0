// Package task defines the primary entities tracked by the supervisor:
// Task, Batch, and the append-only StateLog row shape.
package task

import "time"

// Status is a value from the supervisor's fixed state alphabet. The
// legal (from,to) edges live in internal/statemachine, not here — this
// package only enumerates the alphabet itself.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusDispatched   Status = "dispatched"
	StatusRunning      Status = "running"
	StatusEvaluating   Status = "evaluating"
	StatusComplete     Status = "complete"
	StatusPRReview     Status = "pr_review"
	StatusReviewTriage Status = "review_triage"
	StatusMerging      Status = "merging"
	StatusMerged       Status = "merged"
	StatusDeploying    Status = "deploying"
	StatusDeployed     Status = "deployed"
	StatusVerifying    Status = "verifying"
	StatusVerified     Status = "verified"
	StatusVerifyFailed Status = "verify_failed"
	StatusRetrying     Status = "retrying"
	StatusBlocked      Status = "blocked"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether a status is a soft- or hard-terminal state:
// no further pulse phase will act on the task except idempotent
// auto-recovery (e.g. a stuck "deployed" timeout) or self-heal resets.
// StatusMerged is deliberately excluded: the lifecycle controller still
// has to drive it on to deploying. Entering a terminal state (deployed
// included) clears the task's worktree, branch and session.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeployed, StatusVerified, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the primary orchestration entity. Field names mirror the
// columns described in spec §3 DATA MODEL.
type Task struct {
	ID              string
	RepoRoot        string
	Description     string
	Status          Status
	Session         string // e.g. "pid:1234"
	Worktree        string
	Branch          string
	LogFile         string
	Retries         int
	MaxRetries      int
	EscalationDepth int
	MaxEscalation   int
	Model           string
	LastError       string
	PRURL           string
	IssueURL        string

	// Extension fields, persisted as a JSON blob (metadata column).
	Metadata map[string]any

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// ParentID returns the dotted-hierarchy parent id for a subtask id, or
// "" if id has no parent (is a root task). "t123-diag-1" and "t123.4"
// both report "t123" as their parent.
func ParentID(id string) string {
	// diagnostic suffix takes priority: "t123-diag-1" -> "t123"
	if i := indexDiagSuffix(id); i >= 0 {
		return id[:i]
	}
	if i := lastDot(id); i >= 0 {
		return id[:i]
	}
	return ""
}

// IsDiagnostic reports whether id names a diagnostic child task.
func IsDiagnostic(id string) bool {
	return indexDiagSuffix(id) >= 0
}

func indexDiagSuffix(id string) int {
	const marker = "-diag-"
	for i := 0; i+len(marker) <= len(id); i++ {
		if id[i:i+len(marker)] == marker {
			return i
		}
	}
	return -1
}

func lastDot(id string) int {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '.' {
			return i
		}
	}
	return -1
}

// SiblingPrefix returns the dotted prefix shared by sibling subtasks,
// used by the serial-merge guard to group "t300.1", "t300.2", "t300.3".
func SiblingPrefix(id string) string {
	return ParentID(id)
}

// BatchStatus is the lifecycle state of a Batch.
type BatchStatus string

const (
	BatchActive    BatchStatus = "active"
	BatchPaused    BatchStatus = "paused"
	BatchComplete  BatchStatus = "complete"
	BatchCancelled BatchStatus = "cancelled"
)

// ReleaseType is a semver bump category. It only names the category;
// no code validates it.
type ReleaseType string

const (
	ReleaseMajor ReleaseType = "major"
	ReleaseMinor ReleaseType = "minor"
	ReleasePatch ReleaseType = "patch"
)

// Batch is a named, concurrency-bounded cohort of tasks.
type Batch struct {
	Name              string
	BaseConcurrency   int
	MaxConcurrency    int // 0 = auto-cap at logical CPU count
	MaxLoadFactor     float64
	Status            BatchStatus
	ReleaseOnComplete bool
	ReleaseType       ReleaseType
	SkipQualityGate   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BatchMember is one row of the BatchMembership many-to-many, carrying
// dispatch-priority ordering.
type BatchMember struct {
	BatchName string
	TaskID    string
	Position  int
}

// StateLogEntry is one append-only row of a task's transition history.
type StateLogEntry struct {
	ID        int64
	TaskID    string
	From      Status
	To        Status
	Reason    string
	Timestamp time.Time
}
