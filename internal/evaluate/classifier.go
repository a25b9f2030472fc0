package evaluate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// OutcomeType is the classifier's top-level verdict.
type OutcomeType string

const (
	OutcomeComplete OutcomeType = "complete"
	OutcomeRetry    OutcomeType = "retry"
	OutcomeBlocked  OutcomeType = "blocked"
	OutcomeFailed   OutcomeType = "failed"
)

// Outcome is a single classifier verdict, formatted by String as
// "<type>:<detail>" (spec §4.7's output contract).
type Outcome struct {
	Type   OutcomeType
	Detail string
}

func (o Outcome) String() string { return fmt.Sprintf("%s:%s", o.Type, o.Detail) }

func complete(detail string) Outcome { return Outcome{OutcomeComplete, detail} }
func retry(detail string) Outcome    { return Outcome{OutcomeRetry, detail} }
func blocked(detail string) Outcome  { return Outcome{OutcomeBlocked, detail} }
func failed(detail string) Outcome   { return Outcome{OutcomeFailed, detail} }

// GitState is the tie-break input for Tier 2.5, gathered from the
// worker's worktree.
type GitState struct {
	CommitsAheadOfMain int
	HasUncommittedDiff bool
}

// AIEvaluator is Tier 3's fallback: a cheap model asked to emit
// "VERDICT:<type>:<detail>" from the log tail and task description.
type AIEvaluator interface {
	Evaluate(ctx context.Context, description, logTail string) (string, error)
}

// Input bundles everything the classifier needs for one task.
type Input struct {
	LogFileColumnSet bool // whether the task row even has a log_file value
	Log              *LogSummary
	ExitCode         *int
	PRURLFromLog     string // extracted by the caller via link_pr_to_task-style validation
	PRURLFromBranch  string // forge "PRs on branch X" fallback, already validated
	RetriesRemaining bool
	Git              GitState
	TaskDescription  string
}

var verdictPattern = regexp.MustCompile(`(?i)VERDICT:(complete|retry|blocked|failed):(\S+)`)

// Classify runs the four-tier decision procedure in order, short-
// circuiting at the first tier that reaches a verdict.
func Classify(ctx context.Context, in Input, ai AIEvaluator) Outcome {
	if o, ok := tier0LogPresence(in); ok {
		return o
	}
	if o, ok := tier1Deterministic(in); ok {
		return o
	}
	if o, ok := tier1_5ExitZeroBackendError(in); ok {
		return o
	}
	if o, ok := tier1_6TaskObsolete(in); ok {
		return o
	}
	if o, ok := tier1_7CleanExitNoSignal(in); ok {
		return o
	}
	if in.ExitCode != nil && *in.ExitCode != 0 {
		if o, ok := tier2HeuristicErrors(in); ok {
			return o
		}
	}
	if o, ok := tier2_5GitHeuristic(in); ok {
		return o
	}
	return tier3AI(ctx, in, ai)
}

// Tier 0 — log-presence guard: distinct diagnostic codes for each way
// the worker's log file can be missing.
func tier0LogPresence(in Input) (Outcome, bool) {
	if !in.LogFileColumnSet {
		return failed("no_log_file_column"), true
	}
	if in.Log == nil || !in.Log.Exists {
		return failed("log_file_missing"), true
	}
	if in.Log.Empty {
		return failed("log_empty"), true
	}
	if !in.Log.WorkerStarted {
		return failed("worker_never_started"), true
	}
	return Outcome{}, false
}

// Tier 1 — deterministic completion signals.
func tier1Deterministic(in Input) (Outcome, bool) {
	prOrSentinel := func(sentinel string) string {
		if in.PRURLFromLog != "" {
			return in.PRURLFromLog
		}
		if in.PRURLFromBranch != "" {
			return in.PRURLFromBranch
		}
		return sentinel
	}

	if in.Log.FullLoopComplete {
		return complete(prOrSentinel("no_pr")), true
	}
	if in.Log.TaskComplete && in.ExitCode != nil && *in.ExitCode == 0 {
		return complete(prOrSentinel("task_only")), true
	}
	if in.ExitCode != nil && *in.ExitCode == 0 && in.PRURLFromLog != "" {
		return complete(in.PRURLFromLog), true
	}
	return Outcome{}, false
}

var (
	creditsPattern = regexp.MustCompile(`(?i)(credit|billing).{0,40}(exhaust|insufficient)`)
	quotaPattern   = regexp.MustCompile(`(?i)(quota exceeded|429|rate.?limit|endpoint.?fail(ed|ure)|503)`)
)

// Tier 1.5 — exit 0 but the backend actually rejected the call.
func tier1_5ExitZeroBackendError(in Input) (Outcome, bool) {
	if in.ExitCode == nil || *in.ExitCode != 0 {
		return Outcome{}, false
	}
	if in.Log.FullLoopComplete || in.Log.TaskComplete {
		return Outcome{}, false
	}
	tail := in.Log.TailText()
	if creditsPattern.MatchString(tail) {
		return blocked("billing_credits_exhausted"), true
	}
	if quotaPattern.MatchString(tail) {
		return retry("backend_quota_error"), true
	}
	return Outcome{}, false
}

var obsoletePattern = regexp.MustCompile(`(?i)(already done|no changes needed|nothing to fix)`)

// Tier 1.6 — the task turned out to need no work.
func tier1_6TaskObsolete(in Input) (Outcome, bool) {
	if in.ExitCode == nil || *in.ExitCode != 0 {
		return Outcome{}, false
	}
	if obsoletePattern.MatchString(in.Log.FinalText) {
		return complete("task_obsolete"), true
	}
	return Outcome{}, false
}

// Tier 1.7 — a clean exit with no signal at all: the worker likely
// exhausted its context budget before reaching a completion marker.
func tier1_7CleanExitNoSignal(in Input) (Outcome, bool) {
	if in.ExitCode == nil || *in.ExitCode != 0 {
		return Outcome{}, false
	}
	if in.Log.FullLoopComplete || in.Log.TaskComplete {
		return Outcome{}, false
	}
	if in.PRURLFromLog != "" || in.PRURLFromBranch != "" {
		return Outcome{}, false
	}
	return retry("clean_exit_no_signal"), true
}

var (
	backendInfraPattern = regexp.MustCompile(`(?i)(internal server error|502|503|504|connection reset|upstream)`)
	authPattern         = regexp.MustCompile(`(?i)(401 unauthorized|authentication failed|invalid api key|permission denied \(publickey\))`)
	conflictPattern     = regexp.MustCompile(`(?i)(merge conflict|conflict in |automatic merge failed)`)
	oomPattern          = regexp.MustCompile(`(?i)(out of memory|oom.?killed|cannot allocate memory)`)
	rateLimitPattern    = regexp.MustCompile(`(?i)(rate limit|429 too many requests)`)
	timeoutPattern      = regexp.MustCompile(`(?i)(timed out|deadline exceeded|etimedout)`)
)

// Tier 2 — heuristic error patterns, consulted only on a non-zero exit
// so that tool output merely discussing errors as content can never
// trigger a false positive on a clean, successful run.
func tier2HeuristicErrors(in Input) (Outcome, bool) {
	tail := in.Log.TailText()

	switch {
	case backendInfraPattern.MatchString(tail):
		return retry("backend_infrastructure_error"), true
	case authPattern.MatchString(tail):
		return blocked("auth_error"), true
	case conflictPattern.MatchString(tail):
		return blocked("merge_conflict"), true
	case oomPattern.MatchString(tail):
		return blocked("out_of_memory"), true
	case rateLimitPattern.MatchString(tail):
		return retry("rate_limited"), true
	case timeoutPattern.MatchString(tail):
		return retry("timeout"), true
	}

	switch *in.ExitCode {
	case 130:
		return retry("interrupted_sigint"), true
	case 137:
		return retry("interrupted_sigkill"), true
	case 143:
		return retry("interrupted_sigterm"), true
	}

	return Outcome{}, false
}

// Tier 2.5 — fall back to the worktree's git state when retries remain.
func tier2_5GitHeuristic(in Input) (Outcome, bool) {
	if !in.RetriesRemaining {
		return Outcome{}, false
	}
	if in.Git.CommitsAheadOfMain >= 1 {
		if in.PRURLFromLog != "" {
			return complete(in.PRURLFromLog), true
		}
		if in.PRURLFromBranch != "" {
			return complete(in.PRURLFromBranch), true
		}
		return complete("task_only"), true
	}
	if in.Git.CommitsAheadOfMain == 0 && in.Git.HasUncommittedDiff {
		return retry("work_in_progress"), true
	}
	return Outcome{}, false
}

// Tier 3 — AI evaluator fallback. On any failure to get or parse a
// strict verdict, default to an ambiguous-but-bounded retry.
func tier3AI(ctx context.Context, in Input, ai AIEvaluator) Outcome {
	if ai == nil {
		return retry("ambiguous_ai_unavailable")
	}
	raw, err := ai.Evaluate(ctx, in.TaskDescription, in.Log.TailText())
	if err != nil {
		return retry("ambiguous_ai_unavailable")
	}
	m := verdictPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return retry("ambiguous_ai_unavailable")
	}
	return Outcome{Type: OutcomeType(strings.ToLower(m[1])), Detail: m[2]}
}
