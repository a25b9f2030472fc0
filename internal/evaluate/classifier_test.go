package evaluate

import (
	"context"
	"testing"
)

func exit(n int) *int { return &n }

func TestTier0LogFileMissing(t *testing.T) {
	in := Input{LogFileColumnSet: true, Log: &LogSummary{Exists: false}, ExitCode: exit(0)}
	got := Classify(context.Background(), in, nil)
	if got.String() != "failed:log_file_missing" {
		t.Fatalf("got %s", got)
	}
}

func TestTier0NoLogFileColumn(t *testing.T) {
	in := Input{LogFileColumnSet: false, ExitCode: exit(0)}
	got := Classify(context.Background(), in, nil)
	if got.String() != "failed:no_log_file_column" {
		t.Fatalf("got %s", got)
	}
}

func TestTier0WorkerNeverStarted(t *testing.T) {
	in := Input{LogFileColumnSet: true, Log: &LogSummary{Exists: true, Empty: false, WorkerStarted: false}, ExitCode: exit(0)}
	got := Classify(context.Background(), in, nil)
	if got.String() != "failed:worker_never_started" {
		t.Fatalf("got %s", got)
	}
}

func TestTier1FullLoopComplete(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, FullLoopComplete: true},
		ExitCode:         exit(0),
		PRURLFromLog:     "https://forge.example/o/r/pull/42",
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "complete:https://forge.example/o/r/pull/42" {
		t.Fatalf("got %s", got)
	}
}

func TestTier1FullLoopCompleteNoPR(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, FullLoopComplete: true},
		ExitCode:         exit(0),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "complete:no_pr" {
		t.Fatalf("got %s", got)
	}
}

func TestTier1_5CreditsExhausted(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, TailLines: []string{"error: billing credits exhausted"}},
		ExitCode:         exit(0),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "blocked:billing_credits_exhausted" {
		t.Fatalf("got %s", got)
	}
}

func TestTier1_5QuotaRetry(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, TailLines: []string{"429 too many requests: quota exceeded"}},
		ExitCode:         exit(0),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "retry:backend_quota_error" {
		t.Fatalf("got %s", got)
	}
}

func TestTier1_6TaskObsolete(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, FinalText: "Already done, no changes needed."},
		ExitCode:         exit(0),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "complete:task_obsolete" {
		t.Fatalf("got %s", got)
	}
}

func TestTier1_7CleanExitNoSignal(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true},
		ExitCode:         exit(0),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "retry:clean_exit_no_signal" {
		t.Fatalf("got %s", got)
	}
}

func TestTier2OnlyOnNonZeroExit(t *testing.T) {
	// Tail mentions "timed out" as discussion content, but exit is 0 and a
	// PR was found — tier 1 should resolve before tier 2 ever looks at the tail.
	in := Input{
		LogFileColumnSet: true,
		Log: &LogSummary{
			Exists: true, WorkerStarted: true,
			TailLines: []string{"fixed the bug where requests timed out"},
		},
		ExitCode:     exit(0),
		PRURLFromLog: "https://forge.example/o/r/pull/7",
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "complete:https://forge.example/o/r/pull/7" {
		t.Fatalf("expected tier1 to win over a tier2 false positive, got %s", got)
	}
}

func TestTier2NeverConsultedOnCleanExit(t *testing.T) {
	// exit=0, tail discusses "authentication failed" as content, no signal,
	// no PR: must resolve via tier1.7 clean-exit, never tier2's auth_error.
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, TailLines: []string{"documented how authentication failed for users previously"}},
		ExitCode:         exit(0),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "retry:clean_exit_no_signal" {
		t.Fatalf("expected clean-exit tier to win on a zero exit, got %s", got)
	}
}

func TestTier2AuthErrorOnNonZeroExit(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, TailLines: []string{"401 Unauthorized: authentication failed"}},
		ExitCode:         exit(1),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "blocked:auth_error" {
		t.Fatalf("got %s", got)
	}
}

func TestTier2SignalExitCodes(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true},
		ExitCode:         exit(137),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "retry:interrupted_sigkill" {
		t.Fatalf("got %s", got)
	}
}

func TestTier2_5GitHeuristicCommitsButNoPR(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, TailLines: []string{"some unrecognized error"}},
		ExitCode:         exit(1),
		RetriesRemaining: true,
		Git:              GitState{CommitsAheadOfMain: 2},
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "complete:task_only" {
		t.Fatalf("got %s", got)
	}
}

func TestTier2_5WorkInProgress(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, TailLines: []string{"some unrecognized error"}},
		ExitCode:         exit(1),
		RetriesRemaining: true,
		Git:              GitState{CommitsAheadOfMain: 0, HasUncommittedDiff: true},
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "retry:work_in_progress" {
		t.Fatalf("got %s", got)
	}
}

type fakeAI struct {
	response string
	err      error
}

func (f *fakeAI) Evaluate(ctx context.Context, description, logTail string) (string, error) {
	return f.response, f.err
}

func TestTier3AIVerdict(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, TailLines: []string{"some unrecognized error"}},
		ExitCode:         exit(1),
		RetriesRemaining: false,
	}
	got := Classify(context.Background(), in, &fakeAI{response: "VERDICT:blocked:unknown_tool_failure"})
	if got.String() != "blocked:unknown_tool_failure" {
		t.Fatalf("got %s", got)
	}
}

func TestTier3AIUnavailableDefaultsToAmbiguousRetry(t *testing.T) {
	in := Input{
		LogFileColumnSet: true,
		Log:              &LogSummary{Exists: true, WorkerStarted: true, TailLines: []string{"some unrecognized error"}},
		ExitCode:         exit(1),
	}
	got := Classify(context.Background(), in, nil)
	if got.String() != "retry:ambiguous_ai_unavailable" {
		t.Fatalf("got %s", got)
	}
}
