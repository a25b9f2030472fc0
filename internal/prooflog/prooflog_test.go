package prooflog

import (
	"testing"
	"time"
)

func TestStageDurationNoPrior(t *testing.T) {
	cur := &Entry{TaskID: "t1", Stage: "evaluate", Timestamp: time.Now()}
	if _, ok := StageDuration(nil, cur); ok {
		t.Fatal("expected no duration without a prior entry")
	}
}

func TestStageDurationDifferentStage(t *testing.T) {
	base := time.Now()
	prev := &Entry{TaskID: "t1", Stage: "pr_review", Timestamp: base}
	cur := &Entry{TaskID: "t1", Stage: "merging", Timestamp: base.Add(time.Minute)}
	if _, ok := StageDuration(prev, cur); ok {
		t.Fatal("expected no duration across different stages")
	}
}

func TestStageDurationComputed(t *testing.T) {
	base := time.Now()
	prev := &Entry{TaskID: "t1", Stage: "merging", Timestamp: base}
	cur := &Entry{TaskID: "t1", Stage: "merging", Timestamp: base.Add(90 * time.Second)}
	d, ok := StageDuration(prev, cur)
	if !ok || d != 90*time.Second {
		t.Fatalf("expected 90s duration, got %v ok=%v", d, ok)
	}
}

func TestStageLatencySeries(t *testing.T) {
	base := time.Now()
	entries := []*Entry{
		{TaskID: "t1", Stage: "pr_review", Timestamp: base},
		{TaskID: "t1", Stage: "pr_review", Timestamp: base.Add(10 * time.Second)},
		{TaskID: "t1", Stage: "merging", Timestamp: base.Add(20 * time.Second)},
		{TaskID: "t1", Stage: "pr_review", Timestamp: base.Add(40 * time.Second)},
	}
	series := StageLatencySeries(entries)
	if len(series["pr_review"]) != 2 {
		t.Fatalf("expected two pr_review observations (each entry vs the previous pr_review entry), got %v", series["pr_review"])
	}
	if series["pr_review"][0] != 10*time.Second || series["pr_review"][1] != 30*time.Second {
		t.Fatalf("expected [10s 30s], got %v", series["pr_review"])
	}
}

func TestDecisionFormatters(t *testing.T) {
	if got := DecisionRetry("backend_quota_error"); got != "retry:backend_quota_error" {
		t.Fatalf("got %q", got)
	}
	if got := DecisionComplete("https://forge.example/o/r/pull/42"); got != "complete:https://forge.example/o/r/pull/42" {
		t.Fatalf("got %q", got)
	}
	if got := DecisionTransition("deploying", "deployed"); got != "deploying->deployed" {
		t.Fatalf("got %q", got)
	}
}
