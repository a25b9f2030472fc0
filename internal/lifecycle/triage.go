package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcusquinn/aidevops-sub001/internal/forge"
	"github.com/marcusquinn/aidevops-sub001/internal/storage/sqlite"
	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

// severityKeywords classifies review-thread bodies by keyword, worst
// match wins. Ordering matters: check critical before high, etc.
var severityKeywords = []struct {
	severity forge.ReviewThreadSeverity
	words    []string
}{
	{forge.SeverityCritical, []string{"security", "vulnerability", "data loss", "sql injection", "crash", "panic"}},
	{forge.SeverityHigh, []string{"bug", "incorrect", "broken", "race condition", "deadlock"}},
	{forge.SeverityMedium, []string{"should", "consider", "missing test", "edge case"}},
	{forge.SeverityLow, []string{"nit", "typo", "style", "formatting"}},
	{forge.SeverityDismiss, []string{"lgtm", "looks good", "resolved", "done"}},
}

// classifyThreadSeverity implements the keyword-severity classification
// named in spec §4.8 step 3. Threads matching nothing default to
// medium: an un-recognised comment still warrants a human look before
// merge.
func classifyThreadSeverity(body string) forge.ReviewThreadSeverity {
	lower := strings.ToLower(body)
	for _, bucket := range severityKeywords {
		for _, word := range bucket.words {
			if strings.Contains(lower, word) {
				return bucket.severity
			}
		}
	}
	return forge.SeverityMedium
}

// runReviewTriage implements spec §4.8 step 3.
func (c *Controller) runReviewTriage(ctx context.Context, t *task.Task) error {
	pr, err := c.prForTask(ctx, t)
	if err != nil {
		return err
	}
	if pr == nil {
		return c.Store.Transition(ctx, t.ID, task.StatusBlocked, sqlite.TransitionOptions{Reason: "pr_not_found_at_triage"})
	}

	threads, err := c.Forge.UnresolvedReviewThreads(ctx, c.Owner, c.Repo, pr.Number)
	if err != nil {
		return err
	}

	worst := forge.SeverityDismiss
	var actionable []forge.ReviewThread
	for _, th := range threads {
		if th.IsOutdated || th.IsResolved {
			continue
		}
		sev := classifyThreadSeverity(th.Body)
		if severityRank(sev) > severityRank(worst) {
			worst = sev
		}
		if sev != forge.SeverityDismiss && sev != forge.SeverityLow {
			actionable = append(actionable, th)
		}
	}

	switch {
	case worst == forge.SeverityCritical:
		return c.Store.Transition(ctx, t.ID, task.StatusBlocked, sqlite.TransitionOptions{Reason: "critical_review_thread"})
	case worst == forge.SeverityHigh || worst == forge.SeverityMedium:
		return c.spawnReviewFixWorker(ctx, t, actionable)
	default:
		return c.Store.Transition(ctx, t.ID, task.StatusMerging, sqlite.TransitionOptions{})
	}
}

func severityRank(s forge.ReviewThreadSeverity) int {
	switch s {
	case forge.SeverityCritical:
		return 4
	case forge.SeverityHigh:
		return 3
	case forge.SeverityMedium:
		return 2
	case forge.SeverityLow:
		return 1
	default:
		return 0
	}
}

// spawnReviewFixWorker re-enters the task into dispatched with a prompt
// listing the unresolved threads, so it re-dispatches into the
// existing worktree on the next pulse rather than provisioning a fresh
// one.
func (c *Controller) spawnReviewFixWorker(ctx context.Context, t *task.Task, threads []forge.ReviewThread) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Address the following review comments on %s:\n", t.PRURL)
	for _, th := range threads {
		fmt.Fprintf(&b, "- %s\n", th.Body)
	}
	t.Description = b.String()
	return c.Store.Transition(ctx, t.ID, task.StatusDispatched, sqlite.TransitionOptions{Reason: "review_fix"})
}
