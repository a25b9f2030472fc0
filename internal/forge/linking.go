package forge

import (
	"context"
	"fmt"
	"regexp"
)

// LinkPRToTask is the single helper through which every PR URL must
// flow before being stored in a task row (spec §4.9, §9's "this is the
// only correct cure for the class of bugs where one task inherited
// another's PR URL"). It is the validate step: given a candidate PR, it
// requires a word-boundary match for taskID in either the candidate's
// title or head branch (so "t195" matches "feature/t195" but not
// "t1950"). An unvalidated PR is never returned. It checks the fields
// the candidate already carries; it does not re-fetch the PR from the
// forge and does not store anything.
func LinkPRToTask(ctx context.Context, f Forge, owner, repo, taskID string, candidate PullRequest) (*PullRequest, error) {
	pattern, err := taskIDPattern(taskID)
	if err != nil {
		return nil, err
	}
	if pattern.MatchString(candidate.Title) || pattern.MatchString(candidate.HeadBranch) {
		return &candidate, nil
	}
	return nil, nil
}

// DiscoverAndLinkByBranch is the evaluator/lifecycle-controller
// convenience path: query the forge for PRs on the task's branch, then
// validate each candidate through LinkPRToTask.
func DiscoverAndLinkByBranch(ctx context.Context, f Forge, owner, repo, taskID, branch string) (*PullRequest, error) {
	candidates, err := f.FindPullRequestsByBranch(ctx, owner, repo, branch)
	if err != nil {
		return nil, fmt.Errorf("querying PRs for branch %s: %w", branch, err)
	}
	return firstValidated(ctx, f, owner, repo, taskID, candidates)
}

// DiscoverAndLinkByTitle falls back to a search for PRs whose title
// contains the task id when branch lookup found nothing.
func DiscoverAndLinkByTitle(ctx context.Context, f Forge, owner, repo, taskID string) (*PullRequest, error) {
	candidates, err := f.FindPullRequestsByTitleSubstring(ctx, owner, repo, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying PRs by title for %s: %w", taskID, err)
	}
	return firstValidated(ctx, f, owner, repo, taskID, candidates)
}

func firstValidated(ctx context.Context, f Forge, owner, repo, taskID string, candidates []PullRequest) (*PullRequest, error) {
	for _, c := range candidates {
		validated, err := LinkPRToTask(ctx, f, owner, repo, taskID, c)
		if err != nil {
			return nil, err
		}
		if validated != nil {
			return validated, nil
		}
	}
	return nil, nil
}

func taskIDPattern(taskID string) (*regexp.Regexp, error) {
	return regexp.Compile(`\b` + regexp.QuoteMeta(taskID) + `\b`)
}
