package worktree

// State summarizes what the dispatcher's pre-flight observed about an
// existing worktree/branch pair before deciding whether to reuse,
// reset, or recreate it (spec §4.6's reuse-rule table).
type State struct {
	WorktreeExists  bool
	CommitsAhead    int
	FilesDiverged   int
	OpenPRExists    bool
	BranchAhead     bool // branch exists with commits even without a worktree checked out
}

// Policy is the dispatcher's decision for a given State.
type Policy string

const (
	PolicyReuse           Policy = "reuse"
	PolicyDeleteRecreate  Policy = "delete_recreate"
	PolicyResetForcePush  Policy = "reset_force_push"
	PolicyCreateOnBranch  Policy = "create_on_branch"
	PolicyCreateFresh     Policy = "create_fresh"
)

// DecidePolicy implements the reuse-rule table verbatim:
//
//	worktree, >=1 commit ahead, <50 files diverged  -> reuse
//	worktree, 0 commits ahead, no open PR           -> delete + recreate
//	worktree, 0 commits ahead, open PR exists        -> reset contents to origin/main, force-push
//	no worktree, branch ahead, open PR               -> create worktree on existing branch
//	none of the above                                -> create fresh
func DecidePolicy(s State) Policy {
	if s.WorktreeExists {
		if s.CommitsAhead >= 1 && s.FilesDiverged < 50 {
			return PolicyReuse
		}
		if s.CommitsAhead == 0 && !s.OpenPRExists {
			return PolicyDeleteRecreate
		}
		if s.CommitsAhead == 0 && s.OpenPRExists {
			return PolicyResetForcePush
		}
	}
	if !s.WorktreeExists && s.BranchAhead && s.OpenPRExists {
		return PolicyCreateOnBranch
	}
	return PolicyCreateFresh
}
