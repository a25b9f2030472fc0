package worktree

import "testing"

func TestDecidePolicy(t *testing.T) {
	cases := []struct {
		name string
		in   State
		want Policy
	}{
		{"reuse", State{WorktreeExists: true, CommitsAhead: 2, FilesDiverged: 10}, PolicyReuse},
		{"delete_recreate", State{WorktreeExists: true, CommitsAhead: 0, OpenPRExists: false}, PolicyDeleteRecreate},
		{"reset_force_push", State{WorktreeExists: true, CommitsAhead: 0, OpenPRExists: true}, PolicyResetForcePush},
		{"create_on_branch", State{BranchAhead: true, OpenPRExists: true}, PolicyCreateOnBranch},
		{"create_fresh_default", State{}, PolicyCreateFresh},
		{"too_diverged_falls_through", State{WorktreeExists: true, CommitsAhead: 3, FilesDiverged: 80}, PolicyCreateFresh},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DecidePolicy(c.in); got != c.want {
				t.Fatalf("DecidePolicy(%+v) = %s, want %s", c.in, got, c.want)
			}
		})
	}
}
