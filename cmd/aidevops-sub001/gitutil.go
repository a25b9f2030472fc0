package main

import (
	"os/exec"
	"strings"
)

// runGit is the CLI's single shared git-shell-out helper, used by
// commands that need a quick read of repository state without pulling
// in a full git library (none appears anywhere in the retrieval pack;
// every example repo that touches git shells out the same way).
func runGit(root string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", root}, args...)...) //nolint:gosec // G204: args are fixed subcommands, root is the configured repo path
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
