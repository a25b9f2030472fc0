package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/ui"
	"github.com/marcusquinn/aidevops-sub001/internal/worktree"
)

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	GroupID: "ops",
	Short:   "Inspect and reclaim registered worktree ownership tokens",
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered worktree and its owning session",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := worktree.New(stateDir)
		if err != nil {
			return err
		}
		entries, err := reg.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println(ui.Muted("no registered worktrees"))
			return nil
		}
		for _, e := range entries {
			fmt.Printf("  %s  task=%s session=%s pid=%d\n", e.Path, ui.Accent(e.TaskID), e.Session, e.PID)
		}
		return nil
	},
}

var worktreePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Discard registry entries whose worktree directory no longer exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := worktree.New(stateDir)
		if err != nil {
			return err
		}
		n, err := reg.Prune()
		if err != nil {
			return err
		}
		fmt.Printf("%s pruned %d stale entries\n", ui.Glyph(true), n)
		return nil
	},
}

func init() {
	worktreeCmd.AddCommand(worktreeListCmd, worktreePruneCmd)
	rootCmd.AddCommand(worktreeCmd)
}
