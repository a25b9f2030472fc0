package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/task"
	"github.com/marcusquinn/aidevops-sub001/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <task-id> <description>",
	GroupID: "work",
	Short:   "Register a new task in TODO.md and the task store",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, description := args[0], joinRest(args[1:])

		if err := todoReg.AddTask(rootCtx, id, description); err != nil {
			return fmt.Errorf("adding %s to TODO.md: %w", id, err)
		}

		t := &task.Task{
			ID:          id,
			RepoRoot:    repoRoot,
			Description: description,
			Status:      task.StatusQueued,
		}
		if err := store.CreateTask(rootCtx, t); err != nil {
			return fmt.Errorf("creating task %s: %w", id, err)
		}

		fmt.Printf("%s queued %s\n", ui.Glyph(true), ui.Accent(id))
		return nil
	},
}

func joinRest(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

func init() {
	rootCmd.AddCommand(addCmd)
}
