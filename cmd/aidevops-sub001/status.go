package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/task"
	"github.com/marcusquinn/aidevops-sub001/internal/ui"
)

var allStatuses = []task.Status{
	task.StatusQueued, task.StatusDispatched, task.StatusRunning, task.StatusEvaluating,
	task.StatusComplete, task.StatusPRReview, task.StatusReviewTriage, task.StatusMerging,
	task.StatusMerged, task.StatusDeploying, task.StatusDeployed, task.StatusVerifying,
	task.StatusVerified, task.StatusVerifyFailed, task.StatusRetrying, task.StatusBlocked,
	task.StatusFailed, task.StatusCancelled,
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "views",
	Short:   "Show task counts by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		counts := map[task.Status]int{}
		byStatus := map[task.Status][]*task.Task{}
		for _, st := range allStatuses {
			tasks, err := store.ListTasksByStatus(rootCtx, st)
			if err != nil {
				return fmt.Errorf("listing %s: %w", st, err)
			}
			counts[st] = len(tasks)
			byStatus[st] = tasks
		}

		if jsonOutput {
			out := map[string]int{}
			for st, n := range counts {
				out[string(st)] = n
			}
			return json.NewEncoder(os.Stdout).Encode(out)
		}

		fmt.Printf("%s Task status\n\n", ui.Accent("aidevops-sub001"))
		for _, st := range allStatuses {
			n := counts[st]
			if n == 0 {
				continue
			}
			fmt.Printf("  %-14s %d\n", st, n)
		}
		if blocked := byStatus[task.StatusBlocked]; len(blocked) > 0 {
			fmt.Printf("\n%s blocked:\n", ui.Muted("attention"))
			for _, t := range blocked {
				fmt.Printf("  %s %s\n", ui.Accent(t.ID), t.LastError)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
