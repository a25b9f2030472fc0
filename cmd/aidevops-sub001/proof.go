package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/ui"
)

var proofCmd = &cobra.Command{
	Use:     "proof <task-id>",
	GroupID: "views",
	Short:   "Print the evidence trail for a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		entries, err := store.ProofLogForTask(rootCtx, id)
		if err != nil {
			return fmt.Errorf("loading proof log for %s: %w", id, err)
		}
		if len(entries) == 0 {
			fmt.Println(ui.Muted("no proof-log entries for " + id))
			return nil
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}
		for _, e := range entries {
			fmt.Printf("  %s  %-18s %-14s %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z"), e.Event, e.Stage, e.Decision)
			if e.Evidence != "" {
				fmt.Printf("      %s\n", ui.Muted(e.Evidence))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(proofCmd)
}
