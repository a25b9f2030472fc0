package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/task"
	"github.com/marcusquinn/aidevops-sub001/internal/ui"
)

var batchCmd = &cobra.Command{
	Use:     "batch",
	GroupID: "views",
	Short:   "Group tasks by their dotted sibling prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := store.ListTasksByStatus(rootCtx, allStatuses...)
		if err != nil {
			return err
		}

		groups := map[string][]*task.Task{}
		for _, t := range tasks {
			prefix := task.SiblingPrefix(t.ID)
			if prefix == "" {
				prefix = t.ID
			}
			groups[prefix] = append(groups[prefix], t)
		}

		prefixes := make([]string, 0, len(groups))
		for p := range groups {
			prefixes = append(prefixes, p)
		}
		sort.Strings(prefixes)

		for _, p := range prefixes {
			members := groups[p]
			if len(members) == 1 && members[0].ID == p {
				continue // a lone root task is not a batch
			}
			fmt.Printf("%s (%d members)\n", ui.Accent(p), len(members))
			for _, m := range members {
				fmt.Printf("  %-20s %s\n", m.ID, m.Status)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
}
