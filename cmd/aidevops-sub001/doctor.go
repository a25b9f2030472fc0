package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/pulse"
	"github.com/marcusquinn/aidevops-sub001/internal/ui"
	"github.com/marcusquinn/aidevops-sub001/internal/worktree"
)

type doctorCheck struct {
	name string
	run  func() error
}

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: "ops",
	Short:   "Run supervisor health checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := []doctorCheck{
			{"state directory writable", func() error { return checkWritable(stateDir) }},
			{"git remote resolves to owner/repo", func() error {
				_, _, err := ownerRepoFromRemote(repoRoot)
				return err
			}},
			{"forge token resolvable", func() error {
				_, _, _, err := newForgeClient(repoRoot)
				return err
			}},
			{"pulse lock not stuck", func() error {
				lock := pulse.NewLock(stateDir, pulse.DefaultStaleTimeout)
				acquired, err := lock.Acquire()
				if err != nil {
					return err
				}
				if !acquired {
					return fmt.Errorf("lock held by a live, non-stale pulse")
				}
				return lock.Release()
			}},
			{"worktree registry readable", func() error {
				reg, err := worktree.New(stateDir)
				if err != nil {
					return err
				}
				_, err = reg.List()
				return err
			}},
		}

		failed := 0
		for _, c := range checks {
			err := c.run()
			fmt.Printf("%s %s\n", ui.Glyph(err == nil), c.name)
			if err != nil {
				fmt.Printf("    %s\n", ui.Muted(err.Error()))
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func checkWritable(dir string) error {
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
