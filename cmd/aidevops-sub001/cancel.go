package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/marcusquinn/aidevops-sub001/internal/procutil"
	"github.com/marcusquinn/aidevops-sub001/internal/storage/sqlite"
	"github.com/marcusquinn/aidevops-sub001/internal/task"
	"github.com/marcusquinn/aidevops-sub001/internal/ui"
)

var cancelCmd = &cobra.Command{
	Use:     "cancel <task-id>",
	GroupID: "work",
	Short:   "Gracefully stop a running task's worker and mark it cancelled",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		t, err := store.GetTask(rootCtx, id)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", id, err)
		}
		if t == nil {
			return fmt.Errorf("no such task: %s", id)
		}

		if pid, ok := sessionPID(t.Session); ok && procutil.IsAlive(pid) {
			if err := procutil.GracefulShutdown(pid, 5*time.Second, 10*time.Second, procutil.IsAlive); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: graceful shutdown of pid %d: %v\n", pid, err)
				_ = procutil.KillGroup(pid, unix.SIGKILL)
			}
		}

		if err := store.Transition(rootCtx, id, task.StatusCancelled, sqlite.TransitionOptions{Reason: "cancelled_by_operator"}); err != nil {
			return fmt.Errorf("cancelling %s: %w", id, err)
		}

		fmt.Printf("%s cancelled %s\n", ui.Glyph(true), ui.Accent(id))
		return nil
	},
}

func sessionPID(session string) (int, bool) {
	if !strings.HasPrefix(session, "pid:") {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimPrefix(session, "pid:"))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
