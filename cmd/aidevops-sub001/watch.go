package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/applog"
	"github.com/marcusquinn/aidevops-sub001/internal/config"
	"github.com/marcusquinn/aidevops-sub001/internal/pulse"
	"github.com/marcusquinn/aidevops-sub001/internal/ui"
	"github.com/marcusquinn/aidevops-sub001/internal/watch"
)

var watchPollInterval time.Duration

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "ops",
	Short:   "Run pulses on every todo/TODO.md change, falling back to a fixed interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := applog.New(filepath.Join(stateDir, "supervisor.log"))
		defer log.Close() //nolint:errcheck // best-effort on process exit

		runPulse := func() {
			sup, err := buildSupervisor()
			if err != nil {
				log.Printf("build supervisor: %v", err)
				return
			}
			staleTimeout := config.GetDuration("lock.pulse-timeout")
			if staleTimeout == 0 {
				staleTimeout = pulse.DefaultStaleTimeout
			}
			ps, err := sup.Run(rootCtx, staleTimeout)
			if err != nil {
				log.Printf("pulse error: %v", err)
				return
			}
			if ps == nil {
				return
			}
			log.Printf("pulse complete: dispatched=%d evaluated=%d lifecycled=%d errors=%d",
				ps.Dispatched, ps.Evaluated, ps.Lifecycled, len(ps.Errors))
		}

		w, err := watch.New(repoRoot, runPulse)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		if watchPollInterval > 0 {
			w.SetPollInterval(watchPollInterval)
		}

		stop := make(chan struct{})
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			close(stop)
		}()

		fmt.Println(ui.Accent("watching todo/TODO.md"), ui.Muted("(ctrl-c to stop)"))
		runPulse()
		w.Run(stop)
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchPollInterval, "poll-interval", 0, "polling interval when fsnotify is unavailable (default 5s)")
	rootCmd.AddCommand(watchCmd)
}
