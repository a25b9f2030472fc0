package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/concurrency"
	"github.com/marcusquinn/aidevops-sub001/internal/config"
	"github.com/marcusquinn/aidevops-sub001/internal/dispatch"
	"github.com/marcusquinn/aidevops-sub001/internal/evaluate"
	"github.com/marcusquinn/aidevops-sub001/internal/lifecycle"
	"github.com/marcusquinn/aidevops-sub001/internal/model"
	"github.com/marcusquinn/aidevops-sub001/internal/notify"
	"github.com/marcusquinn/aidevops-sub001/internal/pulse"
	"github.com/marcusquinn/aidevops-sub001/internal/registry"
	"github.com/marcusquinn/aidevops-sub001/internal/selfheal"
	"github.com/marcusquinn/aidevops-sub001/internal/task"
	"github.com/marcusquinn/aidevops-sub001/internal/ui"
	"github.com/marcusquinn/aidevops-sub001/internal/worktree"
)

var pulseCmd = &cobra.Command{
	Use:     "pulse",
	GroupID: "ops",
	Short:   "Run exactly one pulse cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		sup, err := buildSupervisor()
		if err != nil {
			return err
		}

		staleTimeout := config.GetDuration("lock.pulse-timeout")
		if staleTimeout == 0 {
			staleTimeout = pulse.DefaultStaleTimeout
		}

		ps, err := sup.Run(rootCtx, staleTimeout)
		if err != nil {
			return fmt.Errorf("running pulse: %w", err)
		}
		if ps == nil {
			fmt.Println(ui.Muted("another pulse holds the lock; skipping"))
			return nil
		}

		fmt.Printf("%s pulse complete: dispatched=%d evaluated=%d lifecycled=%d errors=%d\n",
			ui.Glyph(len(ps.Errors) == 0), ps.Dispatched, ps.Evaluated, ps.Lifecycled, len(ps.Errors))
		for _, e := range ps.Errors {
			fmt.Fprintln(os.Stderr, " -", e)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pulseCmd)
}

// buildSupervisor wires every collaborator package into one
// pulse.Supervisor, reading concurrency/ladders/forge credentials from
// config and the environment.
func buildSupervisor() (*pulse.Supervisor, error) {
	forgeClient, owner, repo, err := newForgeClient(repoRoot)
	if err != nil {
		return nil, err
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	prober := model.NewProber(apiKey, stateDir)

	worktrees, err := worktree.New(stateDir)
	if err != nil {
		return nil, fmt.Errorf("opening worktree registry: %w", err)
	}

	base := config.GetInt("concurrency.base")
	if base == 0 {
		base = 2
	}
	concurrencyCap := config.GetInt("concurrency.cap")
	if concurrencyCap == 0 {
		concurrencyCap = 8
	}

	dispatcher := &dispatch.Dispatcher{
		Store:           store,
		TODORegistry:    todoReg,
		Identity:        registry.ResolveIdentity(""),
		Forge:           forgeClient,
		Owner:           owner,
		Repo:            repo,
		Prober:          prober,
		Sampler:         concurrency.NewSampler(),
		ConcurrencyBase: base,
		ConcurrencyCap:  concurrencyCap,
		Worktrees:       worktrees,
		RepoRoot:        repoRoot,
		StateDir:        stateDir,
		DefaultModel:    model.AnthropicLadder[0],
		PulseOwnerPID:   os.Getpid(),
		RunningCount:    countRunningTasks,
	}

	lifecycleCtl := &lifecycle.Controller{
		Store:        store,
		Forge:        forgeClient,
		Owner:        owner,
		Repo:         repo,
		TODORegistry: todoReg,
		RepoRoot:     repoRoot,
		StateDir:     stateDir,
	}

	healer := &selfheal.Healer{
		Store: store,
		ModelLadders: map[string]model.Family{
			"anthropic": model.AnthropicLadder,
			"google":    model.GoogleLadder,
		},
	}

	var backends []notify.Notifier
	if config.GetBool("notify.mail-enabled") {
		backends = append(backends, notify.NewMailNotifier(
			config.GetString("notify.mail-relay"), config.GetString("notify.mail-from"),
			config.GetStringSlice("notify.mail-to"), config.GetString("notify.mail-user"),
			config.GetString("notify.mail-pass"), config.GetString("notify.mail-host")))
	}
	if config.GetBool("notify.chat-enabled") {
		backends = append(backends, notify.NewChatNotifier(os.Getenv("AIDEVOPS_CHAT_WEBHOOK")))
	}
	if config.GetBool("notify.audio-enabled") {
		backends = append(backends, &notify.AudioNotifier{OnlyStates: map[string]bool{
			string(task.StatusBlocked): true, string(task.StatusFailed): true, string(task.StatusVerified): true,
		}})
	}

	var aiEval evaluate.AIEvaluator
	if apiKey != "" {
		aiEval = evaluate.NewAnthropicEvaluator(apiKey)
	}

	hangTimeout := config.GetDuration("dispatch.hang-timeout")
	if hangTimeout == 0 {
		hangTimeout = 30 * time.Minute
	}

	return &pulse.Supervisor{
		Store:           store,
		Dispatcher:      dispatcher,
		Lifecycle:       lifecycleCtl,
		Healer:          healer,
		TODORegistry:    todoReg,
		Worktrees:       worktrees,
		Forge:           forgeClient,
		Prober:          prober,
		Sampler:         concurrency.NewSampler(),
		Notifier:        notify.Multi{Backends: backends},
		ModelLadder:     model.AnthropicLadder,
		StateDir:        stateDir,
		ConcurrencyBase: base,
		ConcurrencyCap:  concurrencyCap,
		HangTimeout:     hangTimeout,
		AIEvaluator:     aiEval,
	}, nil
}

// countRunningTasks feeds the concurrency governor's admission check;
// it counts tasks in the two statuses that actually hold a live worker
// process (spec §4.6's pre-flight concurrency gate).
func countRunningTasks() int {
	tasks, err := store.ListTasksByStatus(rootCtx, task.StatusDispatched, task.StatusRunning)
	if err != nil {
		return 0
	}
	return len(tasks)
}
