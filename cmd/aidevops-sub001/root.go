// Command aidevops-sub001 is the pulse engine's operator CLI: register
// tasks, run a pulse cycle, inspect state, and recover stuck work. Each
// subcommand lives in its own file, following the teacher's cmd/bd
// per-command-file convention.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/marcusquinn/aidevops-sub001/internal/config"
	"github.com/marcusquinn/aidevops-sub001/internal/forge"
	"github.com/marcusquinn/aidevops-sub001/internal/registry"
	"github.com/marcusquinn/aidevops-sub001/internal/storage/sqlite"
)

var (
	// Version is overridden via -ldflags at build time.
	Version = "0.1.0"

	repoRoot   string
	stateDir   string
	jsonOutput bool

	rootCtx context.Context
	store   *sqlite.Store
	todoReg *registry.Registry
)

var rootCmd = &cobra.Command{
	Use:   "aidevops-sub001",
	Short: "Autonomous multi-task AI coding worker orchestrator",
	Long: `aidevops-sub001 dispatches queued tasks to AI coding workers, evaluates
their outcomes, drives PRs through review and merge, deploys, verifies,
and self-heals stuck work -- one pulse cycle at a time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if repoRoot == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			repoRoot = cwd
		}
		if stateDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolving home directory: %w", err)
			}
			stateDir = filepath.Join(home, ".aidevops", ".agent-workspace", "supervisor")
		}
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return fmt.Errorf("creating state dir: %w", err)
		}
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		rootCtx = context.Background()

		var err error
		store, err = sqlite.Open(rootCtx, filepath.Join(stateDir, "supervisor.db"))
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		todoReg = registry.NewRegistry(repoRoot)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if store != nil {
			return store.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo", "", "repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "supervisor state directory (default: ~/.aidevops/.agent-workspace/supervisor)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "work", Title: "Work:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)
}

// sshRemotePattern extracts owner/repo from a git+ssh or scp-style
// remote URL, generalized from the teacher's sshToHTTPS helper
// (internal/registry/todo.go's unexported equivalent) for CLI-side
// owner/repo discovery rather than URL rewriting.
var sshRemotePattern = regexp.MustCompile(`(?:git@|https://)([^:/]+)[:/]([^/]+)/([^/.]+)(?:\.git)?$`)

// ownerRepoFromRemote shells to `git remote get-url origin` and parses
// the owner/repo pair, so subcommands that talk to the forge don't
// each need their own remote-parsing flag.
func ownerRepoFromRemote(root string) (owner, repo string, err error) {
	out, err := runGit(root, "remote", "get-url", "origin")
	if err != nil {
		return "", "", fmt.Errorf("reading origin remote: %w", err)
	}
	m := sshRemotePattern.FindStringSubmatch(out)
	if m == nil {
		return "", "", fmt.Errorf("unrecognized remote URL: %s", out)
	}
	return m[2], m[3], nil
}

func newForgeClient(root string) (forge.Forge, string, string, error) {
	owner, repo, err := ownerRepoFromRemote(root)
	if err != nil {
		return nil, "", "", err
	}
	resolver := forge.NewTokenResolver(stateDir, tokenConfigReader{})
	token, err := resolver.Resolve()
	if err != nil {
		return nil, "", "", fmt.Errorf("resolving forge token: %w", err)
	}
	baseURL := config.GetString("forge.base-url")
	graphqlURL := config.GetString("forge.graphql-url")
	return forge.NewHTTPClient(baseURL, graphqlURL, token), owner, repo, nil
}

// tokenConfigReader adapts the package-level config singleton to
// forge.ConfigReader's small interface.
type tokenConfigReader struct{}

func (tokenConfigReader) GetConfig(key string) (string, bool) {
	v := config.GetString(key)
	return v, v != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
