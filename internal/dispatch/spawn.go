package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

// workerConfigYAML disables heavy indexers (semantic-code-search MCP
// plugins) per worker, freeing CPU cores for the dispatch's
// concurrency budget (spec §4.6).
const workerConfigYAML = `# generated by aidevops-sub001 dispatcher
indexers:
  semantic_code_search: false
  heavy_mcp_plugins: false
headless: true
`

// wrapperScriptTemplate runs the worker command, captures its exit
// code, and appends an EXIT:<n> marker the evaluator's LogSummary
// parser looks for (spec §4.6, §4.7).
const wrapperScriptTemplate = `#!/bin/sh
set -u
cd %q || exit 1
%s >> %q 2>&1
code=$?
echo "EXIT:${code}" >> %q
exit "$code"
`

// writeWorkerConfig generates the per-worker config file disabling
// heavy indexers and returns its path.
func (d *Dispatcher) writeWorkerConfig(worktreePath, taskID string) (string, error) {
	path := filepath.Join(worktreePath, ".aidevops-worker.yaml")
	if err := os.WriteFile(path, []byte(workerConfigYAML), 0o644); err != nil {
		return "", fmt.Errorf("writing worker config for %s: %w", taskID, err)
	}
	return path, nil
}

// spawn writes the wrapper script, launches it detached under
// nohup/disown so it survives the short-lived pulse process, and
// records its PID to pids/<task_id>.pid.
func (d *Dispatcher) spawn(ctx context.Context, t *task.Task, worktreePath, logFile string) (int, error) {
	if _, err := d.writeWorkerConfig(worktreePath, t.ID); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Join(d.StateDir, "pids"), 0o750); err != nil {
		return 0, err
	}

	workerCommand := d.workerCommand(t)
	scriptPath := filepath.Join(d.StateDir, "logs", t.ID+".wrapper.sh")
	script := fmt.Sprintf(wrapperScriptTemplate, worktreePath, workerCommand, logFile, logFile)
	if err := os.WriteFile(scriptPath, []byte(script), 0o750); err != nil {
		return 0, fmt.Errorf("writing wrapper script: %w", err)
	}

	cmd := exec.Command("nohup", "sh", scriptPath) //nolint:gosec // G204: scriptPath is internally generated
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting worker: %w", err)
	}
	// disown: release the child without waiting on it, so the pulse
	// process can exit while the worker keeps running.
	go func() { _ = cmd.Wait() }()

	pid := cmd.Process.Pid
	pidPath := filepath.Join(d.StateDir, "pids", t.ID+".pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		return 0, fmt.Errorf("writing pid file: %w", err)
	}
	return pid, nil
}

// workerCommand builds the single-argument worker invocation per spec
// §6's worker CLI contract: "the worker is invoked with its command +
// multi-line prompt as a single argument."
func (d *Dispatcher) workerCommand(t *task.Task) string {
	prompt := strings.ReplaceAll(t.Description, `"`, `\"`)
	return fmt.Sprintf("aidevops-worker --headless \"%s\"", prompt)
}
