package procutil

import (
	"os/exec"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestIsAliveInvalidPID(t *testing.T) {
	if IsAlive(0) || IsAlive(-1) {
		t.Fatal("expected non-positive pids to report dead")
	}
}

func TestIsAliveAndKillGroup(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn sleep: %v", err)
	}
	pid := cmd.Process.Pid

	if !IsAlive(pid) {
		t.Fatal("expected freshly spawned process to be alive")
	}

	if err := KillGroup(pid, unix.SIGKILL); err != nil {
		t.Fatalf("KillGroup: %v", err)
	}
	_ = cmd.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for IsAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if IsAlive(pid) {
		t.Fatal("expected process to be dead after SIGKILL")
	}
}

func TestGracefulShutdownAlreadyDead(t *testing.T) {
	err := GracefulShutdown(999999, 10*time.Millisecond, 10*time.Millisecond, func(int) bool { return false })
	if err != nil {
		t.Fatalf("expected no-op for already-dead pid, got %v", err)
	}
}
