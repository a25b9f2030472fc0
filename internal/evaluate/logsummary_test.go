package evaluate

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.log")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseLogMissingFile(t *testing.T) {
	s, err := ParseLog(filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatalf("ParseLog: %v", err)
	}
	if s.Exists {
		t.Fatal("expected Exists=false for missing file")
	}
}

func TestParseLogEmptyFile(t *testing.T) {
	path := writeLog(t)
	s, err := ParseLog(path)
	if err != nil {
		t.Fatalf("ParseLog: %v", err)
	}
	if !s.Exists || !s.Empty {
		t.Fatalf("expected exists+empty, got %+v", s)
	}
}

func TestParseLogExtractsFinalTextAndMarkers(t *testing.T) {
	path := writeLog(t,
		`{"type":"status","text":"WORKER_STARTED"}`,
		`{"type":"text","text":"working on it"}`,
		`{"type":"text","text":"done! PR at https://forge.example/o/r/pull/9"}`,
		`FULL_LOOP_COMPLETE`,
		`EXIT:0`,
	)
	s, err := ParseLog(path)
	if err != nil {
		t.Fatalf("ParseLog: %v", err)
	}
	if !s.WorkerStarted || !s.FullLoopComplete {
		t.Fatalf("expected markers set, got %+v", s)
	}
	if s.FinalText != "done! PR at https://forge.example/o/r/pull/9" {
		t.Fatalf("expected last text entry to win, got %q", s.FinalText)
	}
	if s.ExitCode == nil || *s.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", s.ExitCode)
	}
}

func TestParseLogTailLinesCapped(t *testing.T) {
	lines := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		lines = append(lines, "line")
	}
	path := writeLog(t, lines...)
	s, err := ParseLog(path)
	if err != nil {
		t.Fatalf("ParseLog: %v", err)
	}
	if len(s.TailLines) != tailLines {
		t.Fatalf("expected %d tail lines, got %d", tailLines, len(s.TailLines))
	}
}
