package applog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrintfWritesTimestampedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supervisor.log")

	l := New(path)
	l.Printf("pulse complete: dispatched=%d", 3)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.Contains(line, "pulse complete: dispatched=3") {
		t.Fatalf("unexpected log line: %q", line)
	}
	if !strings.Contains(line, "T") || !strings.Contains(line, "Z") {
		t.Fatalf("expected RFC3339 UTC timestamp prefix, got %q", line)
	}
}

func TestCloseWithoutWriteIsSafe(t *testing.T) {
	dir := t.TempDir()
	l := New(filepath.Join(dir, "unused.log"))
	if err := l.Close(); err != nil {
		t.Fatalf("Close on unused logger: %v", err)
	}
}
