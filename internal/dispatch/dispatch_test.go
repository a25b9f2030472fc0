package dispatch

import (
	"strings"
	"testing"

	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

func TestWorkerCommandEscapesQuotes(t *testing.T) {
	d := &Dispatcher{}
	got := d.workerCommand(&task.Task{Description: `fix the "quoted" bug`})
	if !strings.Contains(got, `\"quoted\"`) {
		t.Fatalf("expected escaped quotes, got %q", got)
	}
	if !strings.HasPrefix(got, "aidevops-worker --headless ") {
		t.Fatalf("unexpected command prefix: %q", got)
	}
}

func TestTaskRefPatternWordBoundary(t *testing.T) {
	p := taskRefPattern("t195")
	if !p.MatchString("fix: resolve t195 edge case") {
		t.Fatal("expected match on word-bounded reference")
	}
	if p.MatchString("fix: resolve t1950 edge case") {
		t.Fatal("expected no match on prefix collision")
	}
}
