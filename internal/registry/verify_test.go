package registry

import (
	"context"
	"strings"
	"testing"
)

func TestParseAndRenderVerifyRoundTrip(t *testing.T) {
	content := "## t001\n- file-exists: scripts/deploy.sh\n- shellcheck: scripts/deploy.sh\n- rg: \"buildIndex\" internal/index/index.go\n"
	entries := ParseVerify(content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.TaskID != "t001" || len(e.Directives) != 3 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Directives[2].Kind != DirectiveRipgrep || e.Directives[2].Pattern != "buildIndex" {
		t.Fatalf("unexpected rg directive: %+v", e.Directives[2])
	}

	rendered := RenderVerify(entries)
	if !strings.Contains(rendered, "## t001") || !strings.Contains(rendered, "rg: \"buildIndex\"") {
		t.Fatalf("unexpected render: %s", rendered)
	}
}

func TestGenerateDirectivesFromChangedFiles(t *testing.T) {
	dirs := GenerateDirectives([]string{"scripts/deploy.sh", "internal/search_index.go", "README.md"})

	var kinds []DirectiveKind
	for _, d := range dirs {
		kinds = append(kinds, d.Kind)
	}

	wantShellcheck, wantFileExists, wantRg := false, 0, false
	for _, d := range dirs {
		switch d.Kind {
		case DirectiveShellcheck:
			wantShellcheck = true
		case DirectiveFileExists:
			wantFileExists++
		case DirectiveRipgrep:
			wantRg = true
		}
	}
	if !wantShellcheck {
		t.Fatalf("expected a shellcheck directive among %v", kinds)
	}
	if wantFileExists != 3 {
		t.Fatalf("expected 3 file-exists directives, got %d", wantFileExists)
	}
	if !wantRg {
		t.Fatalf("expected an rg directive for the index file among %v", kinds)
	}
}

func TestExecuteFileExists(t *testing.T) {
	dir := t.TempDir()
	entry := VerifyEntry{TaskID: "t001", Directives: []Directive{
		{Kind: DirectiveFileExists, Target: "nonexistent.txt"},
	}}
	result := Execute(context.Background(), dir, entry)
	if result.Passed {
		t.Fatal("expected failure for missing file")
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %v", result.Failures)
	}
}
