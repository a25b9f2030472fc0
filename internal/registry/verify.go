package registry

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const verifyRelPath = "todo/VERIFY.md"

// DirectiveKind names one of the check directive forms spec §4.8 step 7
// derives from a PR's changed files.
type DirectiveKind string

const (
	DirectiveFileExists DirectiveKind = "file-exists"
	DirectiveShellcheck DirectiveKind = "shellcheck"
	DirectiveRipgrep    DirectiveKind = "rg"
	DirectiveBash       DirectiveKind = "bash"
)

// Directive is one executable post-deploy check.
type Directive struct {
	Kind    DirectiveKind
	Target  string
	Pattern string // only set for DirectiveRipgrep
}

func (d Directive) render() string {
	switch d.Kind {
	case DirectiveRipgrep:
		return fmt.Sprintf("- rg: %q %s", d.Pattern, d.Target)
	default:
		return fmt.Sprintf("- %s: %s", d.Kind, d.Target)
	}
}

// VerifyEntry is one task's VERIFY.md section.
type VerifyEntry struct {
	TaskID     string
	Directives []Directive
}

func (e VerifyEntry) render() []string {
	lines := []string{"## " + e.TaskID}
	for _, d := range e.Directives {
		lines = append(lines, d.render())
	}
	return lines
}

// ParseVerify parses todo/VERIFY.md content into per-task entries.
func ParseVerify(content string) []VerifyEntry {
	var entries []VerifyEntry
	var cur *VerifyEntry

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "## "):
			if cur != nil {
				entries = append(entries, *cur)
			}
			cur = &VerifyEntry{TaskID: strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))}
		case strings.HasPrefix(trimmed, "- ") && cur != nil:
			if d, ok := parseDirectiveLine(trimmed); ok {
				cur.Directives = append(cur.Directives, d)
			}
		}
	}
	if cur != nil {
		entries = append(entries, *cur)
	}
	return entries
}

func parseDirectiveLine(line string) (Directive, bool) {
	body := strings.TrimPrefix(line, "- ")
	idx := strings.Index(body, ":")
	if idx < 0 {
		return Directive{}, false
	}
	kind := DirectiveKind(strings.TrimSpace(body[:idx]))
	rest := strings.TrimSpace(body[idx+1:])

	if kind == DirectiveRipgrep {
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			return Directive{}, false
		}
		pattern := strings.Trim(parts[0], `"`)
		return Directive{Kind: kind, Pattern: pattern, Target: strings.TrimSpace(parts[1])}, true
	}
	return Directive{Kind: kind, Target: rest}, true
}

// RenderVerify writes entries back to todo/VERIFY.md text.
func RenderVerify(entries []VerifyEntry) string {
	var out []string
	for _, e := range entries {
		out = append(out, e.render()...)
		out = append(out, "")
	}
	return strings.Join(out, "\n")
}

// GenerateDirectives derives check directives from a PR's changed file
// list (spec §4.8 step 7): shellcheck for shell files, file-exists for
// any file, bash for test scripts, pattern presence for index files.
func GenerateDirectives(changedFiles []string) []Directive {
	var out []Directive
	for _, f := range changedFiles {
		base := filepath.Base(f)
		switch {
		case strings.HasSuffix(f, ".sh"):
			out = append(out, Directive{Kind: DirectiveShellcheck, Target: f})
			if strings.Contains(base, "test") {
				out = append(out, Directive{Kind: DirectiveBash, Target: f})
			}
		case strings.Contains(base, "index"):
			out = append(out, Directive{Kind: DirectiveRipgrep, Pattern: base, Target: f})
		}
		out = append(out, Directive{Kind: DirectiveFileExists, Target: f})
	}
	return out
}

// VerifyResult is the outcome of executing one entry's directives.
type VerifyResult struct {
	Passed   bool
	Failures []string
}

// Execute runs every directive in entry against repoRoot, stopping at
// the first failure's detail being recorded but continuing to check
// the rest so a single VERIFY.md run reports everything that's wrong.
func Execute(ctx context.Context, repoRoot string, entry VerifyEntry) VerifyResult {
	result := VerifyResult{Passed: true}
	for _, d := range entry.Directives {
		if err := executeDirective(ctx, repoRoot, d); err != nil {
			result.Passed = false
			result.Failures = append(result.Failures, fmt.Sprintf("%s %s: %v", d.Kind, d.Target, err))
		}
	}
	return result
}

func executeDirective(ctx context.Context, repoRoot string, d Directive) error {
	target := filepath.Join(repoRoot, d.Target)
	switch d.Kind {
	case DirectiveFileExists:
		if _, err := os.Stat(target); err != nil {
			return err
		}
		return nil
	case DirectiveShellcheck:
		cmd := exec.CommandContext(ctx, "shellcheck", target) //nolint:gosec // G204: target is a PR-derived repo-relative path
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%w\n%s", err, out)
		}
		return nil
	case DirectiveRipgrep:
		cmd := exec.CommandContext(ctx, "rg", "-q", d.Pattern, target) //nolint:gosec // G204: pattern/target are PR-derived
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("pattern %q not found in %s: %w", d.Pattern, d.Target, err)
		}
		return nil
	case DirectiveBash:
		cmd := exec.CommandContext(ctx, "bash", target) //nolint:gosec // G204: target is a PR-derived repo-relative path
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%w\n%s", err, out)
		}
		return nil
	default:
		return fmt.Errorf("unknown directive kind %q", d.Kind)
	}
}

// AppendVerifyEntry commits a new VERIFY.md entry for a deployed task,
// grounded on the same commit-push-retry protocol as TODO.md mutations.
func AppendVerifyEntry(ctx context.Context, repoRoot string, entry VerifyEntry) error {
	g := newGitRepo(repoRoot)
	return commitAndPushWithRetry(ctx, g, verifyRelPath, fmt.Sprintf("verify: add entry for %s", entry.TaskID), func() (bool, error) {
		content, _ := g.readFile(verifyRelPath)
		entries := ParseVerify(content)
		for _, e := range entries {
			if e.TaskID == entry.TaskID {
				return false, nil
			}
		}
		entries = append(entries, entry)
		return true, g.writeFile(verifyRelPath, RenderVerify(entries))
	})
}
