package registry

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const todoRelPath = "TODO.md"

// taskLinePattern matches a top-level checklist line:
// "- [ ] t001 Add retry logic assignee:alice started:2026-07-31T..."
var taskLinePattern = regexp.MustCompile(`^- \[( |x)\] (\S+) (.*)$`)

var fieldPattern = regexp.MustCompile(`\b(assignee|started|completed):(\S+)`)

// TaskLine is one task row in TODO.md plus any indented "- Notes:"
// lines immediately following it.
type TaskLine struct {
	ID          string
	Checked     bool
	Description string
	Assignee    string
	Started     string
	Completed   string
	Notes       []string
}

// ParentPrefix returns the dotted parent of a subtask id ("t300" for
// "t300.1"), or "" if the id has no dot.
func (t TaskLine) ParentPrefix() string {
	if i := strings.LastIndex(t.ID, "."); i >= 0 {
		return t.ID[:i]
	}
	return ""
}

func (t TaskLine) render() []string {
	box := " "
	if t.Checked {
		box = "x"
	}
	fields := ""
	if t.Assignee != "" {
		fields += " assignee:" + t.Assignee
	}
	if t.Started != "" {
		fields += " started:" + t.Started
	}
	if t.Completed != "" {
		fields += " completed:" + t.Completed
	}
	lines := []string{fmt.Sprintf("- [%s] %s %s%s", box, t.ID, t.Description, fields)}
	for _, n := range t.Notes {
		lines = append(lines, "  - Notes: "+n)
	}
	return lines
}

// Document is a parsed TODO.md: an ordered mix of task lines and
// passthrough (non-task) lines, so headings and prose round-trip
// unmodified.
type Document struct {
	entries []docEntry
}

type docEntry struct {
	task *TaskLine
	raw  string // set when task is nil
}

// ParseTODO parses TODO.md content, line-addressed per task.
func ParseTODO(content string) *Document {
	doc := &Document{}
	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		m := taskLinePattern.FindStringSubmatch(line)
		if m == nil {
			doc.entries = append(doc.entries, docEntry{raw: line})
			continue
		}
		t := &TaskLine{ID: m[2], Checked: m[1] == "x"}
		rest := m[3]
		for _, fm := range fieldPattern.FindAllStringSubmatch(rest, -1) {
			switch fm[1] {
			case "assignee":
				t.Assignee = fm[2]
			case "started":
				t.Started = fm[2]
			case "completed":
				t.Completed = fm[2]
			}
		}
		t.Description = strings.TrimSpace(fieldPattern.ReplaceAllString(rest, ""))

		for i+1 < len(lines) && strings.HasPrefix(strings.TrimLeft(lines[i+1], " "), "- Notes:") {
			i++
			note := strings.TrimSpace(strings.TrimPrefix(strings.TrimLeft(lines[i], " "), "- Notes:"))
			t.Notes = append(t.Notes, note)
		}
		doc.entries = append(doc.entries, docEntry{task: t})
	}
	return doc
}

// Render writes the document back to TODO.md text.
func (d *Document) Render() string {
	var out []string
	for _, e := range d.entries {
		if e.task != nil {
			out = append(out, e.task.render()...)
		} else {
			out = append(out, e.raw)
		}
	}
	return strings.Join(out, "\n")
}

// Find returns the task line with the given id, or nil.
func (d *Document) Find(taskID string) *TaskLine {
	for _, e := range d.entries {
		if e.task != nil && e.task.ID == taskID {
			return e.task
		}
	}
	return nil
}

// Append adds a new task line at the end of the document.
func (d *Document) Append(t TaskLine) {
	d.entries = append(d.entries, docEntry{task: &t})
}

// Siblings returns all task ids sharing the given dotted parent prefix.
func (d *Document) Siblings(parentPrefix string) []*TaskLine {
	var out []*TaskLine
	for _, e := range d.entries {
		if e.task != nil && e.task.ParentPrefix() == parentPrefix {
			out = append(out, e.task)
		}
	}
	return out
}

// ErrAlreadyClaimed means the task is assigned to a different identity.
var ErrAlreadyClaimed = fmt.Errorf("task already claimed by another identity")

// ErrTaskNotFound means the task id does not appear in TODO.md.
var ErrTaskNotFound = fmt.Errorf("task not found in TODO.md")

// Registry mutates TODO.md inside a checked-out repository.
type Registry struct {
	repoRoot string
	git      *gitRepo
}

// NewRegistry opens the TODO.md registry rooted at the given checkout.
func NewRegistry(repoRoot string) *Registry {
	return &Registry{repoRoot: repoRoot, git: newGitRepo(repoRoot)}
}

// ResolveIdentity implements spec §4.6 step 3's priority chain:
// env:AIDEVOPS_IDENTITY > cached forge username > user@host.
func ResolveIdentity(cachedForgeUsername string) string {
	if v := os.Getenv("AIDEVOPS_IDENTITY"); v != "" {
		return v
	}
	if cachedForgeUsername != "" {
		return cachedForgeUsername
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "worker"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return user + "@" + host
}

// Claim sets assignee:<identity> on taskID and pushes. A push rejection
// is interpreted as "another worker claimed first" and surfaces as
// ErrAlreadyClaimed after the post-rebase re-read shows a foreign
// assignee.
func (r *Registry) Claim(ctx context.Context, taskID, identity string) error {
	return commitAndPushWithRetry(ctx, r.git, todoRelPath, fmt.Sprintf("claim %s for %s", taskID, identity), func() (bool, error) {
		content, err := r.git.readFile(todoRelPath)
		if err != nil {
			return false, err
		}
		doc := ParseTODO(content)
		t := doc.Find(taskID)
		if t == nil {
			return false, ErrTaskNotFound
		}
		if t.Assignee == identity {
			return false, nil
		}
		if t.Assignee != "" {
			return false, ErrAlreadyClaimed
		}
		t.Assignee = identity
		t.Started = time.Now().UTC().Format(time.RFC3339)
		return true, r.git.writeFile(todoRelPath, doc.Render())
	})
}

// Unclaim clears the assignee field, e.g. after a dispatch pre-flight
// gate rejects the task post-claim.
func (r *Registry) Unclaim(ctx context.Context, taskID string) error {
	return commitAndPushWithRetry(ctx, r.git, todoRelPath, fmt.Sprintf("unclaim %s", taskID), func() (bool, error) {
		content, err := r.git.readFile(todoRelPath)
		if err != nil {
			return false, err
		}
		doc := ParseTODO(content)
		t := doc.Find(taskID)
		if t == nil {
			return false, ErrTaskNotFound
		}
		if t.Assignee == "" {
			return false, nil
		}
		t.Assignee = ""
		t.Started = ""
		return true, r.git.writeFile(todoRelPath, doc.Render())
	})
}

// AddTask appends a new unchecked task line to TODO.md, the entry point
// for work registered via the CLI's "add" command.
func (r *Registry) AddTask(ctx context.Context, taskID, description string) error {
	return commitAndPushWithRetry(ctx, r.git, todoRelPath, fmt.Sprintf("add %s", taskID), func() (bool, error) {
		content, err := r.git.readFile(todoRelPath)
		if err != nil {
			return false, err
		}
		doc := ParseTODO(content)
		if doc.Find(taskID) != nil {
			return false, fmt.Errorf("task %s already exists in TODO.md", taskID)
		}
		doc.Append(TaskLine{ID: taskID, Description: description})
		return true, r.git.writeFile(todoRelPath, doc.Render())
	})
}

// MarkDeployed flips a task to "[x] ... completed:<date>" on successful
// deployment (spec §4.8 step 7).
func (r *Registry) MarkDeployed(ctx context.Context, taskID string, completedAt time.Time) error {
	date := completedAt.UTC().Format("2006-01-02")
	return commitAndPushWithRetry(ctx, r.git, todoRelPath, fmt.Sprintf("complete %s", taskID), func() (bool, error) {
		content, err := r.git.readFile(todoRelPath)
		if err != nil {
			return false, err
		}
		doc := ParseTODO(content)
		t := doc.Find(taskID)
		if t == nil {
			return false, ErrTaskNotFound
		}
		if t.Checked && t.Completed != "" {
			return false, nil
		}
		t.Checked = true
		t.Completed = date
		t.Assignee = ""
		return true, r.git.writeFile(todoRelPath, doc.Render())
	})
}

// AnnotateBlocked appends a "- Notes: BLOCKED: <reason>" line under the
// task without checking it off (spec §6: "on block/fail").
func (r *Registry) AnnotateBlocked(ctx context.Context, taskID, reason string) error {
	note := "BLOCKED: " + reason
	return commitAndPushWithRetry(ctx, r.git, todoRelPath, fmt.Sprintf("annotate %s blocked", taskID), func() (bool, error) {
		content, err := r.git.readFile(todoRelPath)
		if err != nil {
			return false, err
		}
		doc := ParseTODO(content)
		t := doc.Find(taskID)
		if t == nil {
			return false, ErrTaskNotFound
		}
		for _, n := range t.Notes {
			if n == note {
				return false, nil
			}
		}
		t.Notes = append(t.Notes, note)
		return true, r.git.writeFile(todoRelPath, doc.Render())
	})
}

// RewriteRemoteToHTTPS implements spec §4.6 step 7: background workers
// without an SSH agent need an HTTPS remote to push.
func RewriteRemoteToHTTPS(ctx context.Context, repoRoot, remoteName string) error {
	out, err := exec.CommandContext(ctx, "git", "-C", repoRoot, "remote", "get-url", remoteName).Output() //nolint:gosec // G204: remoteName is operator-configured
	if err != nil {
		return fmt.Errorf("git remote get-url %s: %w", remoteName, err)
	}
	url := strings.TrimSpace(string(out))
	httpsURL, ok := sshToHTTPS(url)
	if !ok {
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "-C", repoRoot, "remote", "set-url", remoteName, httpsURL) //nolint:gosec // G204: httpsURL derived from git config
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git remote set-url: %w\n%s", err, out)
	}
	return nil
}

var sshRemotePattern = regexp.MustCompile(`^git@([^:]+):(.+?)(\.git)?$`)

func sshToHTTPS(url string) (string, bool) {
	m := sshRemotePattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("https://%s/%s.git", m[1], m[2]), true
}
