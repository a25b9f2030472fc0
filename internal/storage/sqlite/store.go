// Package sqlite is the Store: a transactional key/value interface
// layered over an embedded, pure-Go SQL engine (ncruces/go-sqlite3,
// running SQLite compiled to WASM — no cgo) with write-ahead logging.
// It is the sole mediator of task state (spec §5).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/marcusquinn/aidevops-sub001/internal/prooflog"
	"github.com/marcusquinn/aidevops-sub001/internal/statemachine"
	"github.com/marcusquinn/aidevops-sub001/internal/task"
)

// busyTimeout matches spec §4.1: every connection sets a 5-second
// busy-timeout so concurrent WAL readers never see SQLITE_BUSY under
// normal contention.
const busyTimeout = 5 * time.Second

// Store is the supervisor's embedded database handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the supervisor database at path,
// enabling WAL journalling and the busy-timeout, then runs the
// baseline schema and any pending safe-migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1) // WAL allows concurrent readers, but this Store serializes writers itself

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying baseline schema: %w", err)
	}
	if err := runMigrations(path, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts a new task row in StatusQueued.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if t.Status == "" {
		t.Status = task.StatusQueued
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}
	if t.MaxEscalation == 0 {
		t.MaxEscalation = 2
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, repo_root, description, status, session, worktree, branch, log_file,
			retries, max_retries, escalation_depth, max_escalation, model, last_error, pr_url, issue_url,
			metadata, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.RepoRoot, t.Description, string(t.Status), t.Session, t.Worktree, t.Branch, t.LogFile,
		t.Retries, t.MaxRetries, t.EscalationDepth, t.MaxEscalation, t.Model, t.LastError, t.PRURL, t.IssueURL,
		string(meta), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a task by id. Returns nil, nil if not found.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_root, description, status, session, worktree, branch, log_file,
			retries, max_retries, escalation_depth, max_escalation, model, last_error, pr_url, issue_url,
			metadata, created_at, started_at, completed_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*task.Task, error) {
	var t task.Task
	var status, meta string
	var started, completed sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.RepoRoot, &t.Description, &status, &t.Session, &t.Worktree, &t.Branch, &t.LogFile,
		&t.Retries, &t.MaxRetries, &t.EscalationDepth, &t.MaxEscalation, &t.Model, &t.LastError, &t.PRURL, &t.IssueURL,
		&meta, &createdAt, &started, &completed, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	t.Status = task.Status(status)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if t.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if t.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}
	return &t, nil
}

// ListTasksByStatus returns all tasks currently in any of the given
// statuses, ordered by creation time (oldest first, for FIFO dispatch).
func (s *Store) ListTasksByStatus(ctx context.Context, statuses ...task.Status) ([]*task.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]any, len(statuses))
	qs := ""
	for i, st := range statuses {
		placeholders[i] = string(st)
		if i > 0 {
			qs += ","
		}
		qs += "?"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_root, description, status, session, worktree, branch, log_file,
			retries, max_retries, escalation_depth, max_escalation, model, last_error, pr_url, issue_url,
			metadata, created_at, started_at, completed_at, updated_at
		FROM tasks WHERE status IN (`+qs+`) ORDER BY created_at ASC`, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionOptions carries the optional side-band fields a transition
// may update atomically with the status change (spec §4.2).
type TransitionOptions struct {
	Reason   string
	Session  string
	Worktree string
	Branch   string
	LogFile  string
	PRURL    string
	SetModel string
}

// Transition validates and applies a status change, writing a matching
// state_log row and (for significant transitions) a proof_log row, all
// within a single database transaction.
func (s *Store) Transition(ctx context.Context, taskID string, to task.Status, opts TransitionOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transition tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	t, err := scanTask(tx.QueryRowContext(ctx, `
		SELECT id, repo_root, description, status, session, worktree, branch, log_file,
			retries, max_retries, escalation_depth, max_escalation, model, last_error, pr_url, issue_url,
			metadata, created_at, started_at, completed_at, updated_at
		FROM tasks WHERE id = ?`, taskID))
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	if err := statemachine.Validate(t.Status, to); err != nil {
		return err
	}
	effects := statemachine.Effects(t.Status, to)

	now := time.Now().UTC()
	session, worktree, branch, logFile, prURL, model := t.Session, t.Worktree, t.Branch, t.LogFile, t.PRURL, t.Model
	if opts.Session != "" {
		session = opts.Session
	}
	if opts.Worktree != "" {
		worktree = opts.Worktree
	}
	if opts.Branch != "" {
		branch = opts.Branch
	}
	if opts.LogFile != "" {
		logFile = opts.LogFile
	}
	if opts.PRURL != "" {
		prURL = opts.PRURL
	}
	if opts.SetModel != "" {
		model = opts.SetModel
	}
	if effects.ClearWorktree {
		worktree, branch, session = "", "", ""
	}

	retries := t.Retries
	if effects.IncrementRetry {
		retries++
	}

	escalationDepth := t.EscalationDepth
	if effects.IncrementEscalation {
		escalationDepth++
	}

	var startedAt, completedAt sql.NullString
	if t.StartedAt != nil {
		startedAt = sql.NullString{String: formatTime(*t.StartedAt), Valid: true}
	}
	if effects.SetStartedAt {
		startedAt = sql.NullString{String: formatTime(now), Valid: true}
	}
	if t.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*t.CompletedAt), Valid: true}
	}
	if effects.SetCompletedAt {
		completedAt = sql.NullString{String: formatTime(now), Valid: true}
	}

	lastError := t.LastError
	if opts.Reason != "" && (to == task.StatusBlocked || to == task.StatusFailed) {
		lastError = opts.Reason
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET status=?, session=?, worktree=?, branch=?, log_file=?, pr_url=?, model=?,
			retries=?, escalation_depth=?, last_error=?, started_at=?, completed_at=?, updated_at=?
		WHERE id=?`,
		string(to), session, worktree, branch, logFile, prURL, model,
		retries, escalationDepth, lastError, startedAt, completedAt, formatTime(now), taskID)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", taskID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO state_log (task_id, from_state, to_state, reason, timestamp) VALUES (?,?,?,?,?)`,
		taskID, string(t.Status), string(to), opts.Reason, formatTime(now))
	if err != nil {
		return fmt.Errorf("writing state_log for %s: %w", taskID, err)
	}

	if statemachine.Significant(to) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO proof_log (task_id, event, stage, decision, evidence, decision_maker, pr_url, timestamp)
			VALUES (?,?,?,?,?,?,?,?)`,
			taskID, string(prooflog.EventTransition), string(to),
			prooflog.DecisionTransition(string(t.Status), string(to)), opts.Reason, "cmd_transition", prURL, formatTime(now))
		if err != nil {
			// Best-effort per spec §3: never fail the transition over a
			// proof-log write error.
			_ = err
		}
	}

	return tx.Commit()
}

// AppendProofLog writes an evidentiary row. Per spec §3/§4.3 this is
// always best-effort: callers should log a write failure but never
// fail the pipeline step because of one. Errors are still returned so
// the caller's logging layer can surface them.
func (s *Store) AppendProofLog(ctx context.Context, e *prooflog.Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	var dur sql.NullFloat64
	if e.DurationSecs != nil {
		dur = sql.NullFloat64{Float64: *e.DurationSecs, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO proof_log (task_id, event, stage, decision, evidence, decision_maker, pr_url, duration_secs, metadata, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.TaskID, string(e.Event), e.Stage, e.Decision, e.Evidence, e.DecisionMaker, e.PRURL, dur, string(meta), formatTime(e.Timestamp))
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	return nil
}

// ProofLogForTask returns every evidence row for a task, oldest first,
// for export and stage-duration inference.
func (s *Store) ProofLogForTask(ctx context.Context, taskID string) ([]*prooflog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, event, stage, decision, evidence, decision_maker, pr_url, duration_secs, metadata, timestamp
		FROM proof_log WHERE task_id = ? ORDER BY timestamp ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*prooflog.Entry
	for rows.Next() {
		e, err := scanProofLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanProofLog(row scannable) (*prooflog.Entry, error) {
	var e prooflog.Entry
	var event, meta, ts string
	var dur sql.NullFloat64
	if err := row.Scan(&e.ID, &e.TaskID, &event, &e.Stage, &e.Decision, &e.Evidence, &e.DecisionMaker, &e.PRURL, &dur, &meta, &ts); err != nil {
		return nil, err
	}
	e.Event = prooflog.Event(event)
	if dur.Valid {
		e.DurationSecs = &dur.Float64
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
	}
	t, err := parseTime(ts)
	if err != nil {
		return nil, err
	}
	e.Timestamp = t
	return &e, nil
}

// StateLogForTask returns the append-only transition history for a
// task, oldest first.
func (s *Store) StateLogForTask(ctx context.Context, taskID string) ([]*task.StateLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, from_state, to_state, reason, timestamp
		FROM state_log WHERE task_id = ? ORDER BY timestamp ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.StateLogEntry
	for rows.Next() {
		var e task.StateLogEntry
		var from, to, ts string
		if err := rows.Scan(&e.ID, &e.TaskID, &from, &to, &e.Reason, &ts); err != nil {
			return nil, err
		}
		e.From, e.To = task.Status(from), task.Status(to)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
