package sqlite

// schema is applied with CREATE TABLE IF NOT EXISTS / CREATE INDEX IF
// NOT EXISTS so it is safe to run against an existing database; all
// schema evolution beyond this baseline runs through the safe-migrate
// primitive in migrations.go.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id                TEXT PRIMARY KEY,
    repo_root         TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'queued',
    session           TEXT DEFAULT '',
    worktree          TEXT DEFAULT '',
    branch            TEXT DEFAULT '',
    log_file          TEXT DEFAULT '',
    retries           INTEGER NOT NULL DEFAULT 0,
    max_retries       INTEGER NOT NULL DEFAULT 3,
    escalation_depth  INTEGER NOT NULL DEFAULT 0,
    max_escalation    INTEGER NOT NULL DEFAULT 2,
    model             TEXT DEFAULT '',
    last_error        TEXT DEFAULT '',
    pr_url            TEXT DEFAULT '',
    issue_url         TEXT DEFAULT '',
    metadata          TEXT NOT NULL DEFAULT '{}',
    created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at        DATETIME,
    completed_at      DATETIME,
    updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (retries <= max_retries OR status IN ('blocked','failed','cancelled'))
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_repo_root ON tasks(repo_root);

CREATE TABLE IF NOT EXISTS state_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state   TEXT NOT NULL,
    reason     TEXT DEFAULT '',
    timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_state_log_task ON state_log(task_id);

CREATE TABLE IF NOT EXISTS proof_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id        TEXT NOT NULL,
    event          TEXT NOT NULL,
    stage          TEXT NOT NULL DEFAULT '',
    decision       TEXT NOT NULL DEFAULT '',
    evidence       TEXT NOT NULL DEFAULT '',
    decision_maker TEXT NOT NULL DEFAULT '',
    pr_url         TEXT DEFAULT '',
    duration_secs  REAL,
    metadata       TEXT NOT NULL DEFAULT '{}',
    timestamp      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_proof_log_task ON proof_log(task_id);
CREATE INDEX IF NOT EXISTS idx_proof_log_stage ON proof_log(task_id, stage);

CREATE TABLE IF NOT EXISTS batches (
    name                TEXT PRIMARY KEY,
    base_concurrency    INTEGER NOT NULL DEFAULT 1,
    max_concurrency     INTEGER NOT NULL DEFAULT 0,
    max_load_factor     REAL NOT NULL DEFAULT 0.85,
    status              TEXT NOT NULL DEFAULT 'active',
    release_on_complete INTEGER NOT NULL DEFAULT 0,
    release_type        TEXT NOT NULL DEFAULT '',
    skip_quality_gate   INTEGER NOT NULL DEFAULT 0,
    created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS batch_members (
    batch_name TEXT NOT NULL,
    task_id    TEXT NOT NULL,
    position   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (batch_name, task_id),
    FOREIGN KEY (batch_name) REFERENCES batches(name) ON DELETE CASCADE,
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_batch_members_task ON batch_members(task_id);

CREATE TABLE IF NOT EXISTS worktree_registry (
    path       TEXT PRIMARY KEY,
    task_id    TEXT NOT NULL,
    session    TEXT NOT NULL,
    pid        INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS config (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS schema_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL DEFAULT ''
);
`
