package sqlite

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Migration is a single named schema change, applied in order during
// store initialization. Tables lists the tables whose row counts must
// not decrease across the migration — the defense against the
// historical "INSERT INTO t SELECT * FROM t_old" bug that silently
// dropped rows whenever a column was added (spec §9).
type Migration struct {
	Name   string
	Tables []string
	Func   func(*sql.DB) error
}

// migrationsList is the ordered list of schema changes beyond the
// baseline schema.go. All migrations are idempotent (guarded with
// IF NOT EXISTS / existence checks) so re-running them is a no-op.
var migrationsList = []Migration{
	{
		Name:   "composite_indexes",
		Tables: []string{"tasks", "state_log", "proof_log"},
		Func:   migrateCompositeIndexes,
	},
	{
		Name:   "batch_release_columns",
		Tables: []string{"batches"},
		Func:   migrateBatchReleaseColumns,
	},
}

func migrateCompositeIndexes(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_status_repo ON tasks(status, repo_root);
		CREATE INDEX IF NOT EXISTS idx_proof_log_event ON proof_log(event, timestamp);
	`)
	return err
}

func migrateBatchReleaseColumns(db *sql.DB) error {
	if hasColumn(db, "batches", "release_type") {
		return nil
	}
	_, err := db.Exec(`ALTER TABLE batches ADD COLUMN release_type TEXT NOT NULL DEFAULT ''`)
	return err
}

func hasColumn(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// runMigrations applies every pending migration under the safe-migrate
// discipline: backup -> migrate -> row-count verify -> rollback on
// mismatch -> prune backups to the 5 most recent.
func runMigrations(dbPath string, db *sql.DB) error {
	for _, m := range migrationsList {
		if err := safeMigrate(dbPath, db, m); err != nil {
			return fmt.Errorf("migration %q failed: %w", m.Name, err)
		}
	}
	return nil
}

func safeMigrate(dbPath string, db *sql.DB, m Migration) error {
	before, err := rowCounts(db, m.Tables)
	if err != nil {
		return fmt.Errorf("counting rows before %s: %w", m.Name, err)
	}

	backupPath, err := backupDatabase(dbPath, m.Name)
	if err != nil {
		return fmt.Errorf("backing up before %s: %w", m.Name, err)
	}

	runErr := m.Func(db)
	if runErr == nil {
		after, countErr := rowCounts(db, m.Tables)
		if countErr != nil {
			runErr = fmt.Errorf("counting rows after %s: %w", m.Name, countErr)
		} else if decreased, table := rowCountDecreased(before, after); decreased {
			runErr = fmt.Errorf("row count decreased for table %q during migration %s (before=%d after=%d)",
				table, m.Name, before[table], after[table])
		}
	}

	if runErr != nil {
		if restoreErr := restoreDatabase(backupPath, dbPath); restoreErr != nil {
			return fmt.Errorf("%w (additionally, restoring backup failed: %v)", runErr, restoreErr)
		}
		return runErr
	}

	pruneBackups(filepath.Dir(dbPath), filepath.Base(dbPath), 5)
	return nil
}

func rowCounts(db *sql.DB, tables []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		var n int64
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, nil
}

func rowCountDecreased(before, after map[string]int64) (bool, string) {
	for table, b := range before {
		if a, ok := after[table]; !ok || a < b {
			return true, table
		}
	}
	return false, ""
}

// backupDatabase copies dbPath (and its -wal/-shm sidecars, if present)
// to a timestamped backup file and returns the backup's path.
func backupDatabase(dbPath, reason string) (string, error) {
	ts := backupTimestamp()
	backupPath := fmt.Sprintf("%s-backup-%s-%s.db", strings.TrimSuffix(dbPath, filepath.Ext(dbPath)), sanitize(reason), ts)
	if err := copyFile(dbPath, backupPath); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		src := dbPath + suffix
		if _, err := os.Stat(src); err == nil {
			_ = copyFile(src, backupPath+suffix)
		}
	}
	return backupPath, nil
}

// restoreDatabase atomically restores dbPath from a prior backup.
func restoreDatabase(backupPath, dbPath string) error {
	if err := copyFile(backupPath, dbPath); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		bak := backupPath + suffix
		if _, err := os.Stat(bak); err == nil {
			_ = copyFile(bak, dbPath+suffix)
		} else {
			_ = os.Remove(dbPath + suffix)
		}
	}
	return nil
}

// pruneBackups removes all but the `keep` most recent backups for a
// given database base name.
func pruneBackups(dir, baseName string, keep int) {
	stem := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	pattern := filepath.Join(dir, stem+"-backup-*.db")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) <= keep {
		return
	}
	sort.Strings(matches) // timestamp suffix sorts lexically in chronological order
	toRemove := matches[:len(matches)-keep]
	for _, m := range toRemove {
		_ = os.Remove(m)
		_ = os.Remove(m + "-wal")
		_ = os.Remove(m + "-shm")
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// backupTimestamp is overridable in tests so backup filenames are
// deterministic; production code uses wall-clock time.
var backupTimestamp = func() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}
