package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Journal persists diagnostic entries to a per-user SQLite database so the
// trace of a run survives client restarts. A sibling lock file serializes
// writers across concurrent CLI invocations.
type Journal struct {
	db         *sql.DB
	lock       *flock.Flock
	path       string
	workflowID string
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workflow_id TEXT NOT NULL,
    created_at TEXT NOT NULL,
    message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_workflow ON journal_entries(workflow_id, id);
`

// OpenJournal initializes or connects to the journal database for one
// workflow. The caller must Close it on session teardown.
func OpenJournal(path, workflowID string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure journal directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire journal lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("journal %s is locked by another process", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &Journal{db: db, lock: lock, path: path, workflowID: workflowID}, nil
}

// Append writes one entry for the journal's workflow.
func (j *Journal) Append(entry Entry) error {
	if j == nil || j.db == nil {
		return nil
	}
	_, err := j.db.Exec(
		`INSERT INTO journal_entries (workflow_id, created_at, message) VALUES (?, ?, ?)`,
		j.workflowID,
		entry.At.UTC().Format(time.RFC3339Nano),
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Entries returns all persisted entries for a workflow in append order.
func (j *Journal) Entries(ctx context.Context, workflowID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT created_at, message FROM journal_entries WHERE workflow_id = ? ORDER BY id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var createdAt, message string
		if err := rows.Scan(&createdAt, &message); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		at, parseErr := time.Parse(time.RFC3339Nano, createdAt)
		if parseErr != nil {
			at = time.Time{}
		}
		entries = append(entries, Entry{At: at, Message: message})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}

// Path returns the journal database location.
func (j *Journal) Path() string { return j.path }

// Close releases the database handle and the writer lock.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var firstErr error
	if j.db != nil {
		if err := j.db.Close(); err != nil {
			firstErr = err
		}
	}
	if j.lock != nil {
		if err := j.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
