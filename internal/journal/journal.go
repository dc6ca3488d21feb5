// Package journal keeps a local history of indexer runs in SQLite so
// operators can audit what happened without trawling logs.
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quickparts/searchd/internal/errors"
)

// Entry is one recorded indexer run.
type Entry struct {
	ID          int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	IndexName   string
	Processed   int
	Skipped     int
	ItemErrors  int
	TotalSource int64
	Stage       string
	Error       string
	DryRun      bool
}

// Run outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Duration is the wall time of the run.
func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

const schema = `
CREATE TABLE IF NOT EXISTS index_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	status TEXT NOT NULL,
	index_name TEXT NOT NULL DEFAULT '',
	processed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	item_errors INTEGER NOT NULL DEFAULT 0,
	total_source INTEGER NOT NULL DEFAULT 0,
	stage TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	dry_run INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_index_runs_started ON index_runs(started_at DESC);
`

// Journal is the run history store. A single writer at a time is
// expected (the indexer lock already guarantees it); readers are
// concurrent.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "cannot create journal directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "cannot open run journal", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Pragmas go through statements; DSN parameters are not reliable
	// with this driver.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.New(errors.ErrCodeInternal, "cannot configure run journal", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeInternal, "cannot migrate run journal", err)
	}

	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one run entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	dryRun := 0
	if e.DryRun {
		dryRun = 1
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO index_runs
			(started_at, finished_at, status, index_name, processed, skipped, item_errors, total_source, stage, error, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
		e.Status,
		e.IndexName,
		e.Processed,
		e.Skipped,
		e.ItemErrors,
		e.TotalSource,
		e.Stage,
		e.Error,
		dryRun,
	)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "recording index run failed", err)
	}
	return nil
}

// History returns the most recent runs, newest first.
func (j *Journal) History(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, index_name, processed, skipped, item_errors, total_source, stage, error, dry_run
		FROM index_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading index run history failed", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			startedAt  string
			finishedAt string
			dryRun     int
		)
		if err := rows.Scan(
			&e.ID, &startedAt, &finishedAt, &e.Status, &e.IndexName,
			&e.Processed, &e.Skipped, &e.ItemErrors, &e.TotalSource,
			&e.Stage, &e.Error, &dryRun,
		); err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "scanning index run history failed", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			e.FinishedAt = t
		}
		e.DryRun = dryRun != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading index run history failed", err)
	}
	return entries, nil
}
