package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quickparts/searchd/internal/errors"
)

// Store persists daily aggregates between restarts. The collector
// writes; `searchd metrics` reads.
type Store interface {
	SaveRouteCounts(date string, counts map[Route]int64) error
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	UpsertTermCounts(terms map[string]int64) error
	AddZeroResultQuery(query string, at time.Time) error

	RouteCounts(from, to string) (map[Route]int64, error)
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	TopTerms(limit int) ([]TermCount, error)
	ZeroResultQueries(limit int) ([]string, error)

	Close() error
}

// maxStoredZeroResults caps the persisted empty-query history.
const maxStoredZeroResults = 500

const storeSchema = `
CREATE TABLE IF NOT EXISTS query_routes (
	date TEXT NOT NULL,
	route TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, route)
);
CREATE TABLE IF NOT EXISTS query_latency (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);
CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 1,
	last_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);
CREATE TABLE IF NOT EXISTS zero_result_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	seen_at TEXT NOT NULL
);
`

// SQLiteStore is the Store implementation on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenStore creates or opens the statistics database at path.
func OpenStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "cannot create telemetry directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "cannot open telemetry store", err)
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
			return nil, errors.New(errors.ErrCodeInternal, "cannot configure telemetry store", err)
		}
	}

	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeInternal, "cannot migrate telemetry store", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRouteCounts adds counts onto the daily route totals.
func (s *SQLiteStore) SaveRouteCounts(date string, counts map[Route]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "saving route counts failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_routes (date, route, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, route) DO UPDATE SET count = count + excluded.count`)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "saving route counts failed", err)
	}
	defer stmt.Close()

	for route, count := range counts {
		if _, err := stmt.Exec(date, string(route), count); err != nil {
			return errors.New(errors.ErrCodeInternal, "saving route counts failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeInternal, "saving route counts failed", err)
	}
	return nil
}

// SaveLatencyCounts adds counts onto the daily latency histogram.
func (s *SQLiteStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "saving latency counts failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_latency (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "saving latency counts failed", err)
	}
	defer stmt.Close()

	for bucket, count := range counts {
		if _, err := stmt.Exec(date, string(bucket), count); err != nil {
			return errors.New(errors.ErrCodeInternal, "saving latency counts failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeInternal, "saving latency counts failed", err)
	}
	return nil
}

// UpsertTermCounts adds counts onto the all-time term frequencies.
func (s *SQLiteStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "saving term counts failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = excluded.last_seen`)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "saving term counts failed", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for term, count := range terms {
		if _, err := stmt.Exec(term, count, now); err != nil {
			return errors.New(errors.ErrCodeInternal, "saving term counts failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeInternal, "saving term counts failed", err)
	}
	return nil
}

// AddZeroResultQuery appends one empty-result query and trims the
// history to the retention cap.
func (s *SQLiteStore) AddZeroResultQuery(query string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO zero_result_queries (query, seen_at)
		VALUES (?, ?)`,
		query, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "recording zero-result query failed", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries
			ORDER BY id DESC
			LIMIT ?
		)`, maxStoredZeroResults)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "trimming zero-result queries failed", err)
	}
	return nil
}

// RouteCounts sums the route totals over a date range, inclusive.
func (s *SQLiteStore) RouteCounts(from, to string) (map[Route]int64, error) {
	rows, err := s.db.Query(`
		SELECT route, SUM(count)
		FROM query_routes
		WHERE date >= ? AND date <= ?
		GROUP BY route`, from, to)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading route counts failed", err)
	}
	defer rows.Close()

	counts := make(map[Route]int64)
	for rows.Next() {
		var (
			route string
			count int64
		)
		if err := rows.Scan(&route, &count); err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "reading route counts failed", err)
		}
		counts[Route(route)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading route counts failed", err)
	}
	return counts, nil
}

// LatencyCounts sums the latency histogram over a date range, inclusive.
func (s *SQLiteStore) LatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count)
		FROM query_latency
		WHERE date >= ? AND date <= ?
		GROUP BY bucket`, from, to)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading latency counts failed", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var (
			bucket string
			count  int64
		)
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "reading latency counts failed", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading latency counts failed", err)
	}
	return counts, nil
}

// TopTerms returns the most frequent terms, highest count first.
func (s *SQLiteStore) TopTerms(limit int) ([]TermCount, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading top terms failed", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "reading top terms failed", err)
		}
		terms = append(terms, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading top terms failed", err)
	}
	return terms, nil
}

// ZeroResultQueries returns the most recent empty-result queries,
// newest first.
func (s *SQLiteStore) ZeroResultQueries(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT query
		FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading zero-result queries failed", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "reading zero-result queries failed", err)
		}
		queries = append(queries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "reading zero-result queries failed", err)
	}
	return queries, nil
}
