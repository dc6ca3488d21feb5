// Package store reads the product catalog from MySQL. It feeds the
// indexer in ascending product_id batches and serves the degraded
// search path when the search backend is unavailable.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"

	"github.com/quickparts/searchd/internal/catalog"
	"github.com/quickparts/searchd/internal/errors"
)

// retryMaxElapsed bounds transparent reconnect attempts. Kept short:
// it papers over stale pooled connections, not real outages.
const retryMaxElapsed = 3 * time.Second

// Config holds MySQL connection settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	Params          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the driver connection string.
func (c Config) DSN() string {
	params := c.Params
	if params == "" {
		params = "parseTime=true"
	} else if !strings.Contains(params, "parseTime") {
		params += "&parseTime=true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.User, c.Password, c.Host, c.Port, c.Database, params)
}

// MySQLStore is the catalog reader. Safe for concurrent use; every
// request checks a connection out of the pool for its lifetime.
type MySQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMySQLStore opens the pool and verifies connectivity.
func NewMySQLStore(ctx context.Context, cfg Config, logger *slog.Logger) (*MySQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "cannot open mysql pool", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := newStoreWithDB(db, logger)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// newStoreWithDB wraps an existing pool. Tests use it to run the
// store against an in-memory database.
func newStoreWithDB(db *sql.DB, logger *slog.Logger) *MySQLStore {
	return &MySQLStore{db: db, logger: logger}
}

// Close releases the pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the store answers.
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "mysql ping failed", err).
			WithSuggestion("check database credentials and network reachability")
	}
	return nil
}

// isRetryableError reports whether err is a transient connection
// failure worth one more attempt through the pool.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"lost connection",
		"gone away",
		"i/o timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry reruns op on transient connection errors. Backoff state
// is per call; instances must not be shared.
func (s *MySQLStore) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = retryMaxElapsed

	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// productColumns and productJoins are shared by the streaming and
// fallback queries so both scan identically.
const productColumns = `
	p.product_id,
	COALESCE(p.external_id, ''),
	COALESCE(p.sku, ''),
	COALESCE(p.name, ''),
	COALESCE(p.description, ''),
	COALESCE(p.brand_id, 0),
	COALESCE(b.name, ''),
	COALESCE(p.series_id, 0),
	COALESCE(s.name, ''),
	COALESCE(p.unit, ''),
	COALESCE(p.dimensions, ''),
	COALESCE(p.min_sale, 1),
	COALESCE(p.weight, 0),
	p.created_at,
	p.updated_at`

const productJoins = `
FROM products p
LEFT JOIN brands b ON b.id = p.brand_id
LEFT JOIN series s ON s.id = p.series_id`

// TotalProducts counts indexable rows.
func (s *MySQLStore) TotalProducts(ctx context.Context) (int64, error) {
	var total int64
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE product_id > 0`).Scan(&total)
	})
	if err != nil {
		return 0, errors.New(errors.ErrCodeStoreQuery, "counting products failed", err)
	}
	return total, nil
}

// StreamProducts returns a batch iterator over the catalog in
// ascending product_id order. Keyset pagination keeps each page cheap
// regardless of catalog size.
func (s *MySQLStore) StreamProducts(batchSize int) *ProductBatches {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &ProductBatches{store: s, batchSize: batchSize}
}

// ProductBatches pulls catalog pages one at a time. Next returns an
// empty slice once the catalog is exhausted.
type ProductBatches struct {
	store     *MySQLStore
	batchSize int
	lastID    int64
	done      bool
}

// Next fetches the next batch.
func (it *ProductBatches) Next(ctx context.Context) ([]catalog.Product, error) {
	if it.done {
		return nil, nil
	}

	query := `SELECT` + productColumns + productJoins + `
WHERE p.product_id > ?
ORDER BY p.product_id ASC
LIMIT ?`

	var batch []catalog.Product
	err := it.store.withRetry(ctx, func() error {
		rows, err := it.store.db.QueryContext(ctx, query, it.lastID, it.batchSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		batch, err = scanProductRows(rows, false)
		return err
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreQuery, "streaming products failed", err)
	}

	if len(batch) == 0 {
		it.done = true
		return nil, nil
	}
	it.lastID = batch[len(batch)-1].ProductID
	if len(batch) < it.batchSize {
		it.done = true
	}
	return batch, nil
}

// scanProductRows maps joined rows onto catalog.Product values,
// consuming a trailing relevance_score column when withScore is set.
func scanProductRows(rows *sql.Rows, withScore bool) ([]catalog.Product, error) {
	var products []catalog.Product
	for rows.Next() {
		var (
			p         catalog.Product
			createdAt sql.NullTime
			updatedAt sql.NullTime
			score     int
		)
		dests := []any{
			&p.ProductID, &p.ExternalID, &p.SKU, &p.Name, &p.Description,
			&p.BrandID, &p.BrandName, &p.SeriesID, &p.SeriesName,
			&p.Unit, &p.Dimensions, &p.MinSale, &p.Weight,
			&createdAt, &updatedAt,
		}
		if withScore {
			dests = append(dests, &score)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			t := createdAt.Time
			p.CreatedAt = &t
		}
		if updatedAt.Valid {
			t := updatedAt.Time
			p.UpdatedAt = &t
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
