// Package index implements the reindex pipeline. Each run builds a new
// timestamped physical index, populates it from the catalog, validates
// the result and atomically swaps the read alias onto it, so searches
// never observe a half-built index.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/quickparts/searchd/internal/catalog"
	"github.com/quickparts/searchd/internal/errors"
	"github.com/quickparts/searchd/internal/journal"
	"github.com/quickparts/searchd/internal/search"
	"github.com/quickparts/searchd/internal/store"
	"github.com/quickparts/searchd/internal/ui"
)

const (
	// indexTimestampLayout keeps physical index names lexicographically
	// ordered by creation time. Always UTC so hosts in different zones
	// produce comparable names.
	indexTimestampLayout = "2006_01_02_15_04_05"

	healthPollAttempts = 15
	healthPollInterval = 2 * time.Second
	healthPollTimeout  = 10 * time.Second

	gcEveryBatches    = 10
	pauseEveryBatches = 50
	interBatchPause   = time.Second

	matchAllProbeSize = 5

	// cleanupTimeout bounds partial-index cleanup and journal writes
	// after the run context is gone.
	cleanupTimeout = 30 * time.Second
)

// RunnerConfig configures one pipeline run.
type RunnerConfig struct {
	// Alias is the stable read alias swapped onto the new index.
	Alias string

	// IndexPrefix names physical indices <prefix>_<timestamp>.
	IndexPrefix string

	// BatchSize is how many catalog rows each bulk call carries.
	BatchSize int

	// DocCountTolerance is the allowed absolute difference between the
	// indexed document count and the number of accepted documents.
	DocCountTolerance int

	// MaxOldIndices is how many superseded physical indices retention
	// keeps alongside the active one.
	MaxOldIndices int

	// DryRun stops after analysis and reports what a run would do.
	DryRun bool
}

func (c *RunnerConfig) setDefaults() {
	if c.Alias == "" {
		c.Alias = "products_current"
	}
	if c.IndexPrefix == "" {
		c.IndexPrefix = "products"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	// Zero is meaningful for both: strict validation, keep nothing old.
	if c.DocCountTolerance < 0 {
		c.DocCountTolerance = 0
	}
	if c.MaxOldIndices < 0 {
		c.MaxOldIndices = 0
	}
}

// RunnerResult contains the outcome of a pipeline run.
type RunnerResult struct {
	// IndexName is the physical index the run created.
	IndexName string

	// Processed is the number of documents accepted by bulk calls.
	Processed int

	// Skipped is the number of rows dropped by the document builder.
	Skipped int

	// ItemErrors is the number of per-document bulk rejections.
	ItemErrors int

	// TotalSource is the catalog row count at analysis time.
	TotalSource int64

	// Duration is the total run time.
	Duration time.Duration

	// Warnings counts non-fatal problems, retention failures included.
	Warnings int

	// Stages carries per-stage durations.
	Stages ui.StageTimings

	// DryRun marks a run that stopped after analysis.
	DryRun bool
}

// ProductIterator pulls catalog batches. An empty batch means the
// catalog is exhausted.
type ProductIterator interface {
	Next(ctx context.Context) ([]catalog.Product, error)
}

// ProductSource is the slice of the relational store the pipeline
// consumes.
type ProductSource interface {
	Ping(ctx context.Context) error
	TotalProducts(ctx context.Context) (int64, error)
	StreamProducts(batchSize int) ProductIterator
}

// storeSource adapts the concrete MySQL store to ProductSource.
type storeSource struct {
	*store.MySQLStore
}

func (s storeSource) StreamProducts(batchSize int) ProductIterator {
	return s.MySQLStore.StreamProducts(batchSize)
}

// StoreSource wraps a MySQL store as a ProductSource.
func StoreSource(s *store.MySQLStore) ProductSource {
	return storeSource{s}
}

// RunJournal records run outcomes.
type RunJournal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Backend is the search engine the pipeline writes to (required).
	Backend search.Backend

	// Source streams catalog rows (required).
	Source ProductSource

	// Schema is the raw index schema applied to new indices (required).
	Schema []byte

	// Builder transforms rows into documents. Defaults to a builder on
	// the system clock.
	Builder *catalog.Builder

	// Journal records run outcomes. Optional; journal failures are
	// logged, never fatal.
	Journal RunJournal

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock names new indices. Defaults to time.Now.
	Clock func() time.Time
}

// Runner executes the reindex pipeline with progress reporting.
type Runner struct {
	renderer ui.Renderer
	backend  search.Backend
	source   ProductSource
	schema   []byte
	builder  *catalog.Builder
	journal  RunJournal
	logger   *slog.Logger
	clock    func() time.Time

	healthAttempts int
	healthInterval time.Duration
	batchPause     time.Duration
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("search backend is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("product source is required")
	}
	if len(deps.Schema) == 0 {
		return nil, fmt.Errorf("index schema is required")
	}

	builder := deps.Builder
	if builder == nil {
		builder = catalog.NewBuilder()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Runner{
		renderer:       deps.Renderer,
		backend:        deps.Backend,
		source:         deps.Source,
		schema:         deps.Schema,
		builder:        builder,
		journal:        deps.Journal,
		logger:         logger,
		clock:          clock,
		healthAttempts: healthPollAttempts,
		healthInterval: healthPollInterval,
		batchPause:     interBatchPause,
	}, nil
}

// stageTiming tracks duration for each pipeline stage.
type stageTiming struct {
	preflight time.Duration
	connect   time.Duration
	analyze   time.Duration
	create    time.Duration
	populate  time.Duration
	validate  time.Duration
	swap      time.Duration
	retention time.Duration
}

// runState accumulates per-run facts the stages hand to each other.
type runState struct {
	cfg    RunnerConfig
	schema json.RawMessage

	indexName    string
	created      bool
	swapped      bool
	aliasTargets []string
	existing     []string

	total       int64
	processed   int
	skipped     int
	itemErrors  int
	warnings    int
	skipReasons map[string]int
}

// Run executes the full pipeline. On any failure after the new index
// was created and before the alias swap, the partial index is deleted
// and the original error surfaced.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	cfg.setDefaults()
	started := time.Now()
	st := &runState{cfg: cfg, skipReasons: make(map[string]int)}
	var timing stageTiming

	r.logger.Info("index_run_started",
		slog.String("alias", cfg.Alias),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Bool("dry_run", cfg.DryRun))

	t0 := time.Now()
	if err := r.preflight(st); err != nil {
		return nil, r.fail(st, started, ui.StagePreflight, err)
	}
	timing.preflight = time.Since(t0)

	t0 = time.Now()
	if err := r.connect(ctx); err != nil {
		return nil, r.fail(st, started, ui.StageConnect, err)
	}
	timing.connect = time.Since(t0)

	t0 = time.Now()
	if err := r.analyze(ctx, st); err != nil {
		return nil, r.fail(st, started, ui.StageAnalyze, err)
	}
	timing.analyze = time.Since(t0)

	if cfg.DryRun {
		return r.finishDryRun(ctx, st, started, timing), nil
	}

	t0 = time.Now()
	if err := r.create(ctx, st); err != nil {
		return nil, r.fail(st, started, ui.StageCreate, err)
	}
	timing.create = time.Since(t0)

	t0 = time.Now()
	if err := r.populate(ctx, st); err != nil {
		return nil, r.fail(st, started, ui.StagePopulate, err)
	}
	timing.populate = time.Since(t0)

	t0 = time.Now()
	if err := r.validate(ctx, st); err != nil {
		return nil, r.fail(st, started, ui.StageValidate, err)
	}
	timing.validate = time.Since(t0)

	t0 = time.Now()
	if err := r.swap(ctx, st); err != nil {
		return nil, r.fail(st, started, ui.StageSwap, err)
	}
	timing.swap = time.Since(t0)

	t0 = time.Now()
	r.retention(ctx, st)
	timing.retention = time.Since(t0)

	duration := time.Since(started)
	stages := timing.toUI()

	r.renderer.Complete(ui.CompletionStats{
		IndexName:  st.indexName,
		Processed:  st.processed,
		Skipped:    st.skipped,
		ItemErrors: st.itemErrors,
		Duration:   duration,
		Warnings:   st.warnings,
		Stages:     stages,
	})

	r.recordRun(st, started, journal.StatusSuccess, ui.StageComplete.Icon(), nil)

	docsPerSec := 0.0
	if timing.populate.Seconds() > 0 {
		docsPerSec = float64(st.processed) / timing.populate.Seconds()
	}
	r.logger.Info("index_complete",
		slog.String("index", st.indexName),
		slog.Int("processed", st.processed),
		slog.Int("skipped", st.skipped),
		slog.Int("item_errors", st.itemErrors),
		slog.Int64("total_source", st.total),
		slog.String("duration_total", duration.String()),
		slog.Int64("duration_total_ms", duration.Milliseconds()),
		slog.Int64("duration_preflight_ms", timing.preflight.Milliseconds()),
		slog.Int64("duration_connect_ms", timing.connect.Milliseconds()),
		slog.Int64("duration_analyze_ms", timing.analyze.Milliseconds()),
		slog.Int64("duration_create_ms", timing.create.Milliseconds()),
		slog.Int64("duration_populate_ms", timing.populate.Milliseconds()),
		slog.Int64("duration_validate_ms", timing.validate.Milliseconds()),
		slog.Int64("duration_swap_ms", timing.swap.Milliseconds()),
		slog.Int64("duration_retention_ms", timing.retention.Milliseconds()),
		slog.Float64("docs_per_sec", docsPerSec))

	return &RunnerResult{
		IndexName:   st.indexName,
		Processed:   st.processed,
		Skipped:     st.skipped,
		ItemErrors:  st.itemErrors,
		TotalSource: st.total,
		Duration:    duration,
		Warnings:    st.warnings,
		Stages:      stages,
	}, nil
}

func (t stageTiming) toUI() ui.StageTimings {
	return ui.StageTimings{
		Preflight: t.preflight,
		Connect:   t.connect,
		Analyze:   t.analyze,
		Create:    t.create,
		Populate:  t.populate,
		Validate:  t.validate,
		Swap:      t.swap,
		Retention: t.retention,
	}
}

// preflight verifies the schema is present and structurally sound
// before any remote call is made.
func (r *Runner) preflight(st *runState) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StagePreflight,
		Message: "Validating index schema...",
	})

	schema, err := search.LoadSchema(r.schema)
	if err != nil {
		return err
	}
	st.schema = schema

	r.logger.Info("index_preflight_ok", slog.Int("schema_bytes", len(schema)))
	return nil
}

// connect opens both backends and rejects a red cluster outright.
func (r *Runner) connect(ctx context.Context) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageConnect,
		Message: "Connecting to search backend and catalog...",
	})

	if err := r.backend.Ping(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeBackendUnavailable, err).
			WithSuggestion("check elasticsearch.addresses in the configuration")
	}
	if err := r.source.Ping(ctx); err != nil {
		return err
	}

	health, err := r.backend.ClusterHealth(ctx, "")
	if err != nil {
		return err
	}
	if health.Status == "red" {
		return errors.New(errors.ErrCodeClusterRed, "cluster health is red, refusing to index", nil).
			WithSuggestion("wait for the cluster to recover before reindexing")
	}

	r.logger.Info("index_connect_ok",
		slog.String("cluster_status", health.Status),
		slog.Int64("health_elapsed_ms", health.Elapsed.Milliseconds()))
	return nil
}

// analyze collects the facts the rest of the run depends on: existing
// physical indices, the current alias target and the catalog size.
func (r *Runner) analyze(ctx context.Context, st *runState) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageAnalyze,
		Message: "Analyzing catalog and existing indices...",
	})

	existing, err := r.backend.ListIndices(ctx, st.cfg.IndexPrefix+"_*")
	if err != nil {
		return err
	}
	st.existing = existing

	targets, err := r.backend.GetAlias(ctx, st.cfg.Alias)
	if err != nil {
		return err
	}
	st.aliasTargets = targets

	total, err := r.source.TotalProducts(ctx)
	if err != nil {
		return err
	}
	if total == 0 {
		return errors.New(errors.ErrCodeNoSourceRows, "catalog has no indexable products", nil).
			WithSuggestion("an empty index would replace live data; aborting")
	}
	st.total = total

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageAnalyze,
		Message: fmt.Sprintf("%d products in catalog", total),
	})
	r.logger.Info("index_analyze_ok",
		slog.Int64("total_products", total),
		slog.Int("existing_indices", len(existing)),
		slog.Any("alias_targets", targets))
	return nil
}

// newIndexName derives the timestamped physical index name.
func (r *Runner) newIndexName(prefix string) string {
	return prefix + "_" + r.clock().UTC().Format(indexTimestampLayout)
}

// create builds the new physical index and waits until it is ready to
// accept writes.
func (r *Runner) create(ctx context.Context, st *runState) error {
	name := r.newIndexName(st.cfg.IndexPrefix)

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageCreate,
		Message: fmt.Sprintf("Creating %s...", name),
	})

	exists, err := r.backend.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		// A leftover from a run that started within the same second.
		r.logger.Warn("index_create_replacing", slog.String("index", name))
		if err := r.backend.DeleteIndex(ctx, name); err != nil {
			return err
		}
		if err := r.waitForDeletion(ctx, name); err != nil {
			return err
		}
	}

	if err := r.backend.CreateIndex(ctx, name, st.schema); err != nil {
		return err
	}
	st.indexName = name
	st.created = true

	return r.waitForIndex(ctx, name)
}

// waitForDeletion polls until a deleted index stops resolving.
func (r *Runner) waitForDeletion(ctx context.Context, name string) error {
	for i := 0; i < 10; i++ {
		exists, err := r.backend.IndexExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeIndexFailed, ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
	return errors.New(errors.ErrCodeIndexFailed, "index "+name+" still exists after deletion", nil)
}

// waitForIndex polls cluster health for the new index until it reports
// yellow or green.
func (r *Runner) waitForIndex(ctx context.Context, name string) error {
	for attempt := 1; attempt <= r.healthAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, healthPollTimeout)
		health, err := r.backend.ClusterHealth(probeCtx, name)
		cancel()

		if err == nil && (health.Status == "green" || health.Status == "yellow") {
			r.logger.Info("index_ready",
				slog.String("index", name),
				slog.String("status", health.Status),
				slog.Int("attempts", attempt))
			return nil
		}
		if err != nil {
			r.logger.Debug("index_health_probe_failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}

		if attempt < r.healthAttempts {
			select {
			case <-ctx.Done():
				return errors.Wrap(errors.ErrCodeIndexFailed, ctx.Err())
			case <-time.After(r.healthInterval):
			}
		}
	}
	return errors.New(errors.ErrCodeIndexFailed,
		fmt.Sprintf("index %s not ready after %d health probes", name, r.healthAttempts), nil)
}

// populate streams the catalog into the new index batch by batch.
// Per-document rejections are counted and reported but never abort the
// run; transport failures do.
func (r *Runner) populate(ctx context.Context, st *runState) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StagePopulate,
		Total:   int(st.total),
		Message: fmt.Sprintf("indexing %d products", st.total),
	})

	it := r.source.StreamProducts(st.cfg.BatchSize)
	batchNum := 0

	for {
		select {
		case <-ctx.Done():
			return errors.New(errors.ErrCodeIndexFailed,
				fmt.Sprintf("populate interrupted at %d/%d documents", st.processed, st.total),
				ctx.Err())
		default:
		}

		batch, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		batchNum++

		docs := make([]search.BulkDoc, 0, len(batch))
		for _, p := range batch {
			doc, skip := r.builder.Build(p)
			if skip != catalog.SkipNone {
				st.skipped++
				st.skipReasons[string(skip)]++
				continue
			}
			docs = append(docs, search.BulkDoc{ID: doc.ID(), Body: doc})
		}

		if len(docs) > 0 {
			res, err := r.backend.Bulk(ctx, st.indexName, docs)
			if err != nil {
				return err
			}
			st.processed += res.Indexed
			for _, item := range res.ItemErrors {
				st.itemErrors++
				r.renderer.AddError(ui.ErrorEvent{
					Ref: "document " + item.ID,
					Err: fmt.Errorf("%s", item.Reason),
				})
			}
			if len(res.ItemErrors) > 0 {
				r.logger.Warn("index_bulk_rejections",
					slog.Int("batch", batchNum),
					slog.Int("rejected", len(res.ItemErrors)))
			}
		}

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StagePopulate,
			Current: st.processed,
			Total:   int(st.total),
			Detail:  fmt.Sprintf("batch %d", batchNum),
		})

		// Long runs hold a lot of short-lived document garbage; trim it
		// periodically, and back off so the cluster keeps serving reads.
		if batchNum%gcEveryBatches == 0 {
			runtime.GC()
		}
		if batchNum%pauseEveryBatches == 0 {
			select {
			case <-ctx.Done():
				return errors.New(errors.ErrCodeIndexFailed,
					fmt.Sprintf("populate interrupted at %d/%d documents", st.processed, st.total),
					ctx.Err())
			case <-time.After(r.batchPause):
			}
		}
	}

	r.logger.Info("index_populate_complete",
		slog.Int("processed", st.processed),
		slog.Int("skipped", st.skipped),
		slog.Int("item_errors", st.itemErrors),
		slog.Int("batches", batchNum))
	if st.skipped > 0 {
		r.logger.Warn("index_rows_skipped", slog.Any("reasons", st.skipReasons))
	}
	return nil
}

// validate refreshes the new index and cross-checks what actually
// landed in it before it can become visible.
func (r *Runner) validate(ctx context.Context, st *runState) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageValidate,
		Message: "Validating document counts...",
	})

	if err := r.backend.Refresh(ctx, st.indexName); err != nil {
		return err
	}

	stats, err := r.backend.Stats(ctx, st.indexName)
	if err != nil {
		return err
	}
	diff := stats.DocCount - int64(st.processed)
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(st.cfg.DocCountTolerance) {
		return errors.New(errors.ErrCodeDocCountMismatch,
			fmt.Sprintf("index holds %d documents, expected %d", stats.DocCount, st.processed), nil).
			WithDetail("tolerance", strconv.Itoa(st.cfg.DocCountTolerance))
	}

	probe, err := r.backend.Search(ctx, st.indexName, map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"size":  matchAllProbeSize,
	})
	if err != nil {
		return err
	}
	if probe.Total < 1 {
		return errors.New(errors.ErrCodeEmptyIndex, "match_all probe returned no documents", nil)
	}

	r.logger.Info("index_validate_ok",
		slog.Int64("doc_count", stats.DocCount),
		slog.Int("processed", st.processed),
		slog.Int64("probe_total", probe.Total))
	return nil
}

// swap points the read alias at the new index in one atomic action
// list: every stale target removed, the new index added.
func (r *Runner) swap(ctx context.Context, st *runState) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageSwap,
		Message: fmt.Sprintf("Swapping %s onto %s...", st.cfg.Alias, st.indexName),
	})

	actions := make([]search.AliasAction, 0, len(st.aliasTargets)+1)
	for _, target := range st.aliasTargets {
		if target == st.indexName {
			continue
		}
		actions = append(actions, search.AliasAction{
			Type:  search.AliasRemove,
			Index: target,
			Alias: st.cfg.Alias,
		})
	}
	actions = append(actions, search.AliasAction{
		Type:  search.AliasAdd,
		Index: st.indexName,
		Alias: st.cfg.Alias,
	})

	if err := r.backend.UpdateAliases(ctx, actions); err != nil {
		return err
	}
	st.swapped = true

	r.logger.Info("index_swap_ok",
		slog.String("alias", st.cfg.Alias),
		slog.String("index", st.indexName),
		slog.Int("removed_targets", len(actions)-1))
	return nil
}

// retention prunes superseded physical indices, keeping the newest
// MaxOldIndices+1 by lexicographically descending name. Failures here
// never fail the run; the swap already happened.
func (r *Runner) retention(ctx context.Context, st *runState) {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageRetention,
		Message: "Pruning old indices...",
	})

	names, err := r.backend.ListIndices(ctx, st.cfg.IndexPrefix+"_*")
	if err != nil {
		st.warnings++
		r.renderer.AddError(ui.ErrorEvent{Ref: "retention", Err: err, IsWarn: true})
		r.logger.Warn("index_retention_list_failed", slog.String("error", err.Error()))
		return
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	keep := st.cfg.MaxOldIndices + 1
	if len(names) <= keep {
		return
	}

	for _, name := range names[keep:] {
		if err := r.backend.DeleteIndex(ctx, name); err != nil {
			st.warnings++
			r.renderer.AddError(ui.ErrorEvent{Ref: name, Err: err, IsWarn: true})
			r.logger.Warn("index_retention_delete_failed",
				slog.String("index", name),
				slog.String("error", err.Error()))
			continue
		}
		r.logger.Info("index_retired", slog.String("index", name))
	}
}

// finishDryRun reports the plan a real run would execute.
func (r *Runner) finishDryRun(ctx context.Context, st *runState, started time.Time, timing stageTiming) *RunnerResult {
	duration := time.Since(started)
	wouldCreate := r.newIndexName(st.cfg.IndexPrefix)

	r.renderer.Complete(ui.CompletionStats{
		IndexName: wouldCreate,
		Processed: int(st.total),
		Duration:  duration,
		DryRun:    true,
		Stages:    timing.toUI(),
	})

	st.indexName = ""
	r.recordRunCtx(ctx, st, started, journal.StatusSuccess, ui.StageAnalyze.Icon(), nil, true)

	r.logger.Info("index_dry_run_complete",
		slog.String("would_create", wouldCreate),
		slog.Int64("total_source", st.total),
		slog.Any("current_alias_targets", st.aliasTargets),
		slog.Int("existing_indices", len(st.existing)))

	return &RunnerResult{
		IndexName:   wouldCreate,
		TotalSource: st.total,
		Duration:    duration,
		Stages:      timing.toUI(),
		DryRun:      true,
	}
}

// fail runs the failure sink: partial-index cleanup, journal entry,
// error log. The original error is always the one surfaced.
func (r *Runner) fail(st *runState, started time.Time, stage ui.Stage, err error) error {
	r.logger.Error("index_failed",
		slog.String("stage", stage.Icon()),
		slog.String("error", err.Error()))

	if st.created && !st.swapped {
		r.cleanupPartial(st.indexName)
	}
	r.recordRun(st, started, journal.StatusFailed, stage.Icon(), err)
	return err
}

// cleanupPartial deletes a half-built index so it can never shadow a
// later run. Best effort on a fresh context; the run context may
// already be cancelled.
func (r *Runner) cleanupPartial(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	r.logger.Info("index_cleanup_partial", slog.String("index", name))
	if err := r.backend.DeleteIndex(ctx, name); err != nil {
		r.logger.Warn("index_cleanup_failed",
			slog.String("index", name),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) recordRun(st *runState, started time.Time, status, stage string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	r.recordRunCtx(ctx, st, started, status, stage, runErr, st.cfg.DryRun)
}

func (r *Runner) recordRunCtx(ctx context.Context, st *runState, started time.Time, status, stage string, runErr error, dryRun bool) {
	if r.journal == nil {
		return
	}

	entry := journal.Entry{
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Status:      status,
		IndexName:   st.indexName,
		Processed:   st.processed,
		Skipped:     st.skipped,
		ItemErrors:  st.itemErrors,
		TotalSource: st.total,
		Stage:       stage,
		DryRun:      dryRun,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}

	if err := r.journal.Record(ctx, entry); err != nil {
		r.logger.Warn("journal_write_failed", slog.String("error", err.Error()))
	}
}
