package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickparts/searchd/internal/catalog"
	"github.com/quickparts/searchd/internal/errors"
	"github.com/quickparts/searchd/internal/journal"
	"github.com/quickparts/searchd/internal/search"
	"github.com/quickparts/searchd/internal/ui"
)

const testSchema = `{
  "settings": {
    "analysis": {
      "analyzer": {
        "text_analyzer": {"type": "custom", "tokenizer": "standard"},
        "code_analyzer": {"type": "custom", "tokenizer": "keyword"},
        "search_analyzer": {"type": "custom", "tokenizer": "standard"},
        "autocomplete_analyzer": {"type": "custom", "tokenizer": "standard"}
      }
    }
  },
  "mappings": {
    "properties": {
      "product_id": {"type": "long"},
      "external_id": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "sku": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "name": {"type": "text", "fields": {
        "keyword": {"type": "keyword"},
        "ngram": {"type": "text"},
        "autocomplete": {"type": "text"}
      }},
      "brand_name": {"type": "text", "fields": {"autocomplete": {"type": "text"}}},
      "suggest": {"type": "completion"}
    }
  }
}`

// fakeBackend is an in-memory search engine for pipeline tests. Hook
// functions override single operations where a test needs a failure.
type fakeBackend struct {
	calls            []string
	indices          map[string]json.RawMessage
	aliases          map[string][]string
	docs             map[string]int64
	status           string
	lastAliasActions []search.AliasAction

	bulkFn   func(index string, docs []search.BulkDoc) (*search.BulkResult, error)
	searchFn func(index string, body map[string]any) (*search.SearchResult, error)
	statsFn  func(index string) (*search.IndexStats, error)
	healthFn func(index string) (*search.ClusterHealth, error)
	deleteFn func(name string) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		indices: make(map[string]json.RawMessage),
		aliases: make(map[string][]string),
		docs:    make(map[string]int64),
		status:  "green",
	}
}

func (f *fakeBackend) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) called(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeBackend) Ping(ctx context.Context) error {
	f.record("Ping")
	return nil
}

func (f *fakeBackend) ClusterHealth(ctx context.Context, index string) (*search.ClusterHealth, error) {
	f.record("ClusterHealth:" + index)
	if f.healthFn != nil {
		return f.healthFn(index)
	}
	return &search.ClusterHealth{Status: f.status, Elapsed: time.Millisecond}, nil
}

func (f *fakeBackend) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	f.record("ListIndices:" + pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	var names []string
	for name := range f.indices {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (f *fakeBackend) GetAlias(ctx context.Context, alias string) ([]string, error) {
	f.record("GetAlias:" + alias)
	return f.aliases[alias], nil
}

func (f *fakeBackend) IndexExists(ctx context.Context, name string) (bool, error) {
	_, ok := f.indices[name]
	return ok, nil
}

func (f *fakeBackend) CreateIndex(ctx context.Context, name string, schema json.RawMessage) error {
	f.record("CreateIndex:" + name)
	f.indices[name] = schema
	f.docs[name] = 0
	return nil
}

func (f *fakeBackend) DeleteIndex(ctx context.Context, name string) error {
	f.record("DeleteIndex:" + name)
	if f.deleteFn != nil {
		if err := f.deleteFn(name); err != nil {
			return err
		}
	}
	delete(f.indices, name)
	delete(f.docs, name)
	return nil
}

func (f *fakeBackend) Bulk(ctx context.Context, index string, docs []search.BulkDoc) (*search.BulkResult, error) {
	f.record(fmt.Sprintf("Bulk:%s:%d", index, len(docs)))
	if f.bulkFn != nil {
		res, err := f.bulkFn(index, docs)
		if res != nil {
			f.docs[index] += int64(res.Indexed)
		}
		return res, err
	}
	f.docs[index] += int64(len(docs))
	return &search.BulkResult{Indexed: len(docs)}, nil
}

func (f *fakeBackend) Refresh(ctx context.Context, name string) error {
	f.record("Refresh:" + name)
	return nil
}

func (f *fakeBackend) Stats(ctx context.Context, name string) (*search.IndexStats, error) {
	if f.statsFn != nil {
		return f.statsFn(name)
	}
	return &search.IndexStats{DocCount: f.docs[name]}, nil
}

func (f *fakeBackend) Search(ctx context.Context, index string, body map[string]any) (*search.SearchResult, error) {
	f.record("Search:" + index)
	if f.searchFn != nil {
		return f.searchFn(index, body)
	}
	return &search.SearchResult{Total: f.docs[index]}, nil
}

func (f *fakeBackend) UpdateAliases(ctx context.Context, actions []search.AliasAction) error {
	f.record(fmt.Sprintf("UpdateAliases:%d", len(actions)))
	f.lastAliasActions = actions
	for _, a := range actions {
		switch a.Type {
		case search.AliasRemove:
			targets := f.aliases[a.Alias]
			kept := targets[:0]
			for _, t := range targets {
				if t != a.Index {
					kept = append(kept, t)
				}
			}
			f.aliases[a.Alias] = kept
		case search.AliasAdd:
			f.aliases[a.Alias] = append(f.aliases[a.Alias], a.Index)
		}
	}
	return nil
}

func (f *fakeBackend) PluginsInstalled(ctx context.Context) ([]string, error) {
	return nil, nil
}

var _ search.Backend = (*fakeBackend)(nil)

// fakeSource serves scripted catalog batches.
type fakeSource struct {
	pingErr  error
	total    int64
	totalErr error
	batches  [][]catalog.Product
	nextErr  error

	// onBatch runs before a batch is returned; used to cancel contexts
	// mid-stream.
	onBatch func(i int)
}

func (s *fakeSource) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeSource) TotalProducts(ctx context.Context) (int64, error) {
	return s.total, s.totalErr
}

func (s *fakeSource) StreamProducts(batchSize int) ProductIterator {
	return &fakeIterator{src: s}
}

type fakeIterator struct {
	src *fakeSource
	i   int
}

func (it *fakeIterator) Next(ctx context.Context) ([]catalog.Product, error) {
	if it.src.nextErr != nil {
		return nil, it.src.nextErr
	}
	if it.src.onBatch != nil {
		it.src.onBatch(it.i)
	}
	if it.i >= len(it.src.batches) {
		return nil, nil
	}
	batch := it.src.batches[it.i]
	it.i++
	return batch, nil
}

// recordingRenderer captures everything the pipeline reports.
type recordingRenderer struct {
	events   []ui.ProgressEvent
	errors   []ui.ErrorEvent
	complete *ui.CompletionStats
}

func (r *recordingRenderer) Start(ctx context.Context) error { return nil }
func (r *recordingRenderer) UpdateProgress(e ui.ProgressEvent) {
	r.events = append(r.events, e)
}
func (r *recordingRenderer) AddError(e ui.ErrorEvent) { r.errors = append(r.errors, e) }
func (r *recordingRenderer) Complete(s ui.CompletionStats) {
	r.complete = &s
}
func (r *recordingRenderer) Stop() error { return nil }

type recordingJournal struct {
	entries []journal.Entry
	err     error
}

func (j *recordingJournal) Record(ctx context.Context, e journal.Entry) error {
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, e)
	return nil
}

func testProducts(startID int64, n int) []catalog.Product {
	products := make([]catalog.Product, n)
	for i := range products {
		id := startID + int64(i)
		products[i] = catalog.Product{
			ProductID:  id,
			ExternalID: fmt.Sprintf("EXT-%04d", id),
			Name:       fmt.Sprintf("Valve %d", id),
			BrandName:  "Acme",
			MinSale:    1,
		}
	}
	return products
}

const wantIndexName = "products_2025_07_01_10_00_00"

func fixedClock() time.Time {
	return time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
}

type runnerFixture struct {
	backend  *fakeBackend
	source   *fakeSource
	renderer *recordingRenderer
	journal  *recordingJournal
	runner   *Runner
}

func newFixture(t *testing.T, backend *fakeBackend, source *fakeSource) *runnerFixture {
	t.Helper()

	renderer := &recordingRenderer{}
	jrnl := &recordingJournal{}

	runner, err := NewRunner(RunnerDependencies{
		Renderer: renderer,
		Backend:  backend,
		Source:   source,
		Schema:   []byte(testSchema),
		Journal:  jrnl,
		Clock:    fixedClock,
	})
	require.NoError(t, err)

	// No real waiting in tests.
	runner.healthInterval = time.Millisecond
	runner.batchPause = time.Millisecond

	return &runnerFixture{
		backend:  backend,
		source:   source,
		renderer: renderer,
		journal:  jrnl,
		runner:   runner,
	}
}

func testConfig() RunnerConfig {
	return RunnerConfig{
		Alias:         "products_current",
		IndexPrefix:   "products",
		BatchSize:     2,
		MaxOldIndices: 2,
	}
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	renderer := &recordingRenderer{}
	backend := newFakeBackend()
	source := &fakeSource{}
	schema := []byte(testSchema)

	tests := []struct {
		name string
		deps RunnerDependencies
		want string
	}{
		{"missing renderer", RunnerDependencies{Backend: backend, Source: source, Schema: schema}, "renderer is required"},
		{"missing backend", RunnerDependencies{Renderer: renderer, Source: source, Schema: schema}, "search backend is required"},
		{"missing source", RunnerDependencies{Renderer: renderer, Backend: backend, Schema: schema}, "product source is required"},
		{"missing schema", RunnerDependencies{Renderer: renderer, Backend: backend, Source: source}, "index schema is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunner_SuccessfulRun(t *testing.T) {
	// Given a catalog of five products and one live index behind the alias
	backend := newFakeBackend()
	backend.indices["products_2025_06_30_10_00_00"] = json.RawMessage(`{}`)
	backend.aliases["products_current"] = []string{"products_2025_06_30_10_00_00"}

	source := &fakeSource{
		total: 5,
		batches: [][]catalog.Product{
			testProducts(1, 2),
			testProducts(3, 2),
			testProducts(5, 1),
		},
	}
	f := newFixture(t, backend, source)

	// When the pipeline runs
	result, err := f.runner.Run(context.Background(), testConfig())

	// Then the new index carries every document and owns the alias
	require.NoError(t, err)
	assert.Equal(t, wantIndexName, result.IndexName)
	assert.Equal(t, 5, result.Processed)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.ItemErrors)
	assert.Equal(t, int64(5), result.TotalSource)

	assert.Contains(t, backend.indices, wantIndexName)
	assert.Equal(t, int64(5), backend.docs[wantIndexName])
	assert.Equal(t, []string{wantIndexName}, backend.aliases["products_current"])

	require.Len(t, backend.lastAliasActions, 2, "one remove plus one add")
	assert.Equal(t, search.AliasRemove, backend.lastAliasActions[0].Type)
	assert.Equal(t, "products_2025_06_30_10_00_00", backend.lastAliasActions[0].Index)
	assert.Equal(t, search.AliasAdd, backend.lastAliasActions[1].Type)
	assert.Equal(t, wantIndexName, backend.lastAliasActions[1].Index)

	// Old index survives retention (two kept plus the new one)
	assert.Contains(t, backend.indices, "products_2025_06_30_10_00_00")

	require.Len(t, f.journal.entries, 1)
	entry := f.journal.entries[0]
	assert.Equal(t, journal.StatusSuccess, entry.Status)
	assert.Equal(t, wantIndexName, entry.IndexName)
	assert.Equal(t, 5, entry.Processed)
	assert.Equal(t, "DONE", entry.Stage)
	assert.False(t, entry.DryRun)

	require.NotNil(t, f.renderer.complete)
	assert.Equal(t, wantIndexName, f.renderer.complete.IndexName)
	assert.Equal(t, 5, f.renderer.complete.Processed)
}

func TestRunner_RetentionPrunesOldIndices(t *testing.T) {
	backend := newFakeBackend()
	old := []string{
		"products_2025_06_27_10_00_00",
		"products_2025_06_28_10_00_00",
		"products_2025_06_29_10_00_00",
		"products_2025_06_30_10_00_00",
	}
	for _, name := range old {
		backend.indices[name] = json.RawMessage(`{}`)
	}
	backend.aliases["products_current"] = []string{"products_2025_06_30_10_00_00"}

	source := &fakeSource{total: 2, batches: [][]catalog.Product{testProducts(1, 2)}}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.NoError(t, err)
	// Keep the new index plus the two most recent old ones.
	assert.Contains(t, backend.indices, wantIndexName)
	assert.Contains(t, backend.indices, "products_2025_06_30_10_00_00")
	assert.Contains(t, backend.indices, "products_2025_06_29_10_00_00")
	assert.NotContains(t, backend.indices, "products_2025_06_28_10_00_00")
	assert.NotContains(t, backend.indices, "products_2025_06_27_10_00_00")
}

func TestRunner_RetentionFailuresAreWarnings(t *testing.T) {
	backend := newFakeBackend()
	for _, name := range []string{
		"products_2025_06_27_10_00_00",
		"products_2025_06_28_10_00_00",
		"products_2025_06_29_10_00_00",
		"products_2025_06_30_10_00_00",
	} {
		backend.indices[name] = json.RawMessage(`{}`)
	}
	backend.deleteFn = func(name string) error {
		if name == "products_2025_06_27_10_00_00" {
			return fmt.Errorf("shard locked")
		}
		return nil
	}

	source := &fakeSource{total: 1, batches: [][]catalog.Product{testProducts(1, 1)}}
	f := newFixture(t, backend, source)

	result, err := f.runner.Run(context.Background(), testConfig())

	require.NoError(t, err, "retention failures never fail the run")
	assert.Equal(t, 1, result.Warnings)
	require.Len(t, f.renderer.errors, 1)
	assert.True(t, f.renderer.errors[0].IsWarn)
}

func TestRunner_SkipsInvalidRows(t *testing.T) {
	backend := newFakeBackend()
	batch := testProducts(1, 2)
	batch = append(batch,
		catalog.Product{ProductID: 0, Name: "orphan"},
		catalog.Product{ProductID: 9},
	)
	source := &fakeSource{total: 4, batches: [][]catalog.Product{batch}}
	f := newFixture(t, backend, source)

	result, err := f.runner.Run(context.Background(), testConfig())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, int64(2), backend.docs[wantIndexName])
}

func TestRunner_ItemErrorsAreNotFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.bulkFn = func(index string, docs []search.BulkDoc) (*search.BulkResult, error) {
		return &search.BulkResult{
			Indexed: len(docs) - 1,
			ItemErrors: []search.BulkItemError{
				{ID: docs[0].ID, Reason: "mapper_parsing_exception"},
			},
		}, nil
	}
	source := &fakeSource{total: 2, batches: [][]catalog.Product{testProducts(1, 2)}}
	f := newFixture(t, backend, source)

	result, err := f.runner.Run(context.Background(), testConfig())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.ItemErrors)
	require.Len(t, f.renderer.errors, 1)
	assert.Contains(t, f.renderer.errors[0].Ref, "document")
}

func TestRunner_BulkTransportErrorAborts(t *testing.T) {
	backend := newFakeBackend()
	backend.bulkFn = func(index string, docs []search.BulkDoc) (*search.BulkResult, error) {
		return nil, errors.New(errors.ErrCodeBulkTransport, "connection reset", nil)
	}
	source := &fakeSource{total: 2, batches: [][]catalog.Product{testProducts(1, 2)}}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBulkTransport, errors.GetCode(err))

	// The half-built index is cleaned up.
	assert.NotContains(t, backend.indices, wantIndexName)

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, journal.StatusFailed, f.journal.entries[0].Status)
	assert.Equal(t, "POPULATE", f.journal.entries[0].Stage)
}

func TestRunner_EmptyCatalogFails(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{total: 0}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoSourceRows, errors.GetCode(err))
	assert.False(t, backend.called("CreateIndex"), "no index may be created for an empty catalog")

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, "ANALYZE", f.journal.entries[0].Stage)
}

func TestRunner_RedClusterFails(t *testing.T) {
	backend := newFakeBackend()
	backend.status = "red"
	source := &fakeSource{total: 5}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeClusterRed, errors.GetCode(err))
	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, "CONNECT", f.journal.entries[0].Stage)
}

func TestRunner_DocCountMismatchCleansUp(t *testing.T) {
	backend := newFakeBackend()
	backend.aliases["products_current"] = []string{"products_2025_06_30_10_00_00"}
	backend.indices["products_2025_06_30_10_00_00"] = json.RawMessage(`{}`)
	backend.statsFn = func(name string) (*search.IndexStats, error) {
		return &search.IndexStats{DocCount: 500}, nil
	}
	source := &fakeSource{total: 2, batches: [][]catalog.Product{testProducts(1, 2)}}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDocCountMismatch, errors.GetCode(err))
	assert.NotContains(t, backend.indices, wantIndexName)
	assert.Equal(t, []string{"products_2025_06_30_10_00_00"}, backend.aliases["products_current"],
		"the alias must still point at the old index")
}

func TestRunner_DocCountWithinTolerancePasses(t *testing.T) {
	backend := newFakeBackend()
	backend.statsFn = func(name string) (*search.IndexStats, error) {
		return &search.IndexStats{DocCount: 7}, nil
	}
	source := &fakeSource{total: 10, batches: [][]catalog.Product{testProducts(1, 10)}}
	f := newFixture(t, backend, source)

	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.DocCountTolerance = 5

	_, err := f.runner.Run(context.Background(), cfg)

	require.NoError(t, err, "a difference of 3 sits inside the tolerance of 5")
}

func TestRunner_EmptyProbeFails(t *testing.T) {
	backend := newFakeBackend()
	backend.searchFn = func(index string, body map[string]any) (*search.SearchResult, error) {
		return &search.SearchResult{Total: 0}, nil
	}
	source := &fakeSource{total: 2, batches: [][]catalog.Product{testProducts(1, 2)}}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmptyIndex, errors.GetCode(err))
	assert.NotContains(t, backend.indices, wantIndexName)
}

func TestRunner_DryRunStopsAfterAnalyze(t *testing.T) {
	backend := newFakeBackend()
	backend.aliases["products_current"] = []string{"products_2025_06_30_10_00_00"}
	source := &fakeSource{total: 1500}
	f := newFixture(t, backend, source)

	cfg := testConfig()
	cfg.DryRun = true

	result, err := f.runner.Run(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, int64(1500), result.TotalSource)
	assert.Equal(t, wantIndexName, result.IndexName, "reports the name a real run would create")

	assert.False(t, backend.called("CreateIndex"))
	assert.False(t, backend.called("Bulk"))
	assert.False(t, backend.called("UpdateAliases"))

	require.Len(t, f.journal.entries, 1)
	assert.True(t, f.journal.entries[0].DryRun)
	assert.Equal(t, "ANALYZE", f.journal.entries[0].Stage)
	assert.Empty(t, f.journal.entries[0].IndexName)

	require.NotNil(t, f.renderer.complete)
	assert.True(t, f.renderer.complete.DryRun)
	assert.Equal(t, 1500, f.renderer.complete.Processed)
}

func TestRunner_ReplacesLeftoverIndexWithSameName(t *testing.T) {
	backend := newFakeBackend()
	backend.indices[wantIndexName] = json.RawMessage(`{"stale": true}`)
	source := &fakeSource{total: 2, batches: [][]catalog.Product{testProducts(1, 2)}}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.NoError(t, err)
	assert.True(t, backend.called("DeleteIndex:"+wantIndexName))
	assert.True(t, backend.called("CreateIndex:"+wantIndexName))
	assert.Equal(t, int64(2), backend.docs[wantIndexName])
}

func TestRunner_InvalidSchemaFailsPreflight(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{total: 5}
	renderer := &recordingRenderer{}
	jrnl := &recordingJournal{}

	runner, err := NewRunner(RunnerDependencies{
		Renderer: renderer,
		Backend:  backend,
		Source:   source,
		Schema:   []byte(`{"settings": {}, "mappings": {}}`),
		Journal:  jrnl,
		Clock:    fixedClock,
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), testConfig())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSchemaInvalid, errors.GetCode(err))
	assert.Empty(t, backend.calls, "no remote call before the schema checks out")
	require.Len(t, jrnl.entries, 1)
	assert.Equal(t, "PREFLIGHT", jrnl.entries[0].Stage)
}

func TestRunner_MissingAliasSwapOnlyAdds(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{total: 1, batches: [][]catalog.Product{testProducts(1, 1)}}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.NoError(t, err)
	require.Len(t, backend.lastAliasActions, 1)
	assert.Equal(t, search.AliasAdd, backend.lastAliasActions[0].Type)
	assert.Equal(t, []string{wantIndexName}, backend.aliases["products_current"])
}

func TestRunner_InterruptDuringPopulateCleansUp(t *testing.T) {
	backend := newFakeBackend()
	ctx, cancel := context.WithCancel(context.Background())

	source := &fakeSource{
		total: 6,
		batches: [][]catalog.Product{
			testProducts(1, 2),
			testProducts(3, 2),
			testProducts(5, 2),
		},
	}
	source.onBatch = func(i int) {
		if i == 1 {
			cancel()
		}
	}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(ctx, testConfig())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.NotContains(t, backend.indices, wantIndexName,
		"an interrupted run must not leave a partial index behind")

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, journal.StatusFailed, f.journal.entries[0].Status)
	assert.Equal(t, "POPULATE", f.journal.entries[0].Stage)
}

func TestRunner_IndexNeverReadyFails(t *testing.T) {
	backend := newFakeBackend()
	backend.healthFn = func(index string) (*search.ClusterHealth, error) {
		if index == "" {
			return &search.ClusterHealth{Status: "green"}, nil
		}
		return &search.ClusterHealth{Status: "red"}, nil
	}
	source := &fakeSource{total: 2, batches: [][]catalog.Product{testProducts(1, 2)}}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIndexFailed, errors.GetCode(err))
	assert.Contains(t, err.Error(), "not ready")
	assert.NotContains(t, backend.indices, wantIndexName)
}

func TestRunner_IndexReadyAfterRetries(t *testing.T) {
	backend := newFakeBackend()
	probes := 0
	backend.healthFn = func(index string) (*search.ClusterHealth, error) {
		if index == "" {
			return &search.ClusterHealth{Status: "green"}, nil
		}
		probes++
		if probes < 3 {
			return &search.ClusterHealth{Status: "red"}, nil
		}
		return &search.ClusterHealth{Status: "yellow"}, nil
	}
	source := &fakeSource{total: 2, batches: [][]catalog.Product{testProducts(1, 2)}}
	f := newFixture(t, backend, source)

	_, err := f.runner.Run(context.Background(), testConfig())

	require.NoError(t, err)
	assert.Equal(t, 3, probes)
}

func TestRunner_PausesBetweenBatchGroups(t *testing.T) {
	// 101 single-product batches cross the pause threshold twice.
	backend := newFakeBackend()
	batches := make([][]catalog.Product, 101)
	for i := range batches {
		batches[i] = testProducts(int64(i+1), 1)
	}
	source := &fakeSource{total: 101, batches: batches}
	f := newFixture(t, backend, source)

	cfg := testConfig()
	cfg.BatchSize = 1

	result, err := f.runner.Run(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, 101, result.Processed)
	assert.Equal(t, int64(101), backend.docs[wantIndexName])
}

func TestRunner_JournalFailureDoesNotFailRun(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{total: 1, batches: [][]catalog.Product{testProducts(1, 1)}}

	renderer := &recordingRenderer{}
	runner, err := NewRunner(RunnerDependencies{
		Renderer: renderer,
		Backend:  backend,
		Source:   source,
		Schema:   []byte(testSchema),
		Journal:  &recordingJournal{err: fmt.Errorf("disk full")},
		Clock:    fixedClock,
	})
	require.NoError(t, err)
	runner.healthInterval = time.Millisecond
	runner.batchPause = time.Millisecond

	_, err = runner.Run(context.Background(), testConfig())

	require.NoError(t, err)
}

func TestRunner_StageTimingsPopulated(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{total: 1, batches: [][]catalog.Product{testProducts(1, 1)}}
	f := newFixture(t, backend, source)

	result, err := f.runner.Run(context.Background(), testConfig())

	require.NoError(t, err)
	assert.Greater(t, result.Duration, time.Duration(0))
	assert.Greater(t, result.Stages.Populate, time.Duration(0))
}
