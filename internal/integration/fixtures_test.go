// Package integration exercises the indexing pipeline and the query
// service against each other with only the network edges replaced:
// the search cluster and the catalog database are in-memory fakes,
// everything in between (builder, runner, journal, gate, service,
// config watcher) is the real thing.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quickparts/searchd/configs"
	"github.com/quickparts/searchd/internal/catalog"
	"github.com/quickparts/searchd/internal/health"
	"github.com/quickparts/searchd/internal/index"
	"github.com/quickparts/searchd/internal/journal"
	"github.com/quickparts/searchd/internal/search"
	"github.com/quickparts/searchd/internal/service"
	"github.com/quickparts/searchd/internal/store"
	"github.com/quickparts/searchd/internal/ui"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryBackend is an in-memory stand-in for the Elasticsearch client.
// It stores whole documents per physical index and resolves aliases
// the way the real backend does, so the pipeline and the query service
// can run against each other without a cluster.
type memoryBackend struct {
	mu      sync.Mutex
	indices map[string]map[string]json.RawMessage
	aliases map[string][]string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		indices: make(map[string]map[string]json.RawMessage),
		aliases: make(map[string][]string),
	}
}

func (m *memoryBackend) Ping(ctx context.Context) error { return nil }

func (m *memoryBackend) PluginsInstalled(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (m *memoryBackend) ClusterHealth(ctx context.Context, index string) (*search.ClusterHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index != "" {
		if _, ok := m.indices[index]; !ok {
			return nil, fmt.Errorf("no such index %q", index)
		}
	}
	return &search.ClusterHealth{Status: "green"}, nil
}

func (m *memoryBackend) CreateIndex(ctx context.Context, name string, schema json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indices[name]; ok {
		return fmt.Errorf("index %q already exists", name)
	}
	m.indices[name] = make(map[string]json.RawMessage)
	return nil
}

func (m *memoryBackend) DeleteIndex(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indices[name]; !ok {
		return fmt.Errorf("no such index %q", name)
	}
	delete(m.indices, name)

	// Deleting an index drops it from every alias, like the real thing.
	for alias, targets := range m.aliases {
		kept := make([]string, 0, len(targets))
		for _, t := range targets {
			if t != name {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(m.aliases, alias)
		} else {
			m.aliases[alias] = kept
		}
	}
	return nil
}

func (m *memoryBackend) IndexExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.indices[name]
	return ok, nil
}

func (m *memoryBackend) Refresh(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indices[name]; !ok {
		return fmt.Errorf("no such index %q", name)
	}
	return nil
}

func (m *memoryBackend) Stats(ctx context.Context, name string) (*search.IndexStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.indices[name]
	if !ok {
		return nil, fmt.Errorf("no such index %q", name)
	}
	return &search.IndexStats{DocCount: int64(len(docs))}, nil
}

func (m *memoryBackend) Bulk(ctx context.Context, index string, docs []search.BulkDoc) (*search.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.indices[index]
	if !ok {
		return nil, fmt.Errorf("no such index %q", index)
	}

	res := &search.BulkResult{}
	for _, doc := range docs {
		body, err := json.Marshal(doc.Body)
		if err != nil {
			res.ItemErrors = append(res.ItemErrors, search.BulkItemError{ID: doc.ID, Reason: err.Error()})
			continue
		}
		target[doc.ID] = body
		res.Indexed++
	}
	return res, nil
}

func (m *memoryBackend) UpdateAliases(ctx context.Context, actions []search.AliasAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole group before touching anything so the update
	// stays atomic.
	for _, a := range actions {
		if _, ok := m.indices[a.Index]; !ok {
			return fmt.Errorf("no such index %q", a.Index)
		}
	}

	for _, a := range actions {
		switch a.Type {
		case search.AliasAdd:
			present := false
			for _, t := range m.aliases[a.Alias] {
				if t == a.Index {
					present = true
					break
				}
			}
			if !present {
				m.aliases[a.Alias] = append(m.aliases[a.Alias], a.Index)
			}
		case search.AliasRemove:
			kept := make([]string, 0, len(m.aliases[a.Alias]))
			for _, t := range m.aliases[a.Alias] {
				if t != a.Index {
					kept = append(kept, t)
				}
			}
			if len(kept) == 0 {
				delete(m.aliases, a.Alias)
			} else {
				m.aliases[a.Alias] = kept
			}
		default:
			return fmt.Errorf("unknown alias action %q", a.Type)
		}
	}
	return nil
}

func (m *memoryBackend) GetAlias(ctx context.Context, alias string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	targets := append([]string(nil), m.aliases[alias]...)
	sort.Strings(targets)
	return targets, nil
}

func (m *memoryBackend) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := strings.TrimSuffix(pattern, "*")
	names := make([]string, 0, len(m.indices))
	for name := range m.indices {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Search resolves the alias and returns every stored document ordered
// by id, honoring only the body's size cap. Relevance ranking is the
// cluster's job; these tests need a faithful transport, not a scorer.
func (m *memoryBackend) Search(ctx context.Context, index string, body map[string]any) (*search.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := index
	if targets, ok := m.aliases[index]; ok && len(targets) > 0 {
		name = targets[0]
	}
	docs, ok := m.indices[name]
	if !ok {
		return nil, fmt.Errorf("no such index or alias %q", index)
	}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	size := len(ids)
	if v, ok := body["size"].(int); ok && v < size {
		size = v
	}

	result := &search.SearchResult{Total: int64(len(ids))}
	for _, id := range ids[:size] {
		result.Hits = append(result.Hits, search.Hit{ID: id, Score: 1, Source: docs[id]})
	}
	return result, nil
}

var _ search.Backend = (*memoryBackend)(nil)

// memorySource serves a fixed product slice in batches, standing in
// for the MySQL catalog.
type memorySource struct {
	products []catalog.Product
}

func (s *memorySource) Ping(ctx context.Context) error { return nil }

func (s *memorySource) TotalProducts(ctx context.Context) (int64, error) {
	return int64(len(s.products)), nil
}

func (s *memorySource) StreamProducts(batchSize int) index.ProductIterator {
	return &memoryIterator{products: s.products, batch: batchSize}
}

type memoryIterator struct {
	products []catalog.Product
	batch    int
	pos      int
}

func (it *memoryIterator) Next(ctx context.Context) ([]catalog.Product, error) {
	if it.pos >= len(it.products) {
		return nil, nil
	}
	end := it.pos + it.batch
	if end > len(it.products) {
		end = len(it.products)
	}
	batch := it.products[it.pos:end]
	it.pos = end
	return batch, nil
}

// staticFallback satisfies the fallback interface with empty answers.
// The integration tests here keep the gate up, so it never serves.
type staticFallback struct{}

func (staticFallback) FallbackSearch(ctx context.Context, spec search.SearchSpec) (*store.FallbackResult, error) {
	return &store.FallbackResult{Products: []catalog.Product{}, Page: spec.Page, Limit: spec.Limit}, nil
}

func (staticFallback) FallbackAutocomplete(ctx context.Context, q string, limit int) ([]search.Suggestion, error) {
	return []search.Suggestion{}, nil
}

func testJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// testRunner assembles a Runner around the in-memory edges. The clock
// is injectable because physical index names have second resolution
// and back-to-back runs must not collide.
func testRunner(t *testing.T, backend *memoryBackend, source index.ProductSource, j *journal.Journal, clock func() time.Time) *index.Runner {
	t.Helper()
	deps := index.RunnerDependencies{
		Renderer: ui.NewPlainRenderer(ui.NewConfig(io.Discard)),
		Backend:  backend,
		Source:   source,
		Schema:   configs.ProductSchema,
		Logger:   testLogger(),
		Clock:    clock,
	}
	// Assign only a live journal; a nil *Journal inside the interface
	// would pass the runner's nil check and crash on the first write.
	if j != nil {
		deps.Journal = j
	}
	runner, err := index.NewRunner(deps)
	require.NoError(t, err)
	return runner
}

func testService(t *testing.T, backend *memoryBackend) *service.QueryService {
	t.Helper()
	svc, err := service.NewQueryService(service.Config{}, service.Dependencies{
		Backend:  backend,
		Gate:     health.NewGate(backend, testLogger()),
		Fallback: staticFallback{},
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return svc
}

// testCatalog is a small but representative product set: full rows, a
// minimal row findable only by SKU, and one broken row the builder
// must drop.
func testCatalog() []catalog.Product {
	return []catalog.Product{
		{ProductID: 101, ExternalID: "VLV-0101", SKU: "GV-2-BRS", Name: "Gate Valve 2in Brass", BrandName: "Hattersley", Unit: "pc", MinSale: 1, Weight: 1.8},
		{ProductID: 102, ExternalID: "VLV-0102", SKU: "BV-1-SS", Name: "Ball Valve 1in Stainless", BrandName: "Hattersley", Unit: "pc", MinSale: 1, Weight: 0.6},
		{ProductID: 103, ExternalID: "FLG-0240", SKU: "FL-DN50", Name: "Flange DN50 PN16", SeriesName: "PN16", Unit: "pc", MinSale: 2, Weight: 2.4},
		{ProductID: 104, SKU: "GSK-DN50", Unit: "pc", MinSale: 10, Weight: 0.05},
		{ProductID: 0, Name: "row with broken id"},
	}
}
