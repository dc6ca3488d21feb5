// Package telemetry collects local query statistics: which path served
// each search, how long it took, which terms come up and which queries
// returned nothing. Everything stays on this host. The serve process
// reads snapshots back through the API; daily aggregates can be flushed
// to a local SQLite file and inspected with `searchd metrics`.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Route says which side answered a search.
type Route string

const (
	// RouteEngine marks answers from the search cluster.
	RouteEngine Route = "engine"
	// RouteFallback marks answers from the relational store.
	RouteFallback Route = "fallback"
	// RouteUnavailable marks requests both sides refused; the client
	// got a 503 envelope.
	RouteUnavailable Route = "unavailable"
)

// LatencyBucket is a histogram bucket for query wall time.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one served search query.
type QueryEvent struct {
	Query       string
	Route       Route
	ResultCount int64
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query came back empty.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		// Full buffer wraps; the oldest item sits at head.
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// minTermLength keeps two-character part codes like "m8" while
// dropping single letters.
const minTermLength = 2

// ExtractTerms splits a query into lowercase terms worth counting.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		if len([]rune(w)) >= minTermLength {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it appeared.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of the statistics collected since the
// process started.
type Snapshot struct {
	RouteCounts         map[Route]int64         `json:"route_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of served queries that came
// back empty, in percent.
func (s *Snapshot) ZeroResultPercentage() float64 {
	served := s.TotalQueries - s.RouteCounts[RouteUnavailable]
	if served <= 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(served) * 100
}

// FallbackPercentage returns the share of queries the relational store
// had to answer, in percent.
func (s *Snapshot) FallbackPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.RouteCounts[RouteFallback]) / float64(s.TotalQueries) * 100
}

// Config sizes the collector. Zero values take the defaults.
type Config struct {
	// TopTermsCapacity bounds how many distinct terms are tracked.
	TopTermsCapacity int

	// ZeroResultsCapacity bounds the ring of recent empty queries.
	ZeroResultsCapacity int

	// FlushInterval is how often aggregates are flushed to the store.
	// Zero disables the background flush; Close still flushes once.
	FlushInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// zeroQuery is an empty-result query waiting to be flushed.
type zeroQuery struct {
	query string
	at    time.Time
}

// QueryMetrics aggregates query statistics in memory and, when a store
// is attached, flushes daily aggregates to it. Safe for concurrent
// use; Record never touches the store.
type QueryMetrics struct {
	mu sync.Mutex

	routes          map[Route]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	since           time.Time

	// Flush baselines. The store receives the delta between the
	// running counters and what was already written, so a flush never
	// double-counts and a failed flush retries the same delta.
	flushedRoutes    map[Route]int64
	flushedLatencies map[LatencyBucket]int64
	flushedTerms     map[string]int64
	pendingZero      []zeroQuery

	store       Store
	cfg         Config
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// New creates a collector with the default configuration. A nil store
// keeps statistics in memory only.
func New(store Store) *QueryMetrics {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig creates a collector with explicit sizing.
func NewWithConfig(store Store, cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	m := &QueryMetrics{
		routes:           make(map[Route]int64),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:        make(map[LatencyBucket]int64),
		since:            time.Now(),
		flushedRoutes:    make(map[Route]int64),
		flushedLatencies: make(map[LatencyBucket]int64),
		flushedTerms:     make(map[string]int64),
		store:            store,
		cfg:              cfg,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}

	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one served query. Thread-safe and non-blocking.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.routes[event.Route]++
	m.totalQueries++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	// A 503 says nothing about the catalog, so it never counts as a
	// zero-result query.
	if event.IsZeroResult() && event.Route != RouteUnavailable {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		m.pendingZero = append(m.pendingZero, zeroQuery{query: event.Query, at: at})
	}

	m.latencies[LatencyToBucket(event.Latency)]++
}

// Snapshot returns the current statistics for reporting.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	routes := make(map[Route]int64, len(m.routes))
	for k, v := range m.routes {
		routes[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	return &Snapshot{
		RouteCounts:         routes,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		Since:               m.since,
	}
}

// Flush writes unflushed aggregates to the store. Safe to call with no
// store configured. On failure the delta stays pending and the next
// flush retries it.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	routes := make(map[Route]int64)
	for k, v := range m.routes {
		if d := v - m.flushedRoutes[k]; d > 0 {
			routes[k] = d
		}
	}
	latencies := make(map[LatencyBucket]int64)
	for k, v := range m.latencies {
		if d := v - m.flushedLatencies[k]; d > 0 {
			latencies[k] = d
		}
	}
	terms := make(map[string]int64)
	termTotals := make(map[string]int64)
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			termTotals[key] = count
			if d := count - m.flushedTerms[key]; d > 0 {
				terms[key] = d
			}
		}
	}
	zeros := m.pendingZero
	m.pendingZero = nil
	m.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")

	// Each baseline commits right after its write lands, so a partial
	// failure retries only the sections that never made it.
	if err := m.store.SaveRouteCounts(date, routes); err != nil {
		m.requeueZero(zeros)
		return err
	}
	m.mu.Lock()
	for k, v := range routes {
		m.flushedRoutes[k] += v
	}
	m.mu.Unlock()

	if err := m.store.SaveLatencyCounts(date, latencies); err != nil {
		m.requeueZero(zeros)
		return err
	}
	m.mu.Lock()
	for k, v := range latencies {
		m.flushedLatencies[k] += v
	}
	m.mu.Unlock()

	if err := m.store.UpsertTermCounts(terms); err != nil {
		m.requeueZero(zeros)
		return err
	}
	m.mu.Lock()
	for k := range terms {
		m.flushedTerms[k] = termTotals[k]
	}
	m.mu.Unlock()

	for i, z := range zeros {
		if err := m.store.AddZeroResultQuery(z.query, z.at); err != nil {
			m.requeueZero(zeros[i:])
			return err
		}
	}
	return nil
}

func (m *QueryMetrics) requeueZero(zeros []zeroQuery) {
	if len(zeros) == 0 {
		return
	}
	m.mu.Lock()
	m.pendingZero = append(zeros, m.pendingZero...)
	m.mu.Unlock()
}

// Close flushes once more and releases the store.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}

	flushErr := m.Flush()
	if m.store != nil {
		if err := m.store.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	return flushErr
}
