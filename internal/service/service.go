package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quickparts/searchd/internal/catalog"
	"github.com/quickparts/searchd/internal/health"
	"github.com/quickparts/searchd/internal/search"
	"github.com/quickparts/searchd/internal/store"
	"github.com/quickparts/searchd/internal/telemetry"
)

// Searcher is the query-path slice of the search backend.
type Searcher interface {
	Search(ctx context.Context, index string, body map[string]any) (*search.SearchResult, error)
	PluginsInstalled(ctx context.Context) ([]string, error)
}

// AvailabilityGate routes queries between the search backend and the
// relational fallback.
type AvailabilityGate interface {
	IsAvailable(ctx context.Context) bool
	ForceProbe(ctx context.Context) bool
	MarkFailure()
	Snapshot() health.Snapshot
}

var _ AvailabilityGate = (*health.Gate)(nil)

// FallbackStore answers queries from the relational catalog while the
// search backend is down.
type FallbackStore interface {
	FallbackSearch(ctx context.Context, spec search.SearchSpec) (*store.FallbackResult, error)
	FallbackAutocomplete(ctx context.Context, q string, limit int) ([]search.Suggestion, error)
}

var _ FallbackStore = (*store.MySQLStore)(nil)

// Config holds the query-side limits. Zero values take the documented
// defaults.
type Config struct {
	// Alias is the read alias search requests run against.
	Alias string

	// QLengthCap truncates incoming query strings.
	QLengthCap int

	DefaultLimit int
	MaxLimit     int

	AutocompleteDefault int
	AutocompleteMax     int

	// MaxProductIDs caps the id list of one availability call.
	MaxProductIDs int

	// AutocompleteTimeout bounds the secondary document-match pass.
	AutocompleteTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Alias == "" {
		c.Alias = "products_current"
	}
	if c.QLengthCap <= 0 {
		c.QLengthCap = 200
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 20
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 100
	}
	if c.AutocompleteDefault <= 0 {
		c.AutocompleteDefault = search.DefaultAutocompleteLimit
	}
	if c.AutocompleteMax <= 0 {
		c.AutocompleteMax = search.MaxAutocompleteLimit
	}
	if c.MaxProductIDs <= 0 {
		c.MaxProductIDs = 1000
	}
	if c.AutocompleteTimeout <= 0 {
		c.AutocompleteTimeout = 3 * time.Second
	}
}

// Dependencies contains the injected dependencies for QueryService.
type Dependencies struct {
	// Backend executes queries against the search cluster (required).
	Backend Searcher

	// Gate decides whether the backend is fit to serve (required).
	Gate AvailabilityGate

	// Fallback answers from the relational store while the backend is
	// down (required).
	Fallback FallbackStore

	// Builder renders request bodies. Defaults to a builder with the
	// standard rescore window and body timeout.
	Builder *search.QueryBuilder

	// Enricher overlays live attributes onto hits. Defaults to the
	// no-op provider.
	Enricher DynamicDataProvider

	// Metrics collects query statistics. Nil disables collection.
	Metrics *telemetry.QueryMetrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock stamps the diagnostics endpoint. Defaults to time.Now.
	Clock func() time.Time
}

// QueryService is the query-side entry point shared by all transports.
// Instances are safe for concurrent use; the limits can be swapped at
// runtime via ApplyConfig, everything else is read-only after
// construction except the gate, which synchronizes itself.
type QueryService struct {
	cfg      atomic.Pointer[Config]
	backend  Searcher
	gate     AvailabilityGate
	fallback FallbackStore
	builder  *search.QueryBuilder
	enricher DynamicDataProvider
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger
	clock    func() time.Time
}

// NewQueryService creates a QueryService with injected dependencies.
func NewQueryService(cfg Config, deps Dependencies) (*QueryService, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("search backend is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("health gate is required")
	}
	if deps.Fallback == nil {
		return nil, fmt.Errorf("fallback store is required")
	}

	cfg.setDefaults()

	builder := deps.Builder
	if builder == nil {
		builder = search.NewQueryBuilder(search.DefaultRescoreWindow, search.DefaultBodyTimeout)
	}
	enricher := deps.Enricher
	if enricher == nil {
		enricher = NoopProvider{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &QueryService{
		backend:  deps.Backend,
		gate:     deps.Gate,
		fallback: deps.Fallback,
		builder:  builder,
		enricher: enricher,
		metrics:  deps.Metrics,
		logger:   logger,
		clock:    clock,
	}
	s.cfg.Store(&cfg)
	return s, nil
}

// conf returns the limits in effect for one request. Requests that
// straddle a reload keep the limits they started with.
func (s *QueryService) conf() Config {
	return *s.cfg.Load()
}

// ApplyConfig swaps the runtime limits. The serve command calls it
// from the config watcher on reload.
func (s *QueryService) ApplyConfig(cfg Config) {
	cfg.setDefaults()
	s.cfg.Store(&cfg)
	s.logger.Info("query_limits_applied",
		slog.String("alias", cfg.Alias),
		slog.Int("default_limit", cfg.DefaultLimit),
		slog.Int("max_limit", cfg.MaxLimit),
	)
}

// SearchRequest is the parsed but unvalidated search input. The
// transport converts query parameters; the service owns clamping.
type SearchRequest struct {
	Q          string
	Page       int
	Limit      int
	Sort       string
	CityID     int64
	UserID     int64
	BrandName  string
	SeriesName string
	Category   string
}

// SearchData is the payload of a search envelope. Products are maps
// rather than structs because the enrichment overlay adds keys the
// schema does not know about.
type SearchData struct {
	Products     []map[string]any           `json:"products"`
	Total        int64                      `json:"total"`
	Page         int                        `json:"page"`
	Limit        int                        `json:"limit"`
	MaxScore     float64                    `json:"max_score,omitempty"`
	Aggregations map[string][]search.Bucket `json:"aggregations,omitempty"`
}

// AutocompleteData is the payload of an autocomplete envelope.
type AutocompleteData struct {
	Suggestions []search.Suggestion `json:"suggestions"`
}

// TestData is the payload of the diagnostics endpoint.
type TestData struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`

	// Sessions are out of scope for this service, so this is always
	// false; the field stays for response-shape compatibility.
	UserAuthenticated bool `json:"user_authenticated"`

	SearchAvailable bool `json:"opensearch_available"`
}

// searchSpec clamps a raw request into a SearchSpec the builder can
// trust: page floors at 1, limit lands in [1, MaxLimit], unknown sorts
// fall back to relevance, q is truncated at the cap.
func (s *QueryService) searchSpec(req SearchRequest) search.SearchSpec {
	cfg := s.conf()

	q := strings.TrimSpace(req.Q)
	if r := []rune(q); len(r) > cfg.QLengthCap {
		q = string(r[:cfg.QLengthCap])
	}

	page := req.Page
	if page < 1 {
		page = 1
	}

	limit := req.Limit
	if limit == 0 {
		limit = cfg.DefaultLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}

	return search.SearchSpec{
		Q:      q,
		Page:   page,
		Limit:  limit,
		Sort:   search.NormalizeSort(req.Sort),
		CityID: req.CityID,
		UserID: req.UserID,
		Filters: search.Filters{
			BrandName:  strings.TrimSpace(req.BrandName),
			SeriesName: strings.TrimSpace(req.SeriesName),
			Category:   strings.TrimSpace(req.Category),
		},
	}
}

// Search answers GET /api/search. The gate picks the path; a primary
// failure flips the gate down for subsequent requests and this one
// degrades to a 503 envelope with an empty, well-formed payload.
func (s *QueryService) Search(ctx context.Context, req SearchRequest) Response {
	spec := s.searchSpec(req)
	started := time.Now()

	if !s.gate.IsAvailable(ctx) {
		resp := s.searchFallback(ctx, spec)
		s.recordSearch(spec.Q, telemetry.RouteFallback, resp, started)
		return resp
	}

	resp, err := s.searchPrimary(ctx, spec)
	if err != nil {
		s.gate.MarkFailure()
		s.logger.Error("search_primary_failed",
			slog.String("error", err.Error()),
			slog.String("q", spec.Q),
			slog.Int("page", spec.Page),
		)
		resp = s.unavailable(spec.Page, spec.Limit)
	}
	s.recordSearch(spec.Q, telemetry.RouteEngine, resp, started)
	return resp
}

// recordSearch feeds the statistics collector when one is attached. A
// 503 answer counts as unavailable regardless of the path that
// produced it.
func (s *QueryService) recordSearch(q string, route telemetry.Route, resp Response, started time.Time) {
	if s.metrics == nil {
		return
	}
	if resp.Status == http.StatusServiceUnavailable {
		route = telemetry.RouteUnavailable
	}
	var total int64
	if data, ok := resp.Envelope.Data.(SearchData); ok && resp.Envelope.Success {
		total = data.Total
	}
	s.metrics.Record(telemetry.QueryEvent{
		Query:       q,
		Route:       route,
		ResultCount: total,
		Latency:     time.Since(started),
		Timestamp:   time.Now(),
	})
}

// MetricsSnapshot exposes the collected query statistics; nil when
// collection is disabled.
func (s *QueryService) MetricsSnapshot() *telemetry.Snapshot {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Snapshot()
}

func (s *QueryService) searchPrimary(ctx context.Context, spec search.SearchSpec) (Response, error) {
	alias := s.conf().Alias
	res, err := s.backend.Search(ctx, alias, s.builder.BuildSearchBody(spec))
	if err != nil {
		return Response{}, err
	}

	products, ids := hitsToProducts(res.Hits)
	s.enrich(ctx, products, ids, spec.CityID, spec.UserID)

	env := OK(SearchData{
		Products:     products,
		Total:        res.Total,
		Page:         spec.Page,
		Limit:        spec.Limit,
		MaxScore:     res.MaxScore,
		Aggregations: res.Aggregations,
	})
	env.Debug = &Debug{TookMs: res.TookMs, Backend: backendSearch, Index: alias}
	return Response{Status: http.StatusOK, Envelope: env}, nil
}

func (s *QueryService) searchFallback(ctx context.Context, spec search.SearchSpec) Response {
	res, err := s.fallback.FallbackSearch(ctx, spec)
	if err != nil {
		s.logger.Error("search_fallback_failed",
			slog.String("error", err.Error()),
			slog.String("q", spec.Q),
		)
		return s.unavailable(spec.Page, spec.Limit)
	}

	products := make([]map[string]any, 0, len(res.Products))
	ids := make([]int64, 0, len(res.Products))
	for _, p := range res.Products {
		products = append(products, fallbackProduct(p))
		ids = append(ids, p.ProductID)
	}
	s.enrich(ctx, products, ids, spec.CityID, spec.UserID)

	env := OK(SearchData{
		Products: products,
		Total:    res.Total,
		Page:     res.Page,
		Limit:    res.Limit,
	})
	env.Debug = &Debug{Backend: backendFallback}
	return Response{Status: http.StatusOK, Envelope: env}
}

// unavailable is the degraded search answer: 503 with an empty but
// well-formed payload so clients can render a degraded page instead
// of an error screen.
func (s *QueryService) unavailable(page, limit int) Response {
	env := Fail(CodeServiceUnavailable, "search is temporarily unavailable")
	env.Data = SearchData{Products: []map[string]any{}, Page: page, Limit: limit}
	return Response{Status: http.StatusServiceUnavailable, Envelope: env}
}

// hitsToProducts decodes hit sources into mutable maps for the
// enrichment overlay. ids runs parallel to products; a zero id marks
// a hit whose identity could not be read.
func hitsToProducts(hits []search.Hit) ([]map[string]any, []int64) {
	products := make([]map[string]any, 0, len(hits))
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		var doc map[string]any
		if err := json.Unmarshal(h.Source, &doc); err != nil || doc == nil {
			continue
		}
		if len(h.Highlight) > 0 {
			doc["highlight"] = h.Highlight
		}
		id, _ := strconv.ParseInt(h.ID, 10, 64)
		products = append(products, doc)
		ids = append(ids, id)
	}
	return products, ids
}

// fallbackProduct projects a catalog row onto the document field
// names so both paths answer in one shape. Empty strings are elided
// to match the indexed documents.
func fallbackProduct(p catalog.Product) map[string]any {
	doc := map[string]any{
		"product_id": p.ProductID,
		"min_sale":   p.MinSale,
		"weight":     p.Weight,
	}
	set := func(key, value string) {
		if value != "" {
			doc[key] = value
		}
	}
	set("external_id", p.ExternalID)
	set("sku", p.SKU)
	set("name", p.Name)
	set("description", p.Description)
	set("brand_name", p.BrandName)
	set("series_name", p.SeriesName)
	set("unit", p.Unit)
	set("dimensions", p.Dimensions)
	if p.BrandID != 0 {
		doc["brand_id"] = p.BrandID
	}
	if p.SeriesID != 0 {
		doc["series_id"] = p.SeriesID
	}
	return doc
}

// enrich overlays live attributes onto products. ids runs parallel to
// products. Provider failures are logged and the response ships
// without the overlay; a partial answer still gets applied.
func (s *QueryService) enrich(ctx context.Context, products []map[string]any, ids []int64, cityID, userID int64) {
	if len(products) == 0 {
		return
	}
	fetchIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			fetchIDs = append(fetchIDs, id)
		}
	}
	if len(fetchIDs) == 0 {
		return
	}

	attrs, err := s.enricher.Fetch(ctx, fetchIDs, cityID, userID)
	if err != nil {
		s.logger.Warn("enrichment_failed",
			slog.String("error", err.Error()),
			slog.Int("products", len(fetchIDs)),
		)
	}
	if len(attrs) == 0 {
		return
	}
	for i, doc := range products {
		a, ok := attrs[ids[i]]
		if !ok {
			continue
		}
		for k, v := range a {
			doc[k] = v
		}
	}
}

// Autocomplete answers GET /api/autocomplete. It always returns 200;
// any internal failure degrades to an empty suggestion list.
func (s *QueryService) Autocomplete(ctx context.Context, q string, limit int) Response {
	cfg := s.conf()

	q = strings.TrimSpace(q)
	if r := []rune(q); len(r) > cfg.QLengthCap {
		q = string(r[:cfg.QLengthCap])
	}
	if limit <= 0 {
		limit = cfg.AutocompleteDefault
	}
	if limit > cfg.AutocompleteMax {
		limit = cfg.AutocompleteMax
	}

	if q == "" {
		return respond(AutocompleteData{Suggestions: []search.Suggestion{}})
	}

	var suggestions []search.Suggestion
	if s.gate.IsAvailable(ctx) {
		suggestions = s.suggestPrimary(ctx, q, limit)
	} else {
		suggestions = s.suggestFallback(ctx, q, limit)
	}
	if suggestions == nil {
		suggestions = []search.Suggestion{}
	}
	return respond(AutocompleteData{Suggestions: suggestions})
}

// suggestPrimary runs the completion suggester and, when it comes
// back thin, pads with regular document matches under a short
// deadline.
func (s *QueryService) suggestPrimary(ctx context.Context, q string, limit int) []search.Suggestion {
	cfg := s.conf()

	res, err := s.backend.Search(ctx, cfg.Alias, s.builder.BuildAutocompleteBody(q, limit))
	if err != nil {
		s.gate.MarkFailure()
		s.logger.Warn("autocomplete_primary_failed",
			slog.String("error", err.Error()),
			slog.String("q", q),
		)
		return nil
	}

	completion := search.CompletionSuggestions(res)
	if len(completion) >= limit {
		return search.MergeSuggestions(completion, nil, limit)
	}

	fctx, cancel := context.WithTimeout(ctx, cfg.AutocompleteTimeout)
	defer cancel()

	fres, err := s.backend.Search(fctx, cfg.Alias, s.builder.BuildAutocompleteFallbackBody(q, limit))
	if err != nil {
		s.logger.Debug("autocomplete_secondary_failed",
			slog.String("error", err.Error()),
			slog.String("q", q),
		)
		return completion
	}
	return search.MergeSuggestions(completion, search.FallbackSuggestions(fres), limit)
}

// suggestFallback answers from the relational store while the search
// backend is down.
func (s *QueryService) suggestFallback(ctx context.Context, q string, limit int) []search.Suggestion {
	suggestions, err := s.fallback.FallbackAutocomplete(ctx, q, limit)
	if err != nil {
		s.logger.Warn("autocomplete_fallback_failed",
			slog.String("error", err.Error()),
			slog.String("q", q),
		)
		return nil
	}
	return suggestions
}

// AvailabilityRequest is the parsed availability input.
type AvailabilityRequest struct {
	CityID     int64
	UserID     int64
	ProductIDs []int64
}

// Availability answers GET /api/availability: live attributes for an
// explicit id list straight from the dynamic-data provider.
func (s *QueryService) Availability(ctx context.Context, req AvailabilityRequest) Response {
	if req.CityID < 1 {
		return invalid("city_id must be a positive integer")
	}
	if len(req.ProductIDs) == 0 {
		return invalid("product_ids is required")
	}

	seen := make(map[int64]bool, len(req.ProductIDs))
	ids := make([]int64, 0, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		if id < 1 {
			return invalid("product_ids must contain positive integers")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if max := s.conf().MaxProductIDs; len(ids) > max {
		return invalid(fmt.Sprintf("product_ids accepts at most %d ids", max))
	}

	attrs, err := s.enricher.Fetch(ctx, ids, req.CityID, req.UserID)
	if err != nil {
		s.logger.Error("availability_fetch_failed",
			slog.String("error", err.Error()),
			slog.Int("products", len(ids)),
		)
		return Response{
			Status:   http.StatusServiceUnavailable,
			Envelope: Fail(CodeServiceUnavailable, "availability data is temporarily unavailable"),
		}
	}

	data := make(map[string]Attributes, len(attrs))
	for id, a := range attrs {
		data[strconv.FormatInt(id, 10)] = a
	}
	return respond(data)
}

// Test answers GET /api/test: a forced gate probe plus the plugin
// inventory, for operators checking a deployment end to end.
func (s *QueryService) Test(ctx context.Context) Response {
	up := s.gate.ForceProbe(ctx)

	env := OK(TestData{
		Message:           "searchd query service is reachable",
		Timestamp:         s.clock().UTC().Format(time.RFC3339),
		UserAuthenticated: false,
		SearchAvailable:   up,
	})
	if up {
		plugins, err := s.backend.PluginsInstalled(ctx)
		if err != nil {
			s.logger.Debug("plugins_lookup_failed", slog.String("error", err.Error()))
		} else {
			env.Debug = &Debug{Backend: backendSearch, Plugins: plugins}
		}
	}
	return Response{Status: http.StatusOK, Envelope: env}
}

// GateSnapshot exposes the routing verdict for liveness endpoints.
func (s *QueryService) GateSnapshot() health.Snapshot {
	return s.gate.Snapshot()
}
