package search

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/quickparts/searchd/internal/errors"
)

// Default client-side operation deadlines.
const (
	DefaultSearchTimeout = 20 * time.Second
	DefaultBulkTimeout   = 60 * time.Second
)

// BackendConfig configures the Elasticsearch client.
type BackendConfig struct {
	Addresses []string
	Username  string
	Password  string

	// MaxRetries applies to transport-level retries on 429/502/503/504.
	MaxRetries int

	SearchTimeout time.Duration
	BulkTimeout   time.Duration
}

// ESBackend implements Backend on the official Elasticsearch client.
type ESBackend struct {
	client        *elasticsearch.Client
	logger        *slog.Logger
	searchTimeout time.Duration
	bulkTimeout   time.Duration
}

var _ Backend = (*ESBackend)(nil)

// NewESBackend creates a backend from cfg. The client keeps its own
// connection pool and is safe for concurrent use.
func NewESBackend(cfg BackendConfig, logger *slog.Logger) (*ESBackend, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "search backend needs at least one address", nil)
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.BulkTimeout <= 0 {
		cfg.BulkTimeout = DefaultBulkTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err)
	}

	return &ESBackend{
		client:        client,
		logger:        logger,
		searchTimeout: cfg.SearchTimeout,
		bulkTimeout:   cfg.BulkTimeout,
	}, nil
}

// Ping checks basic connectivity.
func (b *ESBackend) Ping(ctx context.Context) error {
	res, err := b.client.Ping(b.client.Ping.WithContext(ctx))
	if err != nil {
		return transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return respError(errors.ErrCodeBackendUnavailable, "ping", res)
	}
	return nil
}

// Search executes body against index (a physical name or the alias).
func (b *ESBackend) Search(ctx context.Context, index string, body map[string]any) (*SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.searchTimeout)
	defer cancel()

	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(index),
		b.client.Search.WithBody(payload),
	)
	if err != nil {
		return nil, transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, respError(errors.ErrCodeSearchFailed, "search", res)
	}

	return decodeSearchResult(res.Body)
}

// Bulk uploads one batch. The refresh interval is left to the index
// settings; validation refreshes explicitly once population finishes.
func (b *ESBackend) Bulk(ctx context.Context, index string, docs []BulkDoc) (*BulkResult, error) {
	if len(docs) == 0 {
		return &BulkResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.bulkTimeout)
	defer cancel()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": doc.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		if err := enc.Encode(doc.Body); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
	}

	res, err := b.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		b.client.Bulk.WithContext(ctx),
		b.client.Bulk.WithIndex(index),
	)
	if err != nil {
		return nil, transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, respError(errors.ErrCodeBulkTransport, "bulk", res)
	}

	var blk struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&blk); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBulkTransport, err)
	}

	result := &BulkResult{}
	for _, item := range blk.Items {
		for _, st := range item {
			if st.Status >= 300 {
				reason := "unknown"
				if st.Error != nil {
					reason = fmt.Sprintf("%s: %s", st.Error.Type, st.Error.Reason)
				}
				result.ItemErrors = append(result.ItemErrors, BulkItemError{ID: st.ID, Reason: reason})
			} else {
				result.Indexed++
			}
		}
	}

	if len(result.ItemErrors) > 0 {
		b.logger.Warn("bulk_item_errors",
			slog.String("index", index),
			slog.Int("failed", len(result.ItemErrors)),
			slog.Int("indexed", result.Indexed),
		)
	}

	return result, nil
}

// CreateIndex creates name with the given schema (settings + mappings).
func (b *ESBackend) CreateIndex(ctx context.Context, name string, schema json.RawMessage) error {
	res, err := b.client.Indices.Create(
		name,
		b.client.Indices.Create.WithContext(ctx),
		b.client.Indices.Create.WithBody(bytes.NewReader(schema)),
	)
	if err != nil {
		return transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return respError(errors.ErrCodeIndexFailed, "create index "+name, res)
	}

	b.logger.Info("index_created", slog.String("index", name))
	return nil
}

// DeleteIndex removes name. Deleting an index that does not exist is
// not an error; cleanup paths call this best-effort.
func (b *ESBackend) DeleteIndex(ctx context.Context, name string) error {
	res, err := b.client.Indices.Delete(
		[]string{name},
		b.client.Indices.Delete.WithContext(ctx),
		b.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return respError(errors.ErrCodeIndexFailed, "delete index "+name, res)
	}

	b.logger.Info("index_deleted", slog.String("index", name))
	return nil
}

// IndexExists reports whether name exists.
func (b *ESBackend) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := b.client.Indices.Exists(
		[]string{name},
		b.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, transportError(err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, respError(errors.ErrCodeBackendUnavailable, "index exists "+name, res)
	}
}

// Refresh makes all documents of name visible to search.
func (b *ESBackend) Refresh(ctx context.Context, name string) error {
	res, err := b.client.Indices.Refresh(
		b.client.Indices.Refresh.WithContext(ctx),
		b.client.Indices.Refresh.WithIndex(name),
	)
	if err != nil {
		return transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return respError(errors.ErrCodeIndexFailed, "refresh "+name, res)
	}
	return nil
}

// Stats returns the live document count of name.
func (b *ESBackend) Stats(ctx context.Context, name string) (*IndexStats, error) {
	res, err := b.client.Count(
		b.client.Count.WithContext(ctx),
		b.client.Count.WithIndex(name),
	)
	if err != nil {
		return nil, transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, respError(errors.ErrCodeBackendUnavailable, "count "+name, res)
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err)
	}
	return &IndexStats{DocCount: out.Count}, nil
}

// UpdateAliases applies actions as one atomic group.
func (b *ESBackend) UpdateAliases(ctx context.Context, actions []AliasAction) error {
	if len(actions) == 0 {
		return nil
	}

	list := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		list = append(list, map[string]any{
			a.Type: map[string]any{"index": a.Index, "alias": a.Alias},
		})
	}

	payload, err := encodeBody(map[string]any{"actions": list})
	if err != nil {
		return err
	}

	res, err := b.client.Indices.UpdateAliases(
		payload,
		b.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return respError(errors.ErrCodeIndexFailed, "update aliases", res)
	}

	b.logger.Info("aliases_updated", slog.Int("actions", len(actions)))
	return nil
}

// GetAlias returns the physical indices alias points at. A missing
// alias yields an empty list, not an error.
func (b *ESBackend) GetAlias(ctx context.Context, alias string) ([]string, error) {
	res, err := b.client.Indices.GetAlias(
		b.client.Indices.GetAlias.WithContext(ctx),
		b.client.Indices.GetAlias.WithName(alias),
	)
	if err != nil {
		return nil, transportError(err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, respError(errors.ErrCodeBackendUnavailable, "get alias "+alias, res)
	}

	var out map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err)
	}

	indices := make([]string, 0, len(out))
	for name := range out {
		indices = append(indices, name)
	}
	sort.Strings(indices)
	return indices, nil
}

// ListIndices returns index names matching pattern.
func (b *ESBackend) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	res, err := b.client.Cat.Indices(
		b.client.Cat.Indices.WithContext(ctx),
		b.client.Cat.Indices.WithIndex(pattern),
		b.client.Cat.Indices.WithFormat("json"),
		b.client.Cat.Indices.WithH("index"),
	)
	if err != nil {
		return nil, transportError(err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, respError(errors.ErrCodeBackendUnavailable, "cat indices "+pattern, res)
	}

	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err)
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Index)
	}
	return names, nil
}

// ClusterHealth reads cluster health, scoped to one index when index
// is non-empty. Callers bound the call with their context deadline.
func (b *ESBackend) ClusterHealth(ctx context.Context, index string) (*ClusterHealth, error) {
	opts := []func(*esapi.ClusterHealthRequest){
		b.client.Cluster.Health.WithContext(ctx),
	}
	if index != "" {
		opts = append(opts, b.client.Cluster.Health.WithIndex(index))
	}

	start := time.Now()
	res, err := b.client.Cluster.Health(opts...)
	elapsed := time.Since(start)
	if err != nil {
		return nil, transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, respError(errors.ErrCodeBackendUnavailable, "cluster health", res)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err)
	}

	return &ClusterHealth{Status: out.Status, Elapsed: elapsed}, nil
}

// PluginsInstalled lists the plugin components installed on the
// cluster nodes, deduplicated.
func (b *ESBackend) PluginsInstalled(ctx context.Context) ([]string, error) {
	res, err := b.client.Cat.Plugins(
		b.client.Cat.Plugins.WithContext(ctx),
		b.client.Cat.Plugins.WithFormat("json"),
	)
	if err != nil {
		return nil, transportError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, respError(errors.ErrCodeBackendUnavailable, "cat plugins", res)
	}

	var rows []struct {
		Component string `json:"component"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err)
	}

	seen := make(map[string]bool, len(rows))
	var plugins []string
	for _, row := range rows {
		if row.Component == "" || seen[row.Component] {
			continue
		}
		seen[row.Component] = true
		plugins = append(plugins, row.Component)
	}
	sort.Strings(plugins)
	return plugins, nil
}

// decodeSearchResult maps the raw response envelope into SearchResult.
func decodeSearchResult(r io.Reader) (*SearchResult, error) {
	var raw struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			MaxScore *float64 `json:"max_score"`
			Hits     []struct {
				ID        string              `json:"_id"`
				Score     *float64            `json:"_score"`
				Source    json.RawMessage     `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
		Suggest map[string][]struct {
			Text    string `json:"text"`
			Options []struct {
				Text   string          `json:"text"`
				Score  float64         `json:"_score"`
				ID     string          `json:"_id"`
				Source json.RawMessage `json:"_source"`
			} `json:"options"`
		} `json:"suggest"`
		Aggregations map[string]struct {
			Buckets []Bucket `json:"buckets"`
		} `json:"aggregations"`
	}

	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}

	result := &SearchResult{
		Total:  raw.Hits.Total.Value,
		TookMs: raw.Took,
	}
	if raw.Hits.MaxScore != nil {
		result.MaxScore = *raw.Hits.MaxScore
	}

	for _, h := range raw.Hits.Hits {
		hit := Hit{ID: h.ID, Source: h.Source, Highlight: h.Highlight}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		result.Hits = append(result.Hits, hit)
	}

	if len(raw.Suggest) > 0 {
		result.Suggest = make(map[string][]SuggestOption, len(raw.Suggest))
		for name, groups := range raw.Suggest {
			var options []SuggestOption
			for _, g := range groups {
				for _, o := range g.Options {
					options = append(options, SuggestOption{
						Text:   o.Text,
						Score:  o.Score,
						ID:     o.ID,
						Source: o.Source,
					})
				}
			}
			result.Suggest[name] = options
		}
	}

	if len(raw.Aggregations) > 0 {
		result.Aggregations = make(map[string][]Bucket, len(raw.Aggregations))
		for name, agg := range raw.Aggregations {
			result.Aggregations[name] = agg.Buckets
		}
	}

	return result, nil
}

// encodeBody marshals a request body.
func encodeBody(v any) (*bytes.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return bytes.NewReader(data), nil
}

// transportError classifies a client-level failure.
func transportError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrCodeBackendTimeout, err)
	}
	return errors.Wrap(errors.ErrCodeBackendUnavailable, err)
}

// respError builds a coded error from a non-2xx response.
func respError(code string, op string, res *esapi.Response) error {
	reason := res.Status()
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil && body.Error.Reason != "" {
		reason = fmt.Sprintf("%s: %s", body.Error.Type, body.Error.Reason)
	}

	return errors.New(code, fmt.Sprintf("%s failed: %s", op, reason), nil).
		WithDetail("status", res.Status())
}
