// Package search wraps the Elasticsearch backend behind a capability
// interface and builds every query body the service sends to it. The
// rest of the system never talks to the cluster directly.
package search

import (
	"context"
	"encoding/json"
	"time"
)

// BulkDoc is one document of a bulk upload.
type BulkDoc struct {
	ID   string
	Body any
}

// BulkItemError describes a single rejected document of a bulk call.
type BulkItemError struct {
	ID     string
	Reason string
}

// BulkResult aggregates the outcome of one bulk call. Partial failure
// is reported per item rather than as a call error.
type BulkResult struct {
	Indexed    int
	ItemErrors []BulkItemError
}

// Hit is one search result document.
type Hit struct {
	ID        string
	Score     float64
	Source    json.RawMessage
	Highlight map[string][]string
}

// SuggestOption is one completion-suggester candidate.
type SuggestOption struct {
	Text   string
	Score  float64
	ID     string
	Source json.RawMessage
}

// Bucket is one terms-aggregation bucket.
type Bucket struct {
	Key      string `json:"key"`
	DocCount int64  `json:"doc_count"`
}

// SearchResult is the decoded response of a search call.
type SearchResult struct {
	Hits         []Hit
	Total        int64
	MaxScore     float64
	Suggest      map[string][]SuggestOption
	Aggregations map[string][]Bucket
	TookMs       int64
}

// ClusterHealth reports the cluster (or single-index) health status
// together with how long the probe took.
type ClusterHealth struct {
	Status  string // green, yellow, or red
	Elapsed time.Duration
}

// IndexStats carries the per-index statistics the pipeline validates.
type IndexStats struct {
	DocCount int64
}

// Alias action types for UpdateAliases.
const (
	AliasAdd    = "add"
	AliasRemove = "remove"
)

// AliasAction is one entry of an atomic alias update.
type AliasAction struct {
	Type  string
	Index string
	Alias string
}

// Backend is the set of search-engine capabilities the service and the
// indexer consume. All operations honor context deadlines.
type Backend interface {
	// Bulk uploads docs into index in one call. Refresh stays disabled;
	// per-document rejections come back as item errors, not call errors.
	Bulk(ctx context.Context, index string, docs []BulkDoc) (*BulkResult, error)

	// Search executes body against an index or alias.
	Search(ctx context.Context, index string, body map[string]any) (*SearchResult, error)

	CreateIndex(ctx context.Context, name string, schema json.RawMessage) error
	DeleteIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	Refresh(ctx context.Context, name string) error
	Stats(ctx context.Context, name string) (*IndexStats, error)

	// UpdateAliases submits actions as one atomic group: either every
	// action applies or none do.
	UpdateAliases(ctx context.Context, actions []AliasAction) error
	GetAlias(ctx context.Context, alias string) ([]string, error)
	ListIndices(ctx context.Context, pattern string) ([]string, error)

	// ClusterHealth reads the health of the cluster, or of a single
	// index when index is non-empty.
	ClusterHealth(ctx context.Context, index string) (*ClusterHealth, error)
	PluginsInstalled(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}
