package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/quickparts/searchd/internal/errors"
	"github.com/quickparts/searchd/pkg/version"
)

// Attributes is the per-product overlay returned by the dynamic-data
// sidecar: stock, quantity, price, delivery estimates. The keys are
// owned by the sidecar; the service merges them into hits untyped.
type Attributes map[string]any

// DynamicDataProvider fetches live per-product attributes for a city
// and user. Implementations must be safe for concurrent use.
type DynamicDataProvider interface {
	Fetch(ctx context.Context, productIDs []int64, cityID, userID int64) (map[int64]Attributes, error)
}

// NoopProvider disables enrichment. Every lookup answers empty.
type NoopProvider struct{}

var _ DynamicDataProvider = (*NoopProvider)(nil)

// Fetch returns an empty attribute map.
func (NoopProvider) Fetch(ctx context.Context, productIDs []int64, cityID, userID int64) (map[int64]Attributes, error) {
	return map[int64]Attributes{}, nil
}

// HTTPProvider queries the dynamic-data sidecar over HTTP. One POST
// per hit set; the request carries the id list and the pricing
// context, the response maps product ids to attribute objects.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

var _ DynamicDataProvider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider for the sidecar at endpoint.
// timeout bounds the whole round-trip of one fetch.
func NewHTTPProvider(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// fetchRequest is the sidecar request body.
type fetchRequest struct {
	ProductIDs []int64 `json:"product_ids"`
	CityID     int64   `json:"city_id"`
	UserID     int64   `json:"user_id,omitempty"`
}

// Fetch posts the id list to the sidecar and decodes the per-id
// attribute objects. Ids the sidecar does not know are absent from
// the result rather than errors.
func (p *HTTPProvider) Fetch(ctx context.Context, productIDs []int64, cityID, userID int64) (map[int64]Attributes, error) {
	if len(productIDs) == 0 {
		return map[int64]Attributes{}, nil
	}

	payload, err := json.Marshal(fetchRequest{ProductIDs: productIDs, CityID: cityID, UserID: userID})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "searchd/"+version.Short())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeBackendUnavailable, "dynamic data endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.ErrCodeBackendUnavailable,
			fmt.Sprintf("dynamic data endpoint returned status %d", resp.StatusCode), nil)
	}

	var raw map[string]Attributes
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.New(errors.ErrCodeBackendUnavailable, "dynamic data response is not valid JSON", err)
	}

	attrs := make(map[int64]Attributes, len(raw))
	for key, a := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			p.logger.Debug("enrichment_bad_product_key", slog.String("key", key))
			continue
		}
		attrs[id] = a
	}
	return attrs, nil
}

// dynKey identifies one cached attribute object. User id is part of
// the key because the sidecar may price per customer contract.
type dynKey struct {
	productID int64
	cityID    int64
	userID    int64
}

// CachedProvider wraps a provider with a TTL'd LRU so bursts of
// searches over the same hit set do not hammer the sidecar. Stale
// stock within the TTL is acceptable; prices change slower than
// people type.
type CachedProvider struct {
	inner DynamicDataProvider
	cache *expirable.LRU[dynKey, Attributes]
}

var _ DynamicDataProvider = (*CachedProvider)(nil)

// NewCachedProvider wraps inner with an LRU of size entries expiring
// after ttl.
func NewCachedProvider(inner DynamicDataProvider, size int, ttl time.Duration) *CachedProvider {
	if size <= 0 {
		size = 1024
	}
	return &CachedProvider{
		inner: inner,
		cache: expirable.NewLRU[dynKey, Attributes](size, nil, ttl),
	}
}

// Fetch serves what it can from cache and asks the inner provider for
// the rest. On inner failure the cached portion is still returned
// alongside the error so callers can enrich partially.
func (p *CachedProvider) Fetch(ctx context.Context, productIDs []int64, cityID, userID int64) (map[int64]Attributes, error) {
	found := make(map[int64]Attributes, len(productIDs))
	var missing []int64
	for _, id := range productIDs {
		if a, ok := p.cache.Get(dynKey{productID: id, cityID: cityID, userID: userID}); ok {
			found[id] = a
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	fetched, err := p.inner.Fetch(ctx, missing, cityID, userID)
	if err != nil {
		return found, err
	}
	for id, a := range fetched {
		p.cache.Add(dynKey{productID: id, cityID: cityID, userID: userID}, a)
		found[id] = a
	}
	return found, nil
}
