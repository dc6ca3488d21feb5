package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickparts/searchd/internal/errors"
)

func TestNoopProvider_AnswersEmpty(t *testing.T) {
	attrs, err := NoopProvider{}.Fetch(context.Background(), []int64{1, 2, 3}, 7, 0)

	require.NoError(t, err)
	assert.NotNil(t, attrs)
	assert.Empty(t, attrs)
}

func TestHTTPProvider_FetchesAttributes(t *testing.T) {
	// Given: a sidecar that echoes per-id attributes
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req struct {
			ProductIDs []int64 `json:"product_ids"`
			CityID     int64   `json:"city_id"`
			UserID     int64   `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.CityID != 7 {
			t.Errorf("city_id = %d, want 7", req.CityID)
		}
		if len(req.ProductIDs) != 2 {
			t.Errorf("product_ids = %v, want two ids", req.ProductIDs)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"42":{"in_stock":true,"quantity":3},"43":{"in_stock":false},"bogus":{"x":1},"-5":{}}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 2*time.Second, testLogger())

	// When: fetching two products
	attrs, err := p.Fetch(context.Background(), []int64{42, 43}, 7, 0)

	// Then: numeric keys decode, junk keys are dropped
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, attrs, 2)
	assert.Equal(t, true, attrs[42]["in_stock"])
	assert.Equal(t, float64(3), attrs[42]["quantity"])
	assert.Equal(t, false, attrs[43]["in_stock"])
}

func TestHTTPProvider_EmptyIDListSkipsNetwork(t *testing.T) {
	// Given: a sidecar that must not be called
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request for empty id list")
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second, testLogger())

	// When: fetching nothing
	attrs, err := p.Fetch(context.Background(), nil, 7, 0)

	// Then: an empty answer without traffic
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestHTTPProvider_ErrorStatusFails(t *testing.T) {
	// Given: a sidecar answering 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second, testLogger())

	// When: fetching
	_, err := p.Fetch(context.Background(), []int64{1}, 7, 0)

	// Then: a coded backend error
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBackendUnavailable, errors.GetCode(err))
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPProvider_UnreachableEndpointFails(t *testing.T) {
	// Given: a sidecar that is already gone
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second, testLogger())

	// When: fetching
	_, err := p.Fetch(context.Background(), []int64{1}, 7, 0)

	// Then: the transport failure is coded, not panicked
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBackendUnavailable, errors.GetCode(err))
}

func TestHTTPProvider_MalformedBodyFails(t *testing.T) {
	// Given: a sidecar answering junk
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second, testLogger())

	// When: fetching
	_, err := p.Fetch(context.Background(), []int64{1}, 7, 0)

	// Then: decoding fails with a coded error
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBackendUnavailable, errors.GetCode(err))
}

// countingProvider counts fetches and records the last id list.
type countingProvider struct {
	calls  int
	lastID []int64
	attrs  map[int64]Attributes
	err    error
}

func (c *countingProvider) Fetch(ctx context.Context, productIDs []int64, cityID, userID int64) (map[int64]Attributes, error) {
	c.calls++
	c.lastID = append([]int64(nil), productIDs...)
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[int64]Attributes, len(productIDs))
	for _, id := range productIDs {
		if a, ok := c.attrs[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func TestCachedProvider_ServesRepeatsFromCache(t *testing.T) {
	// Given: a cached provider over a counting inner
	inner := &countingProvider{attrs: map[int64]Attributes{
		1: {"in_stock": true},
		2: {"in_stock": false},
	}}
	p := NewCachedProvider(inner, 16, time.Minute)

	// When: fetching the same set twice
	first, err := p.Fetch(context.Background(), []int64{1, 2}, 7, 0)
	require.NoError(t, err)
	second, err := p.Fetch(context.Background(), []int64{1, 2}, 7, 0)
	require.NoError(t, err)

	// Then: the inner provider was asked once
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, true, second[1]["in_stock"])
}

func TestCachedProvider_FetchesOnlyMissingIDs(t *testing.T) {
	// Given: id 1 and 2 already cached
	inner := &countingProvider{attrs: map[int64]Attributes{
		1: {"quantity": 1},
		2: {"quantity": 2},
		3: {"quantity": 3},
	}}
	p := NewCachedProvider(inner, 16, time.Minute)
	_, err := p.Fetch(context.Background(), []int64{1, 2}, 7, 0)
	require.NoError(t, err)

	// When: fetching an overlapping set
	attrs, err := p.Fetch(context.Background(), []int64{2, 3}, 7, 0)
	require.NoError(t, err)

	// Then: only the missing id went to the inner provider
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []int64{3}, inner.lastID)
	assert.Len(t, attrs, 2)
}

func TestCachedProvider_KeysByCityAndUser(t *testing.T) {
	// Given: one id cached for city 7
	inner := &countingProvider{attrs: map[int64]Attributes{1: {"price": 10}}}
	p := NewCachedProvider(inner, 16, time.Minute)
	_, err := p.Fetch(context.Background(), []int64{1}, 7, 0)
	require.NoError(t, err)

	// When: fetching the same id for another city
	_, err = p.Fetch(context.Background(), []int64{1}, 8, 0)
	require.NoError(t, err)

	// Then: the cache did not leak across cities
	assert.Equal(t, 2, inner.calls)
}

func TestCachedProvider_InnerFailureReturnsCachedPortion(t *testing.T) {
	// Given: id 1 cached, then a dead inner provider
	inner := &countingProvider{attrs: map[int64]Attributes{1: {"in_stock": true}}}
	p := NewCachedProvider(inner, 16, time.Minute)
	_, err := p.Fetch(context.Background(), []int64{1}, 7, 0)
	require.NoError(t, err)
	inner.err = fmt.Errorf("sidecar down")

	// When: fetching a superset
	attrs, err := p.Fetch(context.Background(), []int64{1, 2}, 7, 0)

	// Then: the error surfaces but the cached entry still comes back
	require.Error(t, err)
	assert.Equal(t, true, attrs[1]["in_stock"])
	assert.NotContains(t, attrs, int64(2))
}
