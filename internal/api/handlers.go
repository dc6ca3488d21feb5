package api

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/quickparts/searchd/internal/health"
	"github.com/quickparts/searchd/internal/service"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	page, err := intParam(params, "page")
	if err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	limit, err := intParam(params, "limit")
	if err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	cityID, err := int64Param(params, "city_id")
	if err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	userID, err := int64Param(params, "user_id")
	if err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}

	resp := s.svc.Search(r.Context(), service.SearchRequest{
		Q:          params.Get("q"),
		Page:       page,
		Limit:      limit,
		Sort:       params.Get("sort"),
		CityID:     cityID,
		UserID:     userID,
		BrandName:  params.Get("brand_name"),
		SeriesName: params.Get("series_name"),
		Category:   params.Get("category"),
	})
	s.writeResponse(w, r, resp)
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	// Suggestion boxes never see errors: a malformed limit falls back
	// to the default instead of a 400.
	limit, err := intParam(params, "limit")
	if err != nil {
		limit = 0
	}

	q := sanitizeQuery(params.Get("q"))
	resp := s.svc.Autocomplete(r.Context(), q, limit)
	s.writeResponse(w, r, resp)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	cityID, err := int64Param(params, "city_id")
	if err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	userID, err := int64Param(params, "user_id")
	if err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	ids, err := parseProductIDs(params.Get("product_ids"))
	if err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}

	resp := s.svc.Availability(r.Context(), service.AvailabilityRequest{
		CityID:     cityID,
		UserID:     userID,
		ProductIDs: ids,
	})
	s.writeResponse(w, r, resp)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, r, s.svc.Test(r.Context()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.MetricsSnapshot()
	if snap == nil {
		s.writeResponse(w, r, service.Response{
			Status:   http.StatusNotFound,
			Envelope: service.Fail(service.CodeNotFound, "query statistics are disabled"),
		})
		return
	}
	s.writeResponse(w, r, service.Response{
		Status:   http.StatusOK,
		Envelope: service.OK(snap),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var mode string
	switch s.svc.GateSnapshot().Status {
	case health.StatusUp:
		mode = "search"
	case health.StatusDown:
		mode = "fallback"
	default:
		mode = "unknown"
	}
	s.writeResponse(w, r, service.Response{
		Status:   http.StatusOK,
		Envelope: service.OK(map[string]string{"status": "ok", "mode": mode}),
	})
}

// autocompleteSanitizer strips everything outside letters, numbers,
// whitespace, dashes, underscores and dots before the query reaches
// the suggester.
var autocompleteSanitizer = regexp.MustCompile(`[^\p{L}\p{N}\s\-_.]+`)

func sanitizeQuery(q string) string {
	return strings.TrimSpace(autocompleteSanitizer.ReplaceAllString(q, ""))
}

// intParam reads an optional integer parameter. Absent means zero;
// malformed is an error so handlers can answer 400.
func intParam(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func int64Param(values url.Values, key string) (int64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// parseProductIDs splits the CSV id list. Range and positivity checks
// belong to the service; this only rejects non-numeric entries.
func parseProductIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("product_ids must be a comma-separated list of integers")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
