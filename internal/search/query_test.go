package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sub fetches a nested map, failing the test when the shape is off.
func sub(t *testing.T, m map[string]any, key string) map[string]any {
	t.Helper()
	v, ok := m[key].(map[string]any)
	require.True(t, ok, "expected object at %q, got %T", key, m[key])
	return v
}

// items fetches a nested list.
func items(t *testing.T, m map[string]any, key string) []any {
	t.Helper()
	v, ok := m[key].([]any)
	require.True(t, ok, "expected list at %q, got %T", key, m[key])
	return v
}

// shouldClauses unwraps body.query down to the relevance bool.should.
func shouldClauses(t *testing.T, body map[string]any) []any {
	t.Helper()
	fs := sub(t, sub(t, body, "query"), "function_score")
	return items(t, sub(t, sub(t, fs, "query"), "bool"), "should")
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		name string
		q    string
		want bool
	}{
		{"typical part number", "AB-123", true},
		{"digits only", "9", true},
		{"slash and dot", "A/B.1", true},
		{"no digit", "abc", false},
		{"contains space", "hammer 123", false},
		{"empty", "", false},
		{"unicode letters", "młot-1", false},
		{"too long", strings.Repeat("A", 49) + "-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCode(tt.q))
		})
	}
}

func TestNormalizeSort(t *testing.T) {
	assert.Equal(t, SortName, NormalizeSort("name"))
	assert.Equal(t, SortPriceDesc, NormalizeSort("price_desc"))
	assert.Equal(t, SortRelevance, NormalizeSort(""))
	assert.Equal(t, SortRelevance, NormalizeSort("bogus"))
	assert.Equal(t, SortRelevance, NormalizeSort("NAME"))
}

func TestBuildSearchBody_EmptyQuery(t *testing.T) {
	// Given a browse request with no query text
	qb := NewQueryBuilder(0, 0)
	spec := SearchSpec{Q: "", Page: 1, Limit: 20, Sort: SortRelevance}

	// When the body is built
	body := qb.BuildSearchBody(spec)

	// Then it is a match_all with browse ordering and no relevance extras
	assert.Contains(t, sub(t, body, "query"), "match_all")
	assert.NotContains(t, body, "highlight")
	assert.NotContains(t, body, "rescore")
	assert.NotContains(t, body, "aggs")

	sortList := items(t, body, "sort")
	require.Len(t, sortList, 2)
	assert.Equal(t, map[string]any{"popularity_score": "desc"}, sortList[0])
	assert.Equal(t, map[string]any{"name.keyword": "asc"}, sortList[1])

	assert.Equal(t, 0, body["from"])
	assert.Equal(t, 20, body["size"])
	assert.Equal(t, true, body["track_total_hits"])
	assert.Equal(t, "15s", body["timeout"])
	assert.Equal(t, productSourceFields, body["_source"])
}

func TestBuildSearchBody_Paging(t *testing.T) {
	qb := NewQueryBuilder(0, 0)

	body := qb.BuildSearchBody(SearchSpec{Q: "drill", Page: 3, Limit: 25, Sort: SortRelevance})

	assert.Equal(t, 50, body["from"])
	assert.Equal(t, 25, body["size"])
}

func TestBuildSearchBody_CodeQuery(t *testing.T) {
	// Given a query that looks like a part number
	qb := NewQueryBuilder(0, 0)
	body := qb.BuildSearchBody(SearchSpec{Q: "AB-123", Page: 1, Limit: 10, Sort: SortRelevance})

	// Then exact identifier clauses lead and the wildcard is absent
	should := shouldClauses(t, body)
	require.Len(t, should, 10)

	first := sub(t, should[0].(map[string]any), "term")
	ext := sub(t, first, "external_id.keyword")
	assert.Equal(t, "AB-123", ext["value"])
	assert.Equal(t, float64(1000), ext["boost"])

	second := sub(t, should[1].(map[string]any), "term")
	sku := sub(t, second, "sku.keyword")
	assert.Equal(t, float64(900), sku["boost"])

	for _, raw := range should {
		clause := raw.(map[string]any)
		assert.NotContains(t, clause, "wildcard")
	}

	boolQ := sub(t, sub(t, sub(t, sub(t, body, "query"), "function_score"), "query"), "bool")
	assert.Equal(t, 1, boolQ["minimum_should_match"])
}

func TestBuildSearchBody_TextQuery(t *testing.T) {
	// Given a multi-word text query with one throwaway short word
	qb := NewQueryBuilder(0, 0)
	body := qb.BuildSearchBody(SearchSpec{Q: "hammer drill x", Page: 1, Limit: 10, Sort: SortRelevance})

	should := shouldClauses(t, body)
	require.Len(t, should, 10)

	// Then no exact-code clauses are present
	firstKind := should[0].(map[string]any)
	assert.Contains(t, firstKind, "prefix")

	// The word-combination clause covers the two real words with a
	// quorum computed over all three tokens.
	var combo map[string]any
	for _, raw := range should {
		clause := raw.(map[string]any)
		if b, ok := clause["bool"].(map[string]any); ok {
			combo = b
		}
	}
	require.NotNil(t, combo, "expected nested bool clause for multi-word query")
	assert.Equal(t, 3, combo["minimum_should_match"]) // ceil(0.7*3)
	assert.Equal(t, float64(20), combo["boost"])
	inner := items(t, combo, "should")
	require.Len(t, inner, 2)
	mm := sub(t, inner[0].(map[string]any), "multi_match")
	assert.Equal(t, "hammer", mm["query"])
	assert.Equal(t, []string{"name^3", "brand_name^2", "description"}, mm["fields"])

	// The trailing wildcard clause carries the lowercased pattern.
	last := sub(t, should[len(should)-1].(map[string]any), "wildcard")
	wc := sub(t, last, "name.keyword")
	assert.Equal(t, "*hammer drill x*", wc["value"])
	assert.Equal(t, float64(5), wc["boost"])
}

func TestBuildSearchBody_SingleWordSkipsCombination(t *testing.T) {
	qb := NewQueryBuilder(0, 0)
	body := qb.BuildSearchBody(SearchSpec{Q: "hammer", Page: 1, Limit: 10, Sort: SortRelevance})

	should := shouldClauses(t, body)
	// 7 unconditional clauses + name.ngram + wildcard, no combination.
	require.Len(t, should, 9)
	for _, raw := range should {
		assert.NotContains(t, raw.(map[string]any), "bool")
	}
}

func TestBuildSearchBody_ScoringFunctions(t *testing.T) {
	qb := NewQueryBuilder(0, 0)
	body := qb.BuildSearchBody(SearchSpec{Q: "drill", Page: 1, Limit: 10, Sort: SortRelevance})

	fs := sub(t, sub(t, body, "query"), "function_score")
	assert.Equal(t, "sum", fs["score_mode"])
	assert.Equal(t, "multiply", fs["boost_mode"])

	fns, ok := fs["functions"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, fns, 4)

	fvf := sub(t, fns[0], "field_value_factor")
	assert.Equal(t, "popularity_score", fvf["field"])
	assert.Equal(t, 1.2, fvf["factor"])
	assert.Equal(t, "log1p", fvf["modifier"])
	assert.Equal(t, 0, fvf["missing"])
	assert.Equal(t, 10, fns[0]["weight"])

	filter := sub(t, sub(t, fns[1], "filter"), "term")
	assert.Equal(t, true, filter["in_stock"])
	assert.Equal(t, 5, fns[1]["weight"])

	assert.Contains(t, fns[2], "script_score")
	assert.Equal(t, 3, fns[2]["weight"])
	assert.Contains(t, fns[3], "script_score")
	assert.Equal(t, 2, fns[3]["weight"])
}

func TestBuildSearchBody_Rescore(t *testing.T) {
	qb := NewQueryBuilder(50, 15*time.Second)
	body := qb.BuildSearchBody(SearchSpec{Q: "hammer drill", Page: 1, Limit: 10, Sort: SortRelevance})

	rescore := sub(t, body, "rescore")
	assert.Equal(t, 50, rescore["window_size"])

	rq := sub(t, rescore, "query")
	assert.Equal(t, 0.7, rq["query_weight"])
	assert.Equal(t, 1.3, rq["rescore_query_weight"])

	clauses := items(t, sub(t, sub(t, rq, "rescore_query"), "bool"), "should")
	require.Len(t, clauses, 2)

	phrase := sub(t, sub(t, clauses[0].(map[string]any), "match_phrase"), "name")
	assert.Equal(t, "hammer drill", phrase["query"])
	assert.Equal(t, float64(10), phrase["boost"])

	matched := sub(t, sub(t, clauses[1].(map[string]any), "match"), "name")
	assert.Equal(t, "and", matched["operator"])
	assert.Equal(t, float64(5), matched["boost"])
}

func TestBuildSearchBody_Highlight(t *testing.T) {
	qb := NewQueryBuilder(0, 0)
	body := qb.BuildSearchBody(SearchSpec{Q: "drill", Page: 1, Limit: 10, Sort: SortRelevance})

	hl := sub(t, body, "highlight")
	assert.Equal(t, []string{"<mark>"}, hl["pre_tags"])
	assert.Equal(t, []string{"</mark>"}, hl["post_tags"])

	fields := sub(t, hl, "fields")
	assert.Equal(t, map[string]any{"number_of_fragments": 0}, fields["name"])
	assert.Equal(t, map[string]any{"number_of_fragments": 0}, fields["external_id"])
	assert.Equal(t, map[string]any{"number_of_fragments": 0}, fields["sku"])
	assert.Equal(t, map[string]any{"fragment_size": 150, "number_of_fragments": 1}, fields["description"])
}

func TestBuildSearchBody_Aggregations(t *testing.T) {
	qb := NewQueryBuilder(0, 0)
	body := qb.BuildSearchBody(SearchSpec{Q: "drill", Page: 1, Limit: 10, Sort: SortRelevance})

	aggs := sub(t, body, "aggs")
	brands := sub(t, sub(t, aggs, "brands"), "terms")
	assert.Equal(t, "brand_name.keyword", brands["field"])
	assert.Equal(t, 10, brands["size"])
	series := sub(t, sub(t, aggs, "series"), "terms")
	assert.Equal(t, "series_name.keyword", series["field"])
}

func TestBuildSearchBody_Filters(t *testing.T) {
	// Given exact-value filters alongside a text query
	qb := NewQueryBuilder(0, 0)
	spec := SearchSpec{
		Q: "drill", Page: 1, Limit: 10, Sort: SortRelevance,
		Filters: Filters{BrandName: "Makita", SeriesName: "LXT", Category: "grinders"},
	}

	body := qb.BuildSearchBody(spec)

	// Then the scored query is wrapped in a filtered bool
	boolQ := sub(t, sub(t, body, "query"), "bool")
	must := items(t, boolQ, "must")
	require.Len(t, must, 1)
	assert.Contains(t, must[0].(map[string]any), "function_score")

	filters := items(t, boolQ, "filter")
	require.Len(t, filters, 3)
	brand := sub(t, sub(t, filters[0].(map[string]any), "term"), "brand_name.keyword")
	assert.Equal(t, "Makita", brand["value"])
	assert.NotContains(t, brand, "boost")
	category := sub(t, sub(t, filters[2].(map[string]any), "term"), "categories")
	assert.Equal(t, "grinders", category["value"])
}

func TestBuildSearchBody_SortTable(t *testing.T) {
	qb := NewQueryBuilder(0, 0)

	tests := []struct {
		name string
		sort string
		q    string
		want []any
	}{
		{"relevance with query", SortRelevance, "drill", []any{
			map[string]any{"_score": "desc"}, map[string]any{"popularity_score": "desc"},
		}},
		{"relevance browse", SortRelevance, "", []any{
			map[string]any{"popularity_score": "desc"}, map[string]any{"name.keyword": "asc"},
		}},
		{"name", SortName, "drill", []any{map[string]any{"name.keyword": "asc"}}},
		{"external id", SortExternalID, "drill", []any{map[string]any{"external_id.keyword": "asc"}}},
		{"availability", SortAvailability, "drill", []any{
			map[string]any{"in_stock": "desc"}, map[string]any{"_score": "desc"},
		}},
		{"popularity", SortPopularity, "drill", []any{
			map[string]any{"popularity_score": "desc"}, map[string]any{"_score": "desc"},
		}},
		{"price ascending placeholder", SortPriceAsc, "drill", []any{map[string]any{"product_id": "asc"}}},
		{"price descending placeholder", SortPriceDesc, "drill", []any{map[string]any{"product_id": "desc"}}},
		{"unknown falls back", "weird", "drill", []any{
			map[string]any{"_score": "desc"}, map[string]any{"popularity_score": "desc"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := qb.BuildSearchBody(SearchSpec{Q: tt.q, Page: 1, Limit: 10, Sort: tt.sort})
			assert.Equal(t, tt.want, body["sort"])
		})
	}
}

func TestClauseRender_BoostOmittedWhenZero(t *testing.T) {
	rendered := Term("brand_name.keyword", "Makita", 0).render()
	inner := sub(t, sub(t, rendered, "term"), "brand_name.keyword")
	assert.NotContains(t, inner, "boost")
}

func TestClauseRender_FuzzyCarriesPrefixLength(t *testing.T) {
	rendered := Fuzzy("external_id", "AB-12", 80, 2).render()
	inner := sub(t, sub(t, rendered, "fuzzy"), "external_id")
	assert.Equal(t, "AUTO", inner["fuzziness"])
	assert.Equal(t, 2, inner["prefix_length"])
	assert.Equal(t, float64(80), inner["boost"])
}

func TestRenderTimeout(t *testing.T) {
	assert.Equal(t, "15s", renderTimeout(15*time.Second))
	assert.Equal(t, "1500ms", renderTimeout(1500*time.Millisecond))
}
