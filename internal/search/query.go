package search

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Sort orders accepted by the search endpoint. Anything else falls
// back to SortRelevance.
const (
	SortRelevance    = "relevance"
	SortName         = "name"
	SortExternalID   = "external_id"
	SortPriceAsc     = "price_asc"
	SortPriceDesc    = "price_desc"
	SortAvailability = "availability"
	SortPopularity   = "popularity"
)

// Defaults for the request body builder.
const (
	DefaultRescoreWindow = 50
	DefaultBodyTimeout   = 15 * time.Second
)

var allowedSorts = map[string]bool{
	SortRelevance:    true,
	SortName:         true,
	SortExternalID:   true,
	SortPriceAsc:     true,
	SortPriceDesc:    true,
	SortAvailability: true,
	SortPopularity:   true,
}

// NormalizeSort maps unknown sort values to SortRelevance.
func NormalizeSort(sort string) string {
	if allowedSorts[sort] {
		return sort
	}
	return SortRelevance
}

// Filters narrows a search to exact brand, series or category values.
type Filters struct {
	BrandName  string
	SeriesName string
	Category   string
}

// SearchSpec is a validated search request. The service layer owns
// clamping; the builder trusts the values it receives.
type SearchSpec struct {
	Q       string
	Page    int
	Limit   int
	Sort    string
	CityID  int64
	UserID  int64
	Filters Filters
}

// ClauseKind tags a Clause variant.
type ClauseKind int

const (
	KindTerm ClauseKind = iota
	KindPrefix
	KindFuzzy
	KindMatch
	KindMatchPhrase
	KindMatchPhrasePrefix
	KindMultiMatch
	KindWildcard
	KindBool
)

// Clause is a tagged query-clause value. Construction is type-checked
// through the constructors below; render is the single point where a
// clause becomes wire format.
type Clause struct {
	Kind  ClauseKind
	Field string
	Value string
	Boost float64

	// Match variants.
	Operator     string
	Fuzziness    string
	PrefixLength int

	// MultiMatch.
	Fields []string
	Type   string

	// Bool.
	Should             []Clause
	MinimumShouldMatch int
}

// Term matches an exact keyword value.
func Term(field, value string, boost float64) Clause {
	return Clause{Kind: KindTerm, Field: field, Value: value, Boost: boost}
}

// Prefix matches terms starting with value.
func Prefix(field, value string, boost float64) Clause {
	return Clause{Kind: KindPrefix, Field: field, Value: value, Boost: boost}
}

// Fuzzy matches within AUTO edit distance, anchored on prefixLength
// leading characters.
func Fuzzy(field, value string, boost float64, prefixLength int) Clause {
	return Clause{Kind: KindFuzzy, Field: field, Value: value, Boost: boost, Fuzziness: "AUTO", PrefixLength: prefixLength}
}

// Match is an analyzed full-text match with OR semantics.
func Match(field, query string, boost float64) Clause {
	return Clause{Kind: KindMatch, Field: field, Value: query, Boost: boost}
}

// MatchAnd requires every query term to match.
func MatchAnd(field, query string, boost float64) Clause {
	return Clause{Kind: KindMatch, Field: field, Value: query, Boost: boost, Operator: "and"}
}

// MatchFuzzy is Match with AUTO fuzziness.
func MatchFuzzy(field, query string, boost float64, prefixLength int) Clause {
	return Clause{Kind: KindMatch, Field: field, Value: query, Boost: boost, Fuzziness: "AUTO", PrefixLength: prefixLength}
}

// MatchPhrase requires the terms in order.
func MatchPhrase(field, query string, boost float64) Clause {
	return Clause{Kind: KindMatchPhrase, Field: field, Value: query, Boost: boost}
}

// MatchPhrasePrefix is MatchPhrase with the last term as a prefix.
func MatchPhrasePrefix(field, query string, boost float64) Clause {
	return Clause{Kind: KindMatchPhrasePrefix, Field: field, Value: query, Boost: boost}
}

// MultiMatch scores query across several weighted fields.
func MultiMatch(query string, fields []string, boost float64) Clause {
	return Clause{Kind: KindMultiMatch, Value: query, Fields: fields, Boost: boost}
}

// MultiMatchFuzzy is MultiMatch with best_fields and AUTO fuzziness.
func MultiMatchFuzzy(query string, fields []string, boost float64) Clause {
	return Clause{Kind: KindMultiMatch, Value: query, Fields: fields, Boost: boost, Type: "best_fields", Fuzziness: "AUTO"}
}

// Wildcard matches a keyword value against a glob pattern.
func Wildcard(field, pattern string, boost float64) Clause {
	return Clause{Kind: KindWildcard, Field: field, Value: pattern, Boost: boost}
}

// Bool groups should-clauses with a minimum_should_match.
func Bool(should []Clause, minimumShouldMatch int) Clause {
	return Clause{Kind: KindBool, Should: should, MinimumShouldMatch: minimumShouldMatch}
}

// render converts the clause into the backend's request shape.
func (c Clause) render() map[string]any {
	switch c.Kind {
	case KindTerm:
		inner := map[string]any{"value": c.Value}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"term": map[string]any{c.Field: inner}}

	case KindPrefix:
		inner := map[string]any{"value": c.Value}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"prefix": map[string]any{c.Field: inner}}

	case KindFuzzy:
		inner := map[string]any{"value": c.Value, "fuzziness": c.Fuzziness}
		if c.PrefixLength > 0 {
			inner["prefix_length"] = c.PrefixLength
		}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"fuzzy": map[string]any{c.Field: inner}}

	case KindMatch:
		inner := map[string]any{"query": c.Value}
		if c.Operator != "" {
			inner["operator"] = c.Operator
		}
		if c.Fuzziness != "" {
			inner["fuzziness"] = c.Fuzziness
			if c.PrefixLength > 0 {
				inner["prefix_length"] = c.PrefixLength
			}
		}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"match": map[string]any{c.Field: inner}}

	case KindMatchPhrase:
		inner := map[string]any{"query": c.Value}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"match_phrase": map[string]any{c.Field: inner}}

	case KindMatchPhrasePrefix:
		inner := map[string]any{"query": c.Value}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"match_phrase_prefix": map[string]any{c.Field: inner}}

	case KindMultiMatch:
		inner := map[string]any{"query": c.Value, "fields": c.Fields}
		if c.Type != "" {
			inner["type"] = c.Type
		}
		if c.Fuzziness != "" {
			inner["fuzziness"] = c.Fuzziness
		}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"multi_match": inner}

	case KindWildcard:
		inner := map[string]any{"value": c.Value}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"wildcard": map[string]any{c.Field: inner}}

	case KindBool:
		should := make([]any, 0, len(c.Should))
		for _, s := range c.Should {
			should = append(should, s.render())
		}
		inner := map[string]any{"should": should}
		if c.MinimumShouldMatch > 0 {
			inner["minimum_should_match"] = c.MinimumShouldMatch
		}
		if c.Boost > 0 {
			inner["boost"] = c.Boost
		}
		return map[string]any{"bool": inner}
	}

	return map[string]any{}
}

var codePattern = regexp.MustCompile(`^[A-Za-z0-9\-./]+$`)

// IsCode reports whether q looks like a part number or SKU: only
// code characters, at least one digit, at most 50 characters.
func IsCode(q string) bool {
	if len(q) > 50 || !codePattern.MatchString(q) {
		return false
	}
	return strings.ContainsFunc(q, unicode.IsDigit)
}

// productSourceFields limits _source to the document fields clients
// consume.
var productSourceFields = []string{
	"product_id", "external_id", "sku", "name", "description",
	"brand_id", "brand_name", "series_id", "series_name",
	"unit", "dimensions", "min_sale", "weight",
	"popularity_score", "in_stock",
	"categories", "category_ids", "attributes", "images", "documents",
	"created_at", "updated_at",
}

// Painless sources for the length-based scoring functions. Both read
// keyword doc values; descriptions longer than the keyword
// ignore_above cutoff score as absent.
const (
	nameLengthScript = "double len = doc['name.keyword'].size() == 0 ? 0 : doc['name.keyword'].value.length(); " +
		"return Math.max(1.0, 50.0 - len) / 50.0;"
	descriptionLengthScript = "if (doc['description.keyword'].size() == 0) { return 1.0; } " +
		"double len = doc['description.keyword'].value.length(); " +
		"return Math.max(0.5, 1.0 - len / 1000.0);"
)

// QueryBuilder renders SearchSpec values into backend request bodies.
type QueryBuilder struct {
	rescoreWindow int
	bodyTimeout   string
}

// NewQueryBuilder creates a builder. Non-positive arguments fall back
// to the package defaults.
func NewQueryBuilder(rescoreWindow int, bodyTimeout time.Duration) *QueryBuilder {
	if rescoreWindow <= 0 {
		rescoreWindow = DefaultRescoreWindow
	}
	if bodyTimeout <= 0 {
		bodyTimeout = DefaultBodyTimeout
	}
	return &QueryBuilder{
		rescoreWindow: rescoreWindow,
		bodyTimeout:   renderTimeout(bodyTimeout),
	}
}

// renderTimeout writes a duration the way the backend expects it.
// Fractional time values are rejected by Elasticsearch, so whole
// seconds render as seconds and everything else as milliseconds.
func renderTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// BuildSearchBody renders the full search request: paging, query,
// scoring functions, rescore, highlight, sort, aggregations and the
// _source restriction.
func (qb *QueryBuilder) BuildSearchBody(spec SearchSpec) map[string]any {
	body := map[string]any{
		"from":             (spec.Page - 1) * spec.Limit,
		"size":             spec.Limit,
		"track_total_hits": true,
		"timeout":          qb.bodyTimeout,
		"_source":          productSourceFields,
	}

	hasQuery := spec.Q != ""

	var query map[string]any
	if hasQuery {
		query = map[string]any{
			"function_score": map[string]any{
				"query":      mainQuery(spec.Q).render(),
				"functions":  scoringFunctions(),
				"score_mode": "sum",
				"boost_mode": "multiply",
			},
		}
		body["rescore"] = qb.rescoreBlock(spec.Q)
		body["highlight"] = highlightBlock()
		body["aggs"] = aggregationsBlock()
	} else {
		query = map[string]any{"match_all": map[string]any{}}
	}

	if filters := filterClauses(spec.Filters); len(filters) > 0 {
		query = map[string]any{
			"bool": map[string]any{
				"must":   []any{query},
				"filter": filters,
			},
		}
	}

	body["query"] = query
	body["sort"] = sortClause(spec.Sort, hasQuery)
	return body
}

// mainQuery builds the relevance bool.should. Clause order mirrors
// descending boost so explain output reads top to bottom.
func mainQuery(q string) Clause {
	isCode := IsCode(q)
	words := strings.Fields(q)

	clauses := make([]Clause, 0, 12)
	if isCode {
		clauses = append(clauses,
			Term("external_id.keyword", q, 1000),
			Term("sku.keyword", q, 900),
		)
	}
	clauses = append(clauses,
		Prefix("external_id", q, 100),
		Prefix("sku", q, 90),
		Fuzzy("external_id", q, 80, 2),
		MatchPhrase("name", q, 70),
		MatchAnd("name", q, 60),
		MatchFuzzy("name", q, 40, 3),
		MultiMatchFuzzy(q, []string{"name^5", "name.ngram^2", "brand_name^3", "series_name^2", "description"}, 30),
	)
	if len(words) > 1 {
		if wc, ok := wordCombination(words); ok {
			clauses = append(clauses, wc)
		}
	}
	clauses = append(clauses, Match("name.ngram", q, 10))
	if len([]rune(q)) >= 3 && !isCode {
		clauses = append(clauses, Wildcard("name.keyword", "*"+strings.ToLower(q)+"*", 5))
	}

	return Bool(clauses, 1)
}

// wordCombination scores multi-word queries word by word. Words
// shorter than 2 characters contribute no clause but still count
// toward the minimum_should_match quorum.
func wordCombination(words []string) (Clause, bool) {
	inner := make([]Clause, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 {
			continue
		}
		inner = append(inner, MultiMatch(w, []string{"name^3", "brand_name^2", "description"}, 0))
	}
	if len(inner) == 0 {
		return Clause{}, false
	}

	msm := int(math.Ceil(0.7 * float64(len(words))))
	return Clause{Kind: KindBool, Should: inner, MinimumShouldMatch: msm, Boost: 20}, true
}

// scoringFunctions are the multiplicative signals applied on top of
// the textual score.
func scoringFunctions() []map[string]any {
	return []map[string]any{
		{
			"field_value_factor": map[string]any{
				"field":    "popularity_score",
				"factor":   1.2,
				"modifier": "log1p",
				"missing":  0,
			},
			"weight": 10,
		},
		{
			"filter": map[string]any{"term": map[string]any{"in_stock": true}},
			"weight": 5,
		},
		{
			"script_score": map[string]any{"script": map[string]any{"source": nameLengthScript}},
			"weight": 3,
		},
		{
			"script_score": map[string]any{"script": map[string]any{"source": descriptionLengthScript}},
			"weight": 2,
		},
	}
}

// rescoreBlock re-ranks the top window with phrase and strict-and
// matches on name.
func (qb *QueryBuilder) rescoreBlock(q string) map[string]any {
	rescoreQuery := Bool([]Clause{
		MatchPhrase("name", q, 10),
		MatchAnd("name", q, 5),
	}, 0)

	return map[string]any{
		"window_size": qb.rescoreWindow,
		"query": map[string]any{
			"query_weight":         0.7,
			"rescore_query_weight": 1.3,
			"rescore_query":        rescoreQuery.render(),
		},
	}
}

// highlightBlock wraps matches in <mark> tags. Identifier fields
// highlight whole values; description yields one short fragment.
func highlightBlock() map[string]any {
	return map[string]any{
		"pre_tags":  []string{"<mark>"},
		"post_tags": []string{"</mark>"},
		"fields": map[string]any{
			"name":        map[string]any{"number_of_fragments": 0},
			"external_id": map[string]any{"number_of_fragments": 0},
			"sku":         map[string]any{"number_of_fragments": 0},
			"description": map[string]any{"fragment_size": 150, "number_of_fragments": 1},
		},
	}
}

// aggregationsBlock adds brand and series facets.
func aggregationsBlock() map[string]any {
	return map[string]any{
		"brands": map[string]any{
			"terms": map[string]any{"field": "brand_name.keyword", "size": 10},
		},
		"series": map[string]any{
			"terms": map[string]any{"field": "series_name.keyword", "size": 10},
		},
	}
}

// filterClauses renders the exact-value filters.
func filterClauses(f Filters) []any {
	var out []any
	if f.BrandName != "" {
		out = append(out, Term("brand_name.keyword", f.BrandName, 0).render())
	}
	if f.SeriesName != "" {
		out = append(out, Term("series_name.keyword", f.SeriesName, 0).render())
	}
	if f.Category != "" {
		out = append(out, Term("categories", f.Category, 0).render())
	}
	return out
}

// sortClause renders the sort table. price_asc and price_desc order
// by product_id until prices land in the index.
func sortClause(sort string, hasQuery bool) []any {
	switch NormalizeSort(sort) {
	case SortName:
		return []any{map[string]any{"name.keyword": "asc"}}
	case SortExternalID:
		return []any{map[string]any{"external_id.keyword": "asc"}}
	case SortAvailability:
		return []any{map[string]any{"in_stock": "desc"}, map[string]any{"_score": "desc"}}
	case SortPopularity:
		return []any{map[string]any{"popularity_score": "desc"}, map[string]any{"_score": "desc"}}
	case SortPriceAsc:
		return []any{map[string]any{"product_id": "asc"}}
	case SortPriceDesc:
		return []any{map[string]any{"product_id": "desc"}}
	default:
		if hasQuery {
			return []any{map[string]any{"_score": "desc"}, map[string]any{"popularity_score": "desc"}}
		}
		return []any{map[string]any{"popularity_score": "desc"}, map[string]any{"name.keyword": "asc"}}
	}
}
