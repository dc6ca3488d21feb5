package search

import (
	"encoding/json"
	"sort"
	"strings"
)

// SuggesterName keys the completion suggester in autocomplete
// requests and responses.
const SuggesterName = "product_suggest"

// Autocomplete limits.
const (
	DefaultAutocompleteLimit = 10
	MaxAutocompleteLimit     = 20
)

// Suggestion entry types.
const (
	SuggestionTypeSuggest = "suggest"
	SuggestionTypeProduct = "product"
)

// Suggestion is one autocomplete entry.
type Suggestion struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Score      float64 `json:"score"`
	ExternalID string  `json:"external_id,omitempty"`
}

// BuildAutocompleteBody renders the primary autocomplete request: a
// completion suggester over the suggest field.
func (qb *QueryBuilder) BuildAutocompleteBody(q string, limit int) map[string]any {
	return map[string]any{
		"suggest": map[string]any{
			SuggesterName: map[string]any{
				"prefix": q,
				"completion": map[string]any{
					"field":           "suggest",
					"size":            limit,
					"skip_duplicates": true,
					"fuzzy": map[string]any{
						"fuzziness":     "AUTO",
						"prefix_length": 1,
					},
				},
			},
		},
		"_source": []string{"external_id", "name"},
	}
}

// BuildAutocompleteFallbackBody renders the secondary request used to
// pad thin completion results with regular document matches.
func (qb *QueryBuilder) BuildAutocompleteFallbackBody(q string, limit int) map[string]any {
	clauses := []Clause{
		Prefix("external_id", q, 10),
		Prefix("name.autocomplete", q, 5),
		MatchPhrasePrefix("name", q, 3),
		Fuzzy("name", q, 2, 1),
		Prefix("brand_name.autocomplete", q, 2),
	}
	return map[string]any{
		"size":    limit,
		"query":   Bool(clauses, 1).render(),
		"_source": []string{"external_id", "name"},
	}
}

// suggestionSource is the _source slice autocomplete requests ask for.
type suggestionSource struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

// CompletionSuggestions converts completion-suggester options into
// suggestions of type "suggest".
func CompletionSuggestions(result *SearchResult) []Suggestion {
	if result == nil || len(result.Suggest) == 0 {
		return nil
	}

	options := result.Suggest[SuggesterName]
	suggestions := make([]Suggestion, 0, len(options))
	for _, o := range options {
		if o.Text == "" {
			continue
		}
		s := Suggestion{Text: o.Text, Type: SuggestionTypeSuggest, Score: o.Score}
		if len(o.Source) > 0 {
			var src suggestionSource
			if err := json.Unmarshal(o.Source, &src); err == nil {
				s.ExternalID = src.ExternalID
			}
		}
		suggestions = append(suggestions, s)
	}
	return suggestions
}

// FallbackSuggestions converts regular search hits into suggestions
// of type "product".
func FallbackSuggestions(result *SearchResult) []Suggestion {
	if result == nil || len(result.Hits) == 0 {
		return nil
	}

	suggestions := make([]Suggestion, 0, len(result.Hits))
	for _, h := range result.Hits {
		var src suggestionSource
		if err := json.Unmarshal(h.Source, &src); err != nil || src.Name == "" {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Text:       src.Name,
			Type:       SuggestionTypeProduct,
			Score:      h.Score,
			ExternalID: src.ExternalID,
		})
	}
	return suggestions
}

// MergeSuggestions deduplicates by lowercased text with completion
// entries winning ties, orders by score descending and truncates to
// limit. The stable sort keeps completion entries ahead of product
// entries on equal scores.
func MergeSuggestions(completion, fallback []Suggestion, limit int) []Suggestion {
	if limit <= 0 {
		limit = DefaultAutocompleteLimit
	}

	seen := make(map[string]bool, len(completion)+len(fallback))
	merged := make([]Suggestion, 0, len(completion)+len(fallback))
	for _, s := range completion {
		key := strings.ToLower(s.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, s)
	}
	for _, s := range fallback {
		key := strings.ToLower(s.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, s)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
