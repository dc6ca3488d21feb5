package store

import (
	"context"
	"strings"

	"github.com/quickparts/searchd/internal/catalog"
	"github.com/quickparts/searchd/internal/errors"
	"github.com/quickparts/searchd/internal/search"
)

// FallbackResult is the degraded search answer served while the
// search backend is down.
type FallbackResult struct {
	Products []catalog.Product
	Total    int64
	Page     int
	Limit    int
}

// escapeLike neutralizes LIKE metacharacters. The queries declare
// ESCAPE '!' because MySQL and SQLite disagree on backslash handling.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// relevanceCase mirrors the search backend's identifier-first ranking
// in plain SQL.
const relevanceCase = `CASE
	WHEN COALESCE(p.external_id, '') = ? THEN 1000
	WHEN COALESCE(p.sku, '') = ? THEN 900
	WHEN COALESCE(p.external_id, '') LIKE ? ESCAPE '!' THEN 100
	WHEN COALESCE(p.sku, '') LIKE ? ESCAPE '!' THEN 90
	WHEN COALESCE(p.name, '') = ? THEN 80
	WHEN COALESCE(p.name, '') LIKE ? ESCAPE '!' THEN 50
	WHEN COALESCE(p.name, '') LIKE ? ESCAPE '!' THEN 30
	WHEN COALESCE(b.name, '') LIKE ? ESCAPE '!' THEN 20
	WHEN COALESCE(p.description, '') LIKE ? ESCAPE '!' THEN 10
	ELSE 1
END`

const fallbackWhere = `
WHERE p.product_id > 0 AND (
	COALESCE(p.external_id, '') LIKE ? ESCAPE '!'
	OR COALESCE(p.sku, '') LIKE ? ESCAPE '!'
	OR COALESCE(p.name, '') LIKE ? ESCAPE '!'
	OR COALESCE(b.name, '') LIKE ? ESCAPE '!'
	OR COALESCE(s.name, '') LIKE ? ESCAPE '!'
	OR COALESCE(p.description, '') LIKE ? ESCAPE '!'
)`

// caseArgs binds the relevanceCase placeholders for q.
func caseArgs(q string) []any {
	prefix := escapeLike(q) + "%"
	contains := "%" + escapeLike(q) + "%"
	return []any{q, q, prefix, prefix, q, prefix, contains, contains, contains}
}

// whereArgs binds the fallbackWhere placeholders for q.
func whereArgs(q string) []any {
	contains := "%" + escapeLike(q) + "%"
	return []any{contains, contains, contains, contains, contains, contains}
}

// fallbackOrder maps the public sort values onto SQL ordering. The
// relevance alias only exists when q is non-empty.
func fallbackOrder(sort string, hasQuery bool) string {
	switch search.NormalizeSort(sort) {
	case search.SortName:
		return "p.name ASC"
	case search.SortExternalID:
		return "p.external_id ASC"
	case search.SortPriceAsc:
		return "p.product_id ASC"
	case search.SortPriceDesc:
		return "p.product_id DESC"
	default:
		if hasQuery {
			return "relevance_score DESC, p.name ASC"
		}
		return "p.name ASC"
	}
}

// FallbackSearch serves search from MySQL with a reduced ranking
// model: exact identifier, identifier prefix, then name and text
// containment.
func (s *MySQLStore) FallbackSearch(ctx context.Context, spec search.SearchSpec) (*FallbackResult, error) {
	hasQuery := spec.Q != ""
	offset := (spec.Page - 1) * spec.Limit

	var (
		query string
		args  []any
		count string
		cargs []any
	)
	if hasQuery {
		query = `SELECT` + productColumns + `,
	` + relevanceCase + ` AS relevance_score` + productJoins + fallbackWhere + `
ORDER BY ` + fallbackOrder(spec.Sort, true) + `
LIMIT ? OFFSET ?`
		args = append(args, caseArgs(spec.Q)...)
		args = append(args, whereArgs(spec.Q)...)
		args = append(args, spec.Limit, offset)

		count = `SELECT COUNT(*)` + productJoins + fallbackWhere
		cargs = whereArgs(spec.Q)
	} else {
		query = `SELECT` + productColumns + productJoins + `
WHERE p.product_id > 0
ORDER BY ` + fallbackOrder(spec.Sort, false) + `
LIMIT ? OFFSET ?`
		args = []any{spec.Limit, offset}

		count = `SELECT COUNT(*) FROM products p WHERE p.product_id > 0`
	}

	result := &FallbackResult{Page: spec.Page, Limit: spec.Limit}

	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		products, err := scanProductRows(rows, hasQuery)
		if err != nil {
			return err
		}
		result.Products = products
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreQuery, "fallback search failed", err)
	}

	err = s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, count, cargs...).Scan(&result.Total)
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreQuery, "fallback count failed", err)
	}

	return result, nil
}

// fallbackAutocompleteQuery ranks prefix matches above containment
// above phonetic similarity.
const fallbackAutocompleteQuery = `SELECT COALESCE(p.name, ''), COALESCE(p.external_id, ''),
	CASE
		WHEN p.name LIKE ? ESCAPE '!' THEN 100
		WHEN COALESCE(p.external_id, '') LIKE ? ESCAPE '!' THEN 50
		WHEN p.name LIKE ? ESCAPE '!' THEN 30
		WHEN SOUNDEX(p.name) = SOUNDEX(?) THEN 20
		ELSE 10
	END AS score
FROM products p
WHERE p.product_id > 0 AND COALESCE(p.name, '') <> '' AND (
	p.name LIKE ? ESCAPE '!'
	OR COALESCE(p.external_id, '') LIKE ? ESCAPE '!'
	OR p.name LIKE ? ESCAPE '!'
	OR SOUNDEX(p.name) = SOUNDEX(?)
)
ORDER BY score DESC, p.name ASC
LIMIT ?`

// autocompleteArgs binds fallbackAutocompleteQuery for q and limit.
func autocompleteArgs(q string, limit int) []any {
	prefix := escapeLike(q) + "%"
	contains := "%" + escapeLike(q) + "%"
	return []any{
		prefix, prefix, contains, q,
		prefix, prefix, contains, q,
		limit,
	}
}

// FallbackAutocomplete serves autocomplete from MySQL while the
// search backend is down. SOUNDEX keeps typo tolerance roughly on
// par with the primary path's fuzzy matching.
func (s *MySQLStore) FallbackAutocomplete(ctx context.Context, q string, limit int) ([]search.Suggestion, error) {
	if limit <= 0 {
		limit = search.DefaultAutocompleteLimit
	}

	var suggestions []search.Suggestion
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, fallbackAutocompleteQuery, autocompleteArgs(q, limit)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		suggestions = suggestions[:0]
		for rows.Next() {
			var (
				name       string
				externalID string
				score      float64
			)
			if err := rows.Scan(&name, &externalID, &score); err != nil {
				return err
			}
			suggestions = append(suggestions, search.Suggestion{
				Text:       name,
				Type:       search.SuggestionTypeProduct,
				Score:      score,
				ExternalID: externalID,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreQuery, "fallback autocomplete failed", err)
	}

	return suggestions, nil
}
