package catalog

import (
	"strings"
	"time"
	"unicode"
)

// SkipReason explains why a source row was not turned into a document.
// Skipped rows are counted per reason by the indexer, never fatal.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipInvalidID     SkipReason = "invalid_product_id"
	SkipNoIdentifiers SkipReason = "no_identifying_fields"
)

// Builder transforms source rows into indexable documents. It is
// stateless apart from the clock, which is injectable for tests.
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a Builder using the system clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// NewBuilderWithClock creates a Builder with a fixed clock.
func NewBuilderWithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// Build validates and transforms one row. On success the returned
// SkipReason is SkipNone; otherwise the document is nil and the reason
// says why the row was dropped.
func (b *Builder) Build(p Product) (*Document, SkipReason) {
	if p.ProductID <= 0 {
		return nil, SkipInvalidID
	}

	name := NormalizeText(p.Name)
	externalID := NormalizeText(p.ExternalID)
	sku := NormalizeText(p.SKU)

	// A document must be findable by at least one identifying field.
	if name == "" && externalID == "" && sku == "" {
		return nil, SkipNoIdentifiers
	}

	brandName := NormalizeText(p.BrandName)
	seriesName := NormalizeText(p.SeriesName)
	description := NormalizeText(p.Description)

	doc := &Document{
		ProductID:   p.ProductID,
		ExternalID:  externalID,
		SKU:         sku,
		Name:        name,
		Description: description,
		BrandID:     clampInt64(p.BrandID, 0),
		BrandName:   brandName,
		SeriesID:    clampInt64(p.SeriesID, 0),
		SeriesName:  seriesName,
		Unit:        NormalizeText(p.Unit),
		Dimensions:  NormalizeText(p.Dimensions),
		MinSale:     clampInt(p.MinSale, 1),
		Weight:      clampFloat(p.Weight, 0),

		SearchAll: buildSearchAll(name, externalID, sku, brandName, seriesName, description),
		Suggest:   buildSuggest(name, externalID, sku, brandName, seriesName),

		PopularityScore: 0,
		InStock:         false,

		Categories:  []string{},
		CategoryIDs: []int64{},
		Attributes:  map[string]string{},
		Images:      []string{},
		Documents:   DocumentCounts{},

		CreatedAt: b.coerceTime(p.CreatedAt),
		UpdatedAt: b.coerceTime(p.UpdatedAt),
	}

	return doc, SkipNone
}

// buildSuggest assembles the weighted completion inputs. Inputs
// shorter than 2 characters carry no prefix signal and are omitted.
func buildSuggest(name, externalID, sku, brandName, seriesName string) []SuggestEntry {
	entries := make([]SuggestEntry, 0, 5)

	add := func(input string, weight int) {
		if len([]rune(input)) < 2 {
			return
		}
		entries = append(entries, SuggestEntry{Input: []string{input}, Weight: weight})
	}

	add(name, SuggestWeightName)
	add(externalID, SuggestWeightExternalID)
	add(sku, SuggestWeightSKU)
	add(brandName, SuggestWeightBrand)
	add(seriesName, SuggestWeightSeries)

	return entries
}

// buildSearchAll joins the text fields into one catch-all field.
func buildSearchAll(fields ...string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return NormalizeText(strings.Join(parts, " "))
}

// coerceTime renders a source timestamp as ISO-8601, defaulting to
// the current time when the source value was NULL or unparseable.
func (b *Builder) coerceTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return b.now().Format(time.RFC3339)
	}
	return t.Format(time.RFC3339)
}

// NormalizeText strips control characters (tab, newline, and carriage
// return survive as separators), collapses whitespace runs to single
// spaces, and trims the ends.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		sb.WriteRune(r)
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}

func clampInt64(v, min int64) int64 {
	if v < min {
		return min
	}
	return v
}

func clampInt(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func clampFloat(v, min float64) float64 {
	if v < min {
		return min
	}
	return v
}
