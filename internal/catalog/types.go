// Package catalog defines the product domain types and the pure
// transformation from relational rows to indexable documents.
package catalog

import (
	"strconv"
	"time"
)

// Suggest payload weights. The autocomplete completion field orders
// entries by these values, so they are schema constants shared by the
// indexer and the query path rather than per-call literals.
const (
	SuggestWeightName       = 100
	SuggestWeightExternalID = 95
	SuggestWeightSKU        = 90
	SuggestWeightBrand      = 70
	SuggestWeightSeries     = 60
)

// Product is a source row from the catalog database. Joined brand and
// series names are denormalized in by the store's LEFT JOINs.
type Product struct {
	ProductID   int64
	ExternalID  string
	SKU         string
	Name        string
	Description string
	BrandID     int64
	BrandName   string
	SeriesID    int64
	SeriesName  string
	Unit        string
	Dimensions  string
	MinSale     int
	Weight      float64

	// Nil means the source column was NULL or unparseable.
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// SuggestEntry is one weighted input of the completion field.
type SuggestEntry struct {
	Input  []string `json:"input"`
	Weight int      `json:"weight"`
}

// DocumentCounts holds per-kind attachment counters.
type DocumentCounts struct {
	Certificates int `json:"certificates"`
	Manuals      int `json:"manuals"`
	Drawings     int `json:"drawings"`
}

// Document is the indexable form of a product. String fields carry
// omitempty so empty values are elided from the upload; numeric and
// boolean fields always serialize since zero is meaningful for them.
type Document struct {
	ProductID   int64   `json:"product_id"`
	ExternalID  string  `json:"external_id,omitempty"`
	SKU         string  `json:"sku,omitempty"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	BrandID     int64   `json:"brand_id"`
	BrandName   string  `json:"brand_name,omitempty"`
	SeriesID    int64   `json:"series_id"`
	SeriesName  string  `json:"series_name,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Dimensions  string  `json:"dimensions,omitempty"`
	MinSale     int     `json:"min_sale"`
	Weight      float64 `json:"weight"`

	// Derived fields.
	SearchAll       string         `json:"search_all,omitempty"`
	Suggest         []SuggestEntry `json:"suggest"`
	PopularityScore float64        `json:"popularity_score"`
	InStock         bool           `json:"in_stock"`

	Categories  []string          `json:"categories"`
	CategoryIDs []int64           `json:"category_ids"`
	Attributes  map[string]string `json:"attributes"`
	Images      []string          `json:"images"`
	Documents   DocumentCounts    `json:"documents"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ID returns the backend document id. Document identity is the
// product id; re-indexing the same product overwrites in place.
func (d *Document) ID() string {
	return strconv.FormatInt(d.ProductID, 10)
}
