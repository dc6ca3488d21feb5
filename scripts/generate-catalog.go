//go:build ignore

// Package main generates a synthetic product catalog for load-testing
// the index pipeline and the relational fallback.
// Usage: go run scripts/generate-catalog.go -products 50000 -output testdata/catalog.sql
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numProducts = flag.Int("products", 50000, "Number of products to generate")
	output      = flag.String("output", "testdata/catalog.sql", "Output file")
	format      = flag.String("format", "sql", "Output format: sql or ndjson")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
	brokenPct   = flag.Int("broken", 2, "Percent of rows with no identifying fields (builder must skip them)")
)

// Assembly vocabulary. Names come out as "<type> <size> <material>"
// so prefix autocomplete and multi-term search have something real to
// chew on.
var (
	productTypes = []string{
		"Gate Valve", "Ball Valve", "Check Valve", "Butterfly Valve",
		"Flange", "Gasket", "Elbow", "Tee", "Reducer", "Coupling",
		"Union", "Nipple", "Pipe Clamp", "Hose Barb", "Pressure Gauge",
	}
	materials = []string{
		"Brass", "Stainless", "Carbon Steel", "PVC", "Copper",
		"Cast Iron", "Bronze",
	}
	sizes = []string{
		"DN15", "DN20", "DN25", "DN32", "DN40", "DN50", "DN65",
		"DN80", "DN100", "1/2in", "3/4in", "1in", "2in",
	}
	brands = []string{
		"Hattersley", "Viega", "Georg Fischer", "Oventrop", "Danfoss",
		"KSB", "Grundfos", "Uponor",
	}
	seriesNames = []string{
		"PN10", "PN16", "PN25", "Standard", "Premium", "Compact", "HD",
	}
	units = []string{"pc", "pc", "pc", "m", "set"}
)

type row struct {
	ProductID   int64   `json:"product_id"`
	ExternalID  string  `json:"external_id"`
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	BrandID     int64   `json:"brand_id"`
	SeriesID    int64   `json:"series_id"`
	Unit        string  `json:"unit"`
	Dimensions  string  `json:"dimensions"`
	MinSale     int     `json:"min_sale"`
	Weight      float64 `json:"weight"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func main() {
	flag.Parse()

	if *format != "sql" && *format != "ndjson" {
		fmt.Fprintf(os.Stderr, "unknown format %q (want sql or ndjson)\n", *format)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create output directory: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot create output file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	rng := rand.New(rand.NewSource(*seed))

	var write func(w *bufio.Writer, rows []row) error
	switch *format {
	case "sql":
		writeSchema(w)
		writeLookups(w)
		write = writeSQLBatch
	case "ndjson":
		write = writeNDJSON
	}

	const batch = 500
	rows := make([]row, 0, batch)
	broken := 0

	for i := 1; i <= *numProducts; i++ {
		r := makeRow(rng, int64(i))
		if rng.Intn(100) < *brokenPct {
			// No name, SKU or article number: exactly the rows the
			// document builder refuses to index.
			r.Name, r.SKU, r.ExternalID = "", "", ""
			broken++
		}
		rows = append(rows, r)

		if len(rows) == batch {
			if err := write(w, rows); err != nil {
				fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
				os.Exit(1)
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if err := write(w, rows); err != nil {
			fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
			os.Exit(1)
		}
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("generated %d products (%d without identifying fields) to %s\n",
		*numProducts, broken, *output)
}

func makeRow(rng *rand.Rand, id int64) row {
	ptype := productTypes[rng.Intn(len(productTypes))]
	material := materials[rng.Intn(len(materials))]
	size := sizes[rng.Intn(len(sizes))]
	series := rng.Intn(len(seriesNames))

	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).
		Add(time.Duration(rng.Intn(4*365*24)) * time.Hour)
	updated := created.Add(time.Duration(rng.Intn(365*24)) * time.Hour)

	return row{
		ProductID:   id,
		ExternalID:  fmt.Sprintf("ART-%06d", id),
		SKU:         fmt.Sprintf("%s-%s-%04d", initials(ptype), strings.ReplaceAll(size, "/", ""), id%10000),
		Name:        fmt.Sprintf("%s %s %s", ptype, size, material),
		Description: fmt.Sprintf("%s %s in %s, series %s.", ptype, size, strings.ToLower(material), seriesNames[series]),
		BrandID:     int64(rng.Intn(len(brands)) + 1),
		SeriesID:    int64(series + 1),
		Unit:        units[rng.Intn(len(units))],
		Dimensions:  fmt.Sprintf("%dx%dx%d mm", 20+rng.Intn(300), 20+rng.Intn(200), 10+rng.Intn(150)),
		MinSale:     []int{1, 1, 1, 2, 5, 10}[rng.Intn(6)],
		Weight:      float64(rng.Intn(20000)) / 1000,
		CreatedAt:   created.Format("2006-01-02 15:04:05"),
		UpdatedAt:   updated.Format("2006-01-02 15:04:05"),
	}
}

// initials turns "Gate Valve" into "GV" for SKU prefixes.
func initials(s string) string {
	var b strings.Builder
	for _, word := range strings.Fields(s) {
		b.WriteByte(word[0])
	}
	return strings.ToUpper(b.String())
}

func writeSchema(w *bufio.Writer) {
	fmt.Fprint(w, `-- Synthetic catalog seed generated by scripts/generate-catalog.go.
CREATE TABLE IF NOT EXISTS brands (
	id BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS series (
	id BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS products (
	product_id BIGINT PRIMARY KEY,
	external_id VARCHAR(64),
	sku VARCHAR(64),
	name VARCHAR(512),
	description TEXT,
	brand_id BIGINT,
	series_id BIGINT,
	unit VARCHAR(32),
	dimensions VARCHAR(255),
	min_sale INT,
	weight DECIMAL(10,3),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

`)
}

func writeLookups(w *bufio.Writer) {
	fmt.Fprintln(w, "INSERT INTO brands (id, name) VALUES")
	for i, name := range brands {
		sep := ","
		if i == len(brands)-1 {
			sep = ";"
		}
		fmt.Fprintf(w, "\t(%d, '%s')%s\n", i+1, sqlEscape(name), sep)
	}
	fmt.Fprintln(w, "INSERT INTO series (id, name) VALUES")
	for i, name := range seriesNames {
		sep := ","
		if i == len(seriesNames)-1 {
			sep = ";"
		}
		fmt.Fprintf(w, "\t(%d, '%s')%s\n", i+1, sqlEscape(name), sep)
	}
	fmt.Fprintln(w)
}

func writeSQLBatch(w *bufio.Writer, rows []row) error {
	if _, err := fmt.Fprintln(w, "INSERT INTO products (product_id, external_id, sku, name, description, brand_id, series_id, unit, dimensions, min_sale, weight, created_at, updated_at) VALUES"); err != nil {
		return err
	}
	for i, r := range rows {
		sep := ","
		if i == len(rows)-1 {
			sep = ";"
		}
		if _, err := fmt.Fprintf(w, "\t(%d, %s, %s, %s, %s, %d, %d, '%s', '%s', %d, %.3f, '%s', '%s')%s\n",
			r.ProductID,
			sqlString(r.ExternalID), sqlString(r.SKU), sqlString(r.Name), sqlString(r.Description),
			r.BrandID, r.SeriesID, r.Unit, r.Dimensions, r.MinSale, r.Weight,
			r.CreatedAt, r.UpdatedAt, sep); err != nil {
			return err
		}
	}
	return nil
}

func writeNDJSON(w *bufio.Writer, rows []row) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// sqlString renders a nullable text column: empty means NULL so the
// seed exercises the store's COALESCE scanning.
func sqlString(s string) string {
	if s == "" {
		return "NULL"
	}
	return "'" + sqlEscape(s) + "'"
}

func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
