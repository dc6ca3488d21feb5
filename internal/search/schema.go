package search

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/quickparts/searchd/internal/errors"
)

// Analyzers every product schema must define.
var requiredAnalyzers = []string{
	"text_analyzer",
	"code_analyzer",
	"search_analyzer",
	"autocomplete_analyzer",
}

// Top-level mapping fields every product schema must define.
var requiredFields = []string{
	"product_id",
	"external_id",
	"name",
	"brand_name",
	"suggest",
}

// schemaField is the slice of a mapping property the validator cares
// about.
type schemaField struct {
	Type   string                     `json:"type"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// schemaDoc is the slice of an index schema the validator cares about.
type schemaDoc struct {
	Settings struct {
		Analysis struct {
			Analyzer map[string]json.RawMessage `json:"analyzer"`
		} `json:"analysis"`
	} `json:"settings"`
	Mappings struct {
		Properties map[string]schemaField `json:"properties"`
	} `json:"mappings"`
}

// LoadSchema parses raw schema bytes and verifies the analyzers,
// fields and sub-fields the query layer depends on.
func LoadSchema(raw []byte) (json.RawMessage, error) {
	var doc schemaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.New(errors.ErrCodeSchemaInvalid, "schema is not valid JSON", err)
	}

	var problems []string

	for _, name := range requiredAnalyzers {
		if _, ok := doc.Settings.Analysis.Analyzer[name]; !ok {
			problems = append(problems, "missing analyzer "+name)
		}
	}

	props := doc.Mappings.Properties
	for _, name := range requiredFields {
		if _, ok := props[name]; !ok {
			problems = append(problems, "missing field "+name)
		}
	}

	checkSub := func(field string, subs ...string) {
		prop, ok := props[field]
		if !ok {
			return
		}
		for _, sub := range subs {
			if _, ok := prop.Fields[sub]; !ok {
				problems = append(problems, fmt.Sprintf("field %s missing sub-field %s", field, sub))
			}
		}
	}
	checkSub("name", "keyword", "ngram", "autocomplete")
	checkSub("brand_name", "autocomplete")
	checkSub("external_id", "keyword")
	checkSub("sku", "keyword")

	if suggest, ok := props["suggest"]; ok && suggest.Type != "completion" {
		problems = append(problems, "field suggest must be a completion field, got "+suggest.Type)
	}

	if len(problems) > 0 {
		return nil, errors.New(
			errors.ErrCodeSchemaInvalid,
			"schema validation failed: "+strings.Join(problems, "; "),
			nil,
		).WithSuggestion("compare the schema against configs/schema/products.json")
	}

	return json.RawMessage(raw), nil
}

// LoadSchemaFile reads and validates a schema from disk.
func LoadSchemaFile(path string) (json.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeSchemaNotFound, "schema file not found: "+path, err).
				WithSuggestion("pass --schema or rely on the embedded default")
		}
		return nil, errors.New(errors.ErrCodeSchemaNotFound, "schema file unreadable: "+path, err)
	}
	return LoadSchema(raw)
}
