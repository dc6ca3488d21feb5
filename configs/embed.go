// Package configs provides the embedded index schema and configuration
// template for searchd.
//
// Both artifacts are embedded at build time with //go:embed so every
// distribution carries them: source builds, binary releases and
// container images. The schema can be overridden per deployment with
// indexer.schema_path or the --schema flag; the config template is only
// a starting point written by `searchd config init`.
package configs

import _ "embed"

// ProductSchema is the default index schema: analyzers, mappings and
// index settings for the product catalog. Applied by `index run` unless
// a schema file is configured.
//
//go:embed schema/products.json
var ProductSchema []byte

// ConfigTemplate is the annotated configuration template written by
// `searchd config init` to ~/.config/searchd/config.yaml.
//
//go:embed config.example.yaml
var ConfigTemplate string
