package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete searchd configuration.
// Values are applied in order of increasing precedence: hardcoded
// defaults, user config, project config, environment variables.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Indexer    IndexerConfig    `yaml:"indexer" json:"indexer"`
	Query      QueryConfig      `yaml:"query" json:"query"`
	Health     HealthConfig     `yaml:"health" json:"health"`
	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr            string `yaml:"addr" json:"addr"`
	ReadTimeout     string `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     string `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// SearchConfig configures the Elasticsearch backend.
type SearchConfig struct {
	// Addresses lists the cluster nodes to connect to.
	Addresses []string `yaml:"addresses" json:"addresses"`
	Username  string   `yaml:"username" json:"username"`
	Password  string   `yaml:"password" json:"password"`

	// Alias is the stable read alias the API queries. Indexer runs swap
	// it atomically to the freshly built index.
	Alias string `yaml:"alias" json:"alias"`

	// IndexPrefix is the prefix for timestamped physical index names.
	IndexPrefix string `yaml:"index_prefix" json:"index_prefix"`

	// SearchTimeout bounds a single search round-trip (client side).
	SearchTimeout string `yaml:"search_timeout" json:"search_timeout"`

	// RequestBodyTimeout is embedded in the search request body and
	// enforced by the cluster itself.
	RequestBodyTimeout string `yaml:"request_body_timeout" json:"request_body_timeout"`

	BulkTimeout         string `yaml:"bulk_timeout" json:"bulk_timeout"`
	AutocompleteTimeout string `yaml:"autocomplete_timeout" json:"autocomplete_timeout"`

	// RescoreWindow is the number of top hits re-ranked by the rescorer.
	RescoreWindow int `yaml:"rescore_window" json:"rescore_window"`

	// QLengthCap truncates incoming query strings to this many characters.
	QLengthCap int `yaml:"q_length_cap" json:"q_length_cap"`

	// MaxRetries is passed to the client transport for retryable statuses.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// DatabaseConfig configures the MySQL catalog database.
// The relational store is both the indexer source and the degraded-mode
// fallback when the search backend is down.
type DatabaseConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Name     string `yaml:"name" json:"name"`

	// Params is appended to the DSN query string. parseTime=true is
	// required for DATETIME scanning.
	Params string `yaml:"params" json:"params"`

	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// IndexerConfig configures the full-rebuild index pipeline.
type IndexerConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxOldIndices is how many superseded physical indices to keep
	// after a swap, newest first. The live index is always kept.
	MaxOldIndices int `yaml:"max_old_indices" json:"max_old_indices"`

	// DocCountTolerance is the allowed absolute difference between the
	// source row count and the indexed document count during validation.
	DocCountTolerance int `yaml:"doc_count_tolerance" json:"doc_count_tolerance"`

	// GCEvery forces a garbage-collection cycle every N batches.
	GCEvery int `yaml:"gc_every" json:"gc_every"`

	// PauseEvery sleeps for Pause after every N batches to give the
	// cluster room to merge segments.
	PauseEvery int    `yaml:"pause_every" json:"pause_every"`
	Pause      string `yaml:"pause" json:"pause"`

	HealthPollAttempts int    `yaml:"health_poll_attempts" json:"health_poll_attempts"`
	HealthPollInterval string `yaml:"health_poll_interval" json:"health_poll_interval"`
	HealthPollTimeout  string `yaml:"health_poll_timeout" json:"health_poll_timeout"`

	// SchemaPath points at the index schema JSON. Empty means the
	// embedded default schema.
	SchemaPath string `yaml:"schema_path" json:"schema_path"`

	// LockPath is the advisory file lock that excludes concurrent runs
	// on the same host.
	LockPath string `yaml:"lock_path" json:"lock_path"`

	// JournalPath is the SQLite run journal consulted by `index history`.
	JournalPath string `yaml:"journal_path" json:"journal_path"`
}

// QueryConfig configures request-level limits for the HTTP API.
type QueryConfig struct {
	DefaultLimit        int `yaml:"default_limit" json:"default_limit"`
	MaxLimit            int `yaml:"max_limit" json:"max_limit"`
	AutocompleteDefault int `yaml:"autocomplete_default" json:"autocomplete_default"`
	AutocompleteMax     int `yaml:"autocomplete_max" json:"autocomplete_max"`

	// MaxProductIDs caps the id list accepted by the availability endpoint.
	MaxProductIDs int `yaml:"max_product_ids" json:"max_product_ids"`
}

// HealthConfig configures the background cluster health gate.
type HealthConfig struct {
	ProbeTimeout string `yaml:"probe_timeout" json:"probe_timeout"`

	// BaseInterval is the probe interval while the backend is up.
	// Each consecutive failure adds Step, capped at MaxInterval.
	BaseInterval string `yaml:"base_interval" json:"base_interval"`
	Step         string `yaml:"step" json:"step"`
	MaxInterval  string `yaml:"max_interval" json:"max_interval"`
}

// EnrichmentConfig configures the optional live-data sidecar that
// decorates search hits with current price and stock.
type EnrichmentConfig struct {
	// Endpoint is the sidecar base URL. Empty disables enrichment.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Timeout  string `yaml:"timeout" json:"timeout"`

	CacheSize int    `yaml:"cache_size" json:"cache_size"`
	CacheTTL  string `yaml:"cache_ttl" json:"cache_ttl"`
}

// TelemetryConfig configures local query statistics. Collection is
// always on in serve; nothing leaves the host.
type TelemetryConfig struct {
	// Path is the SQLite file daily aggregates are flushed to, read
	// back by `searchd metrics`. Empty keeps statistics in memory only.
	Path string `yaml:"path" json:"path"`

	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`

	// TopTerms and ZeroResults size the in-memory tracking windows.
	TopTerms    int `yaml:"top_terms" json:"top_terms"`
	ZeroResults int `yaml:"zero_results" json:"zero_results"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`

	// File is the JSONL log file path. Empty disables file logging.
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`

	// Stderr mirrors log records to stderr in addition to the file.
	Stderr bool `yaml:"stderr" json:"stderr"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			IdleTimeout:     "120s",
			ShutdownTimeout: "10s",
		},
		Search: SearchConfig{
			Addresses:           []string{"http://localhost:9200"},
			Alias:               "products_current",
			IndexPrefix:         "products",
			SearchTimeout:       "20s",
			RequestBodyTimeout:  "15s",
			BulkTimeout:         "60s",
			AutocompleteTimeout: "3s",
			RescoreWindow:       50,
			QLengthCap:          200,
			MaxRetries:          3,
		},
		Database: DatabaseConfig{
			Host:            "127.0.0.1",
			Port:            3306,
			User:            "catalog",
			Name:            "catalog",
			Params:          "parseTime=true",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
		},
		Indexer: IndexerConfig{
			BatchSize:          1000,
			MaxOldIndices:      2,
			DocCountTolerance:  10,
			GCEvery:            10,
			PauseEvery:         50,
			Pause:              "1s",
			HealthPollAttempts: 15,
			HealthPollInterval: "2s",
			HealthPollTimeout:  "10s",
			SchemaPath:         "", // embedded schema
			LockPath:           filepath.Join(dataDir, "index.lock"),
			JournalPath:        filepath.Join(dataDir, "journal.db"),
		},
		Query: QueryConfig{
			DefaultLimit:        20,
			MaxLimit:            100,
			AutocompleteDefault: 10,
			AutocompleteMax:     20,
			MaxProductIDs:       1000,
		},
		Health: HealthConfig{
			ProbeTimeout: "5s",
			BaseInterval: "30s",
			Step:         "10s",
			MaxInterval:  "300s",
		},
		Enrichment: EnrichmentConfig{
			Endpoint:  "", // disabled unless pointed at a sidecar
			Timeout:   "2s",
			CacheSize: 1024,
			CacheTTL:  "30s",
		},
		Telemetry: TelemetryConfig{
			Path:          "", // in-memory only unless pointed at a file
			FlushInterval: "60s",
			TopTerms:      100,
			ZeroResults:   100,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(dataDir, "logs", "searchd.jsonl"),
			MaxSizeMB: 10,
			Stderr:    true,
		},
	}
}

// defaultDataDir returns the default directory for searchd state
// (lock file, run journal, logs).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".searchd")
	}
	return filepath.Join(home, ".searchd")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/searchd/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/searchd/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "searchd", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "searchd", "config.yaml")
	}
	return filepath.Join(home, ".config", "searchd", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // no user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/searchd/config.yaml)
//  3. Project config (searchd.yaml in dir)
//  4. Environment variables (SEARCHD_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads configuration from an explicit file path, for the
// --config flag. The user config layer is skipped; environment
// variables still take precedence.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if !fileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromDir attempts to load configuration from searchd.yaml or searchd.yml.
func (c *Config) loadFromDir(dir string) error {
	yamlPath := filepath.Join(dir, "searchd.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, "searchd.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine, use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadTimeout != "" {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != "" {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
	if other.Server.IdleTimeout != "" {
		c.Server.IdleTimeout = other.Server.IdleTimeout
	}
	if other.Server.ShutdownTimeout != "" {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Search backend
	if len(other.Search.Addresses) > 0 {
		c.Search.Addresses = other.Search.Addresses
	}
	if other.Search.Username != "" {
		c.Search.Username = other.Search.Username
	}
	if other.Search.Password != "" {
		c.Search.Password = other.Search.Password
	}
	if other.Search.Alias != "" {
		c.Search.Alias = other.Search.Alias
	}
	if other.Search.IndexPrefix != "" {
		c.Search.IndexPrefix = other.Search.IndexPrefix
	}
	if other.Search.SearchTimeout != "" {
		c.Search.SearchTimeout = other.Search.SearchTimeout
	}
	if other.Search.RequestBodyTimeout != "" {
		c.Search.RequestBodyTimeout = other.Search.RequestBodyTimeout
	}
	if other.Search.BulkTimeout != "" {
		c.Search.BulkTimeout = other.Search.BulkTimeout
	}
	if other.Search.AutocompleteTimeout != "" {
		c.Search.AutocompleteTimeout = other.Search.AutocompleteTimeout
	}
	if other.Search.RescoreWindow != 0 {
		c.Search.RescoreWindow = other.Search.RescoreWindow
	}
	if other.Search.QLengthCap != 0 {
		c.Search.QLengthCap = other.Search.QLengthCap
	}
	if other.Search.MaxRetries != 0 {
		c.Search.MaxRetries = other.Search.MaxRetries
	}

	// Database
	if other.Database.Host != "" {
		c.Database.Host = other.Database.Host
	}
	if other.Database.Port != 0 {
		c.Database.Port = other.Database.Port
	}
	if other.Database.User != "" {
		c.Database.User = other.Database.User
	}
	if other.Database.Password != "" {
		c.Database.Password = other.Database.Password
	}
	if other.Database.Name != "" {
		c.Database.Name = other.Database.Name
	}
	if other.Database.Params != "" {
		c.Database.Params = other.Database.Params
	}
	if other.Database.MaxOpenConns != 0 {
		c.Database.MaxOpenConns = other.Database.MaxOpenConns
	}
	if other.Database.MaxIdleConns != 0 {
		c.Database.MaxIdleConns = other.Database.MaxIdleConns
	}
	if other.Database.ConnMaxLifetime != "" {
		c.Database.ConnMaxLifetime = other.Database.ConnMaxLifetime
	}

	// Indexer
	if other.Indexer.BatchSize != 0 {
		c.Indexer.BatchSize = other.Indexer.BatchSize
	}
	if other.Indexer.MaxOldIndices != 0 {
		c.Indexer.MaxOldIndices = other.Indexer.MaxOldIndices
	}
	if other.Indexer.DocCountTolerance != 0 {
		c.Indexer.DocCountTolerance = other.Indexer.DocCountTolerance
	}
	if other.Indexer.GCEvery != 0 {
		c.Indexer.GCEvery = other.Indexer.GCEvery
	}
	if other.Indexer.PauseEvery != 0 {
		c.Indexer.PauseEvery = other.Indexer.PauseEvery
	}
	if other.Indexer.Pause != "" {
		c.Indexer.Pause = other.Indexer.Pause
	}
	if other.Indexer.HealthPollAttempts != 0 {
		c.Indexer.HealthPollAttempts = other.Indexer.HealthPollAttempts
	}
	if other.Indexer.HealthPollInterval != "" {
		c.Indexer.HealthPollInterval = other.Indexer.HealthPollInterval
	}
	if other.Indexer.HealthPollTimeout != "" {
		c.Indexer.HealthPollTimeout = other.Indexer.HealthPollTimeout
	}
	if other.Indexer.SchemaPath != "" {
		c.Indexer.SchemaPath = other.Indexer.SchemaPath
	}
	if other.Indexer.LockPath != "" {
		c.Indexer.LockPath = other.Indexer.LockPath
	}
	if other.Indexer.JournalPath != "" {
		c.Indexer.JournalPath = other.Indexer.JournalPath
	}

	// Query limits
	if other.Query.DefaultLimit != 0 {
		c.Query.DefaultLimit = other.Query.DefaultLimit
	}
	if other.Query.MaxLimit != 0 {
		c.Query.MaxLimit = other.Query.MaxLimit
	}
	if other.Query.AutocompleteDefault != 0 {
		c.Query.AutocompleteDefault = other.Query.AutocompleteDefault
	}
	if other.Query.AutocompleteMax != 0 {
		c.Query.AutocompleteMax = other.Query.AutocompleteMax
	}
	if other.Query.MaxProductIDs != 0 {
		c.Query.MaxProductIDs = other.Query.MaxProductIDs
	}

	// Health gate
	if other.Health.ProbeTimeout != "" {
		c.Health.ProbeTimeout = other.Health.ProbeTimeout
	}
	if other.Health.BaseInterval != "" {
		c.Health.BaseInterval = other.Health.BaseInterval
	}
	if other.Health.Step != "" {
		c.Health.Step = other.Health.Step
	}
	if other.Health.MaxInterval != "" {
		c.Health.MaxInterval = other.Health.MaxInterval
	}

	// Enrichment
	if other.Enrichment.Endpoint != "" {
		c.Enrichment.Endpoint = other.Enrichment.Endpoint
	}
	if other.Enrichment.Timeout != "" {
		c.Enrichment.Timeout = other.Enrichment.Timeout
	}
	if other.Enrichment.CacheSize != 0 {
		c.Enrichment.CacheSize = other.Enrichment.CacheSize
	}
	if other.Enrichment.CacheTTL != "" {
		c.Enrichment.CacheTTL = other.Enrichment.CacheTTL
	}

	// Telemetry
	if other.Telemetry.Path != "" {
		c.Telemetry.Path = other.Telemetry.Path
	}
	if other.Telemetry.FlushInterval != "" {
		c.Telemetry.FlushInterval = other.Telemetry.FlushInterval
	}
	if other.Telemetry.TopTerms != 0 {
		c.Telemetry.TopTerms = other.Telemetry.TopTerms
	}
	if other.Telemetry.ZeroResults != 0 {
		c.Telemetry.ZeroResults = other.Telemetry.ZeroResults
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	// Stderr is boolean and cannot be distinguished from "not set".
	// Only honor it when the same file also configures level or file.
	if other.Logging.Level != "" || other.Logging.File != "" {
		c.Logging.Stderr = other.Logging.Stderr
	}
}

// applyEnvOverrides applies SEARCHD_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SEARCHD_ADDR"); v != "" {
		c.Server.Addr = v
	}

	if v := os.Getenv("SEARCHD_ES_ADDRESSES"); v != "" {
		parts := strings.Split(v, ",")
		addrs := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				addrs = append(addrs, p)
			}
		}
		if len(addrs) > 0 {
			c.Search.Addresses = addrs
		}
	}
	if v := os.Getenv("SEARCHD_ES_USERNAME"); v != "" {
		c.Search.Username = v
	}
	if v := os.Getenv("SEARCHD_ES_PASSWORD"); v != "" {
		c.Search.Password = v
	}

	if v := os.Getenv("SEARCHD_MYSQL_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("SEARCHD_MYSQL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			c.Database.Port = p
		}
	}
	if v := os.Getenv("SEARCHD_MYSQL_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("SEARCHD_MYSQL_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("SEARCHD_MYSQL_DATABASE"); v != "" {
		c.Database.Name = v
	}

	if v := os.Getenv("SEARCHD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SEARCHD_ENRICHMENT_URL"); v != "" {
		c.Enrichment.Endpoint = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}

	if len(c.Search.Addresses) == 0 {
		return fmt.Errorf("search.addresses must list at least one node")
	}
	for _, addr := range c.Search.Addresses {
		u, err := url.Parse(addr)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("search.addresses entry %q is not an http(s) URL", addr)
		}
	}
	if c.Search.Alias == "" {
		return fmt.Errorf("search.alias must not be empty")
	}
	if c.Search.IndexPrefix == "" {
		return fmt.Errorf("search.index_prefix must not be empty")
	}
	if c.Search.RescoreWindow < 0 {
		return fmt.Errorf("search.rescore_window must be non-negative, got %d", c.Search.RescoreWindow)
	}
	if c.Search.QLengthCap <= 0 {
		return fmt.Errorf("search.q_length_cap must be positive, got %d", c.Search.QLengthCap)
	}
	if c.Search.MaxRetries < 0 {
		return fmt.Errorf("search.max_retries must be non-negative, got %d", c.Search.MaxRetries)
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive, got %d", c.Database.MaxOpenConns)
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns must be between 0 and max_open_conns, got %d", c.Database.MaxIdleConns)
	}

	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("indexer.batch_size must be positive, got %d", c.Indexer.BatchSize)
	}
	if c.Indexer.MaxOldIndices < 0 {
		return fmt.Errorf("indexer.max_old_indices must be non-negative, got %d", c.Indexer.MaxOldIndices)
	}
	if c.Indexer.DocCountTolerance < 0 {
		return fmt.Errorf("indexer.doc_count_tolerance must be non-negative, got %d", c.Indexer.DocCountTolerance)
	}
	if c.Indexer.GCEvery <= 0 {
		return fmt.Errorf("indexer.gc_every must be positive, got %d", c.Indexer.GCEvery)
	}
	if c.Indexer.PauseEvery <= 0 {
		return fmt.Errorf("indexer.pause_every must be positive, got %d", c.Indexer.PauseEvery)
	}
	if c.Indexer.HealthPollAttempts <= 0 {
		return fmt.Errorf("indexer.health_poll_attempts must be positive, got %d", c.Indexer.HealthPollAttempts)
	}

	if c.Query.MaxLimit <= 0 {
		return fmt.Errorf("query.max_limit must be positive, got %d", c.Query.MaxLimit)
	}
	if c.Query.DefaultLimit <= 0 || c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit must be between 1 and max_limit, got %d", c.Query.DefaultLimit)
	}
	if c.Query.AutocompleteMax <= 0 {
		return fmt.Errorf("query.autocomplete_max must be positive, got %d", c.Query.AutocompleteMax)
	}
	if c.Query.AutocompleteDefault <= 0 || c.Query.AutocompleteDefault > c.Query.AutocompleteMax {
		return fmt.Errorf("query.autocomplete_default must be between 1 and autocomplete_max, got %d", c.Query.AutocompleteDefault)
	}
	if c.Query.MaxProductIDs <= 0 {
		return fmt.Errorf("query.max_product_ids must be positive, got %d", c.Query.MaxProductIDs)
	}

	if c.Enrichment.Endpoint != "" {
		u, err := url.Parse(c.Enrichment.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("enrichment.endpoint %q is not an http(s) URL", c.Enrichment.Endpoint)
		}
	}
	if c.Enrichment.CacheSize <= 0 {
		return fmt.Errorf("enrichment.cache_size must be positive, got %d", c.Enrichment.CacheSize)
	}

	if c.Telemetry.TopTerms <= 0 {
		return fmt.Errorf("telemetry.top_terms must be positive, got %d", c.Telemetry.TopTerms)
	}
	if c.Telemetry.ZeroResults <= 0 {
		return fmt.Errorf("telemetry.zero_results must be positive, got %d", c.Telemetry.ZeroResults)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return c.validateDurations()
}

// validateDurations checks every duration-typed string in the config.
func (c *Config) validateDurations() error {
	durations := map[string]string{
		"server.read_timeout":          c.Server.ReadTimeout,
		"server.write_timeout":         c.Server.WriteTimeout,
		"server.idle_timeout":          c.Server.IdleTimeout,
		"server.shutdown_timeout":      c.Server.ShutdownTimeout,
		"search.search_timeout":        c.Search.SearchTimeout,
		"search.request_body_timeout":  c.Search.RequestBodyTimeout,
		"search.bulk_timeout":          c.Search.BulkTimeout,
		"search.autocomplete_timeout":  c.Search.AutocompleteTimeout,
		"database.conn_max_lifetime":   c.Database.ConnMaxLifetime,
		"indexer.pause":                c.Indexer.Pause,
		"indexer.health_poll_interval": c.Indexer.HealthPollInterval,
		"indexer.health_poll_timeout":  c.Indexer.HealthPollTimeout,
		"health.probe_timeout":         c.Health.ProbeTimeout,
		"health.base_interval":         c.Health.BaseInterval,
		"health.step":                  c.Health.Step,
		"health.max_interval":          c.Health.MaxInterval,
		"enrichment.timeout":           c.Enrichment.Timeout,
		"enrichment.cache_ttl":         c.Enrichment.CacheTTL,
		"telemetry.flush_interval":     c.Telemetry.FlushInterval,
	}

	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", key, value)
		}
	}
	return nil
}

// DurationOr parses s as a duration, returning fallback when s is empty
// or unparseable. Configs that passed Validate always parse.
func DurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Redacted returns a copy with credentials masked, for `config show`
// and debug output.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Search.Password != "" {
		out.Search.Password = "********"
	}
	if out.Database.Password != "" {
		out.Database.Password = "********"
	}
	return &out
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
