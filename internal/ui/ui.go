// Package ui provides terminal progress and status display for the
// indexer CLI.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a pipeline stage as shown to the operator.
type Stage int

const (
	// StagePreflight validates schema and dependencies.
	StagePreflight Stage = iota
	// StageConnect opens the backend and catalog connections.
	StageConnect
	// StageAnalyze inspects existing indices and counts source rows.
	StageAnalyze
	// StageCreate creates the new physical index.
	StageCreate
	// StagePopulate streams catalog batches into the index.
	StagePopulate
	// StageValidate verifies doc counts and probes the index.
	StageValidate
	// StageSwap points the alias at the new index.
	StageSwap
	// StageRetention deletes indices beyond the retention window.
	StageRetention
	// StageComplete indicates the run finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StagePreflight:
		return "Preflight"
	case StageConnect:
		return "Connect"
	case StageAnalyze:
		return "Analyze"
	case StageCreate:
		return "Create"
	case StagePopulate:
		return "Populate"
	case StageValidate:
		return "Validate"
	case StageSwap:
		return "Swap"
	case StageRetention:
		return "Retention"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output. The tags
// match the pipeline state names, so plain logs read like the state
// machine.
func (s Stage) Icon() string {
	switch s {
	case StagePreflight:
		return "PREFLIGHT"
	case StageConnect:
		return "CONNECT"
	case StageAnalyze:
		return "ANALYZE"
	case StageCreate:
		return "CREATE"
	case StagePopulate:
		return "POPULATE"
	case StageValidate:
		return "VALIDATE"
	case StageSwap:
		return "SWAP"
	case StageRetention:
		return "RETENT"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Detail  string
	Message string
}

// ErrorEvent represents an error during processing.
type ErrorEvent struct {
	Ref    string
	Err    error
	IsWarn bool
}

// StageTimings tracks duration for each pipeline stage.
type StageTimings struct {
	Preflight time.Duration
	Connect   time.Duration
	Analyze   time.Duration
	Create    time.Duration
	Populate  time.Duration
	Validate  time.Duration
	Swap      time.Duration
	Retention time.Duration
}

// CompletionStats contains final run statistics.
type CompletionStats struct {
	IndexName  string
	Processed  int
	Skipped    int
	ItemErrors int
	Duration   time.Duration
	Errors     int
	Warnings   int
	Stages     StageTimings
	DryRun     bool
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output       io.Writer
	ForcePlain   bool
	NoColor      bool
	SpinnerStyle string
	Target       string // cluster or alias shown in the header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithSpinnerStyle sets the spinner style.
func WithSpinnerStyle(style string) ConfigOption {
	return func(c *Config) {
		c.SpinnerStyle = style
	}
}

// WithTarget sets the cluster or alias name shown in the header.
func WithTarget(target string) ConfigOption {
	return func(c *Config) {
		c.Target = target
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output:       output,
		ForcePlain:   false,
		NoColor:      false,
		SpinnerStyle: "dots",
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// NewRenderer creates an appropriate renderer based on config and
// environment. It returns a TUI renderer for interactive terminals,
// and a plain text renderer for CI environments, pipes, or when
// --no-tui is specified.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}

	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}

	if DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}

	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
