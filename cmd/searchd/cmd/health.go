package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quickparts/searchd/internal/config"
	"github.com/quickparts/searchd/internal/preflight"
	"github.com/quickparts/searchd/internal/search"
	"github.com/quickparts/searchd/internal/store"
)

func newHealthCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the service dependencies",
		Long: `Run one-shot diagnostics against everything searchd depends on.

Checks:
  - Index schema (embedded or configured file)
  - Data directory (lock file, run journal)
  - Elasticsearch connectivity and cluster health
  - Analysis plugins (non-critical)
  - MySQL catalog database

Use --verbose for details and --json for machine-readable output.`,
		Example: `  # Run diagnostics
  searchd health

  # Verbose output with details
  searchd health --verbose

  # JSON output for scripting
  searchd health --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runHealth(cmd *cobra.Command, verbose, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw, _, err := schemaBytes(cfg, "")
	if err != nil {
		return err
	}

	backend, err := search.NewESBackend(search.BackendConfig{
		Addresses:  cfg.Search.Addresses,
		Username:   cfg.Search.Username,
		Password:   cfg.Search.Password,
		MaxRetries: cfg.Search.MaxRetries,
	}, slog.Default())
	if err != nil {
		return err
	}

	// The store pings at construction. When the database is down the
	// check still has to report the real cause, so the connect error
	// itself becomes the Pinger.
	var source preflight.Pinger
	st, err := store.NewMySQLStore(ctx, store.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Name,
		Params:          cfg.Database.Params,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: config.DurationOr(cfg.Database.ConnMaxLifetime, 0),
	}, slog.Default())
	if err != nil {
		source = pingErr{err: err}
	} else {
		defer st.Close()
		source = st
	}

	checker := preflight.New(
		preflight.WithBackend(backend),
		preflight.WithSource(source),
		preflight.WithSchema(raw),
		preflight.WithDataDir(filepath.Dir(cfg.Indexer.JournalPath)),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	results := checker.RunAll(ctx)

	if jsonOutput {
		return outputHealthJSON(cmd, cfg, checker, results)
	}

	checker.PrintResults(results)

	cmd.Printf("\nGate schedule: probe timeout %s, retry %s + %s per failure, capped at %s\n",
		cfg.Health.ProbeTimeout, cfg.Health.BaseInterval, cfg.Health.Step, cfg.Health.MaxInterval)

	if checker.HasCriticalFailures(results) {
		return &healthError{message: "dependency check failed"}
	}

	return nil
}

// healthError is a custom error for health command failures.
type healthError struct {
	message string
}

func (e *healthError) Error() string {
	return e.message
}

// pingErr is a Pinger frozen on a connect error.
type pingErr struct {
	err error
}

func (p pingErr) Ping(_ context.Context) error {
	return p.err
}

// JSONOutput is the structure for JSON output.
type JSONOutput struct {
	Status   string            `json:"status"`
	Checks   []JSONCheckResult `json:"checks"`
	Gate     JSONGateSchedule  `json:"gate"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// JSONCheckResult is a single check result for JSON output.
type JSONCheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

// JSONGateSchedule is the health gate probe schedule for JSON output.
type JSONGateSchedule struct {
	ProbeTimeout string `json:"probe_timeout"`
	BaseInterval string `json:"base_interval"`
	Step         string `json:"step"`
	MaxInterval  string `json:"max_interval"`
}

func outputHealthJSON(cmd *cobra.Command, cfg *config.Config, checker *preflight.Checker, results []preflight.CheckResult) error {
	output := JSONOutput{
		Status: checker.SummaryStatus(results),
		Checks: make([]JSONCheckResult, len(results)),
		Gate: JSONGateSchedule{
			ProbeTimeout: cfg.Health.ProbeTimeout,
			BaseInterval: cfg.Health.BaseInterval,
			Step:         cfg.Health.Step,
			MaxInterval:  cfg.Health.MaxInterval,
		},
	}

	for i, r := range results {
		output.Checks[i] = JSONCheckResult{
			Name:     r.Name,
			Status:   statusToString(r.Status),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}

		if r.IsCritical() {
			output.Errors = append(output.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			output.Warnings = append(output.Warnings, r.Name+": "+r.Message)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		return err
	}

	if checker.HasCriticalFailures(results) {
		return &healthError{message: "dependency check failed"}
	}
	return nil
}

func statusToString(s preflight.CheckStatus) string {
	switch s {
	case preflight.StatusPass:
		return "pass"
	case preflight.StatusWarn:
		return "warn"
	case preflight.StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}
