package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quickparts/searchd/configs"
	"github.com/quickparts/searchd/internal/config"
	"github.com/quickparts/searchd/internal/index"
	"github.com/quickparts/searchd/internal/journal"
	"github.com/quickparts/searchd/internal/logging"
	"github.com/quickparts/searchd/internal/output"
	"github.com/quickparts/searchd/internal/search"
	"github.com/quickparts/searchd/internal/store"
	"github.com/quickparts/searchd/internal/ui"
)

// newIndexCmd creates the index command group.
func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the product search index",
		Long: `Manage the product search index.

'index run' rebuilds the index from the catalog database and swaps the
read alias onto the result. 'index history' shows recent runs and
'index indices' shows the physical indices behind the alias.`,
	}

	cmd.AddCommand(newIndexRunCmd())
	cmd.AddCommand(newIndexHistoryCmd())
	cmd.AddCommand(newIndexIndicesCmd())

	return cmd
}

// newIndexRunCmd creates the index run command.
func newIndexRunCmd() *cobra.Command {
	var (
		batchSize  int
		dryRun     bool
		yes        bool
		noTUI      bool
		schemaPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Rebuild the search index from the catalog database",
		Long: `Rebuild the search index.

The run streams every product from MySQL into a new timestamped index,
validates the document count and swaps the read alias in one atomic
step. Searches keep hitting the old index until the swap. A dry run
stops after analysis and reports what a live run would do.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if batchSize > 0 {
				cfg.Indexer.BatchSize = batchSize
			}

			// Log to file only. The progress renderer owns the terminal
			// and interleaved log lines would corrupt it.
			logCfg := logging.DefaultConfig()
			logCfg.Level = cfg.Logging.Level
			logCfg.FilePath = cfg.Logging.File
			logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
			logCfg.WriteToStderr = false
			logger, cleanup, err := logging.Setup(logCfg)
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			defer cleanup()
			slog.SetDefault(logger)

			raw, source, err := schemaBytes(cfg, schemaPath)
			if err != nil {
				return err
			}
			schema, err := search.LoadSchema(raw)
			if err != nil {
				return err
			}
			logger.Debug("schema_loaded", slog.String("source", source))

			backend, err := search.NewESBackend(search.BackendConfig{
				Addresses:   cfg.Search.Addresses,
				Username:    cfg.Search.Username,
				Password:    cfg.Search.Password,
				MaxRetries:  cfg.Search.MaxRetries,
				BulkTimeout: config.DurationOr(cfg.Search.BulkTimeout, 0),
			}, logger)
			if err != nil {
				return fmt.Errorf("failed to create search backend: %w", err)
			}

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
			}, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to catalog database: %w", err)
			}
			defer st.Close()

			lock := index.NewRunLock(cfg.Indexer.LockPath)
			if err := lock.Acquire(); err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			out := output.New(cmd.OutOrStdout())
			if !dryRun && !yes {
				ok, err := confirmAliasReplace(ctx, cmd, out, backend, cfg.Search.Alias)
				if err != nil {
					return err
				}
				if !ok {
					out.Status("", "Aborted.")
					return nil
				}
			}

			deps := index.RunnerDependencies{
				Backend: backend,
				Source:  index.StoreSource(st),
				Schema:  schema,
				Logger:  logger,
			}

			jnl, err := journal.Open(cfg.Indexer.JournalPath)
			if err != nil {
				logger.Warn("journal_unavailable",
					slog.String("path", cfg.Indexer.JournalPath),
					slog.String("error", err.Error()),
				)
			} else {
				defer jnl.Close()
				deps.Journal = jnl
			}

			uiCfg := ui.NewConfig(cmd.OutOrStdout(),
				ui.WithForcePlain(noTUI),
				ui.WithNoColor(ui.DetectNoColor()),
				ui.WithTarget(cfg.Search.Alias),
			)
			renderer := ui.NewRenderer(uiCfg)
			if err := renderer.Start(ctx); err != nil {
				return fmt.Errorf("failed to start progress display: %w", err)
			}
			defer func() { _ = renderer.Stop() }()
			deps.Renderer = renderer

			runner, err := index.NewRunner(deps)
			if err != nil {
				return err
			}

			_, err = runner.Run(ctx, index.RunnerConfig{
				Alias:             cfg.Search.Alias,
				IndexPrefix:       cfg.Search.IndexPrefix,
				BatchSize:         cfg.Indexer.BatchSize,
				DocCountTolerance: cfg.Indexer.DocCountTolerance,
				MaxOldIndices:     cfg.Indexer.MaxOldIndices,
				DryRun:            dryRun,
			})
			return err
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per bulk request (overrides config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Analyze only, do not build an index")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Plain text progress output")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "Index schema JSON file (default: embedded schema)")

	return cmd
}

// confirmAliasReplace asks before a run that will move the live alias.
// A first run against an empty cluster proceeds without a prompt.
func confirmAliasReplace(ctx context.Context, cmd *cobra.Command, out *output.Writer, backend search.Backend, alias string) (bool, error) {
	targets, err := backend.GetAlias(ctx, alias)
	if err != nil {
		// The run itself will surface connectivity problems with more
		// context than the prompt can.
		slog.Debug("alias_lookup_failed", slog.String("alias", alias), slog.String("error", err.Error()))
		return true, nil
	}
	if len(targets) == 0 {
		return true, nil
	}

	out.Warningf("Alias %s currently serves %s.", alias, targets[0])
	return out.Confirm(cmd.InOrStdin(), "Replace it once the new index passes validation?")
}

// schemaBytes resolves the index schema: the --schema flag beats the
// configured path beats the embedded default.
func schemaBytes(cfg *config.Config, flagPath string) ([]byte, string, error) {
	path := flagPath
	if path == "" {
		path = cfg.Indexer.SchemaPath
	}
	if path == "" {
		return configs.ProductSchema, "embedded", nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("schema file %s: %w", path, err)
	}
	return raw, path, nil
}

// newIndexHistoryCmd creates the index history command.
func newIndexHistoryCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent index runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			jnl, err := journal.Open(cfg.Indexer.JournalPath)
			if err != nil {
				return fmt.Errorf("failed to open run journal: %w", err)
			}
			defer jnl.Close()

			entries, err := jnl.History(cmd.Context(), limit)
			if err != nil {
				return err
			}

			rows := make([]ui.RunRow, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, ui.RunRow{
					StartedAt:  e.StartedAt,
					Duration:   e.Duration(),
					Status:     e.Status,
					IndexName:  e.IndexName,
					Processed:  e.Processed,
					Skipped:    e.Skipped,
					ItemErrors: e.ItemErrors,
					Stage:      e.Stage,
					DryRun:     e.DryRun,
					Error:      e.Error,
				})
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
			if jsonOutput {
				return renderer.RenderJSON(rows)
			}
			return renderer.RenderHistory(rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// newIndexIndicesCmd creates the index indices command.
func newIndexIndicesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "indices",
		Short: "Show the physical indices behind the read alias",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
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
				return fmt.Errorf("failed to create search backend: %w", err)
			}

			names, err := backend.ListIndices(ctx, cfg.Search.IndexPrefix+"_*")
			if err != nil {
				return err
			}
			// Timestamped names sort chronologically; show newest first.
			sort.Sort(sort.Reverse(sort.StringSlice(names)))

			targets, err := backend.GetAlias(ctx, cfg.Search.Alias)
			if err != nil {
				return err
			}
			current := ""
			if len(targets) > 0 {
				current = targets[0]
			}

			info := ui.IndicesInfo{Alias: cfg.Search.Alias, Target: current}
			for _, name := range names {
				row := ui.IndexRow{Name: name, Current: name == current}
				if stats, err := backend.Stats(ctx, name); err == nil {
					row.DocCount = stats.DocCount
				}
				info.Indices = append(info.Indices, row)
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
			if jsonOutput {
				return renderer.RenderJSON(info)
			}
			return renderer.RenderIndices(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
