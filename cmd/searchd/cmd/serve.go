package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quickparts/searchd/internal/api"
	"github.com/quickparts/searchd/internal/config"
	"github.com/quickparts/searchd/internal/health"
	"github.com/quickparts/searchd/internal/logging"
	"github.com/quickparts/searchd/internal/search"
	"github.com/quickparts/searchd/internal/service"
	"github.com/quickparts/searchd/internal/store"
	"github.com/quickparts/searchd/internal/telemetry"
	"github.com/quickparts/searchd/pkg/version"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the search HTTP API",
		Long: `Start the HTTP API serving /search, /autocomplete, /availability
and /healthz.

The server needs the MySQL catalog database at startup: it is both the
degraded-mode fallback and part of the service contract. Elasticsearch
may be down; requests fall back to MySQL until the health gate sees the
cluster recover.

Edits to the config file are picked up without a restart for the query
limits and health gate tunables. Connection settings still need a
restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logCfg := logging.DefaultConfig()
			logCfg.Level = cfg.Logging.Level
			logCfg.FilePath = cfg.Logging.File
			logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
			logCfg.WriteToStderr = cfg.Logging.Stderr
			logger, cleanup, err := logging.Setup(logCfg)
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			defer cleanup()
			slog.SetDefault(logger)

			logger.Info("serve_starting",
				slog.String("version", version.Version),
				slog.String("addr", cfg.Server.Addr),
				slog.String("alias", cfg.Search.Alias),
			)

			backend, err := search.NewESBackend(search.BackendConfig{
				Addresses:     cfg.Search.Addresses,
				Username:      cfg.Search.Username,
				Password:      cfg.Search.Password,
				MaxRetries:    cfg.Search.MaxRetries,
				SearchTimeout: config.DurationOr(cfg.Search.SearchTimeout, 0),
				BulkTimeout:   config.DurationOr(cfg.Search.BulkTimeout, 0),
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

			gate := health.NewGate(backend, logger,
				health.WithProbeTimeout(config.DurationOr(cfg.Health.ProbeTimeout, health.DefaultProbeTimeout)),
				health.WithIntervals(
					config.DurationOr(cfg.Health.BaseInterval, health.DefaultBaseInterval),
					config.DurationOr(cfg.Health.Step, health.DefaultStep),
					config.DurationOr(cfg.Health.MaxInterval, health.DefaultMaxInterval),
				),
			)

			builder := search.NewQueryBuilder(
				cfg.Search.RescoreWindow,
				config.DurationOr(cfg.Search.RequestBodyTimeout, search.DefaultBodyTimeout),
			)

			metrics, metricsCleanup := buildMetrics(cfg, logger)
			defer metricsCleanup()

			svc, err := service.NewQueryService(queryConfig(cfg), service.Dependencies{
				Backend:  backend,
				Gate:     gate,
				Fallback: st,
				Builder:  builder,
				Enricher: buildEnricher(cfg, logger),
				Metrics:  metrics,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create query service: %w", err)
			}

			srv, err := api.NewServer(api.Config{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     config.DurationOr(cfg.Server.ReadTimeout, 0),
				WriteTimeout:    config.DurationOr(cfg.Server.WriteTimeout, 0),
				IdleTimeout:     config.DurationOr(cfg.Server.IdleTimeout, 0),
				ShutdownTimeout: config.DurationOr(cfg.Server.ShutdownTimeout, 0),
			}, svc, logger)
			if err != nil {
				return fmt.Errorf("failed to create HTTP server: %w", err)
			}

			if watchPath := reloadablePath(); watchPath != "" {
				watcher, werr := config.WatchFile(watchPath, logger, func(next *config.Config) {
					svc.ApplyConfig(queryConfig(next))
					gate.Retune(
						config.DurationOr(next.Health.ProbeTimeout, 0),
						config.DurationOr(next.Health.BaseInterval, 0),
						config.DurationOr(next.Health.Step, 0),
						config.DurationOr(next.Health.MaxInterval, 0),
					)
				})
				if werr != nil {
					logger.Warn("config_watch_unavailable",
						slog.String("path", watchPath),
						slog.String("error", werr.Error()),
					)
				} else {
					logger.Info("config_watch_started", slog.String("path", watchPath))
					defer watcher.Stop()
				}
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}

// queryConfig maps the file config onto the query service limits.
func queryConfig(cfg *config.Config) service.Config {
	return service.Config{
		Alias:               cfg.Search.Alias,
		QLengthCap:          cfg.Search.QLengthCap,
		DefaultLimit:        cfg.Query.DefaultLimit,
		MaxLimit:            cfg.Query.MaxLimit,
		AutocompleteDefault: cfg.Query.AutocompleteDefault,
		AutocompleteMax:     cfg.Query.AutocompleteMax,
		MaxProductIDs:       cfg.Query.MaxProductIDs,
		AutocompleteTimeout: config.DurationOr(cfg.Search.AutocompleteTimeout, 0),
	}
}

// buildEnricher wires the live-data sidecar when one is configured.
// Returns nil when enrichment is disabled so the service falls back to
// its no-op provider.
func buildEnricher(cfg *config.Config, logger *slog.Logger) service.DynamicDataProvider {
	if cfg.Enrichment.Endpoint == "" {
		return nil
	}

	inner := service.NewHTTPProvider(
		cfg.Enrichment.Endpoint,
		config.DurationOr(cfg.Enrichment.Timeout, 2*time.Second),
		logger,
	)
	return service.NewCachedProvider(inner, cfg.Enrichment.CacheSize, config.DurationOr(cfg.Enrichment.CacheTTL, 30*time.Second))
}

// buildMetrics wires the query statistics collector. Collection is
// always on; a telemetry path adds a SQLite store so daily aggregates
// survive restarts. A store that fails to open degrades to in-memory
// collection instead of blocking startup.
func buildMetrics(cfg *config.Config, logger *slog.Logger) (*telemetry.QueryMetrics, func()) {
	var st telemetry.Store
	if cfg.Telemetry.Path != "" {
		opened, err := telemetry.OpenStore(cfg.Telemetry.Path)
		if err != nil {
			logger.Warn("telemetry_store_unavailable",
				slog.String("path", cfg.Telemetry.Path),
				slog.String("error", err.Error()),
			)
		} else {
			st = opened
		}
	}

	metrics := telemetry.NewWithConfig(st, telemetry.Config{
		TopTermsCapacity:    cfg.Telemetry.TopTerms,
		ZeroResultsCapacity: cfg.Telemetry.ZeroResults,
		FlushInterval:       config.DurationOr(cfg.Telemetry.FlushInterval, time.Minute),
	})
	cleanup := func() {
		if err := metrics.Close(); err != nil {
			logger.Warn("telemetry_close_failed", slog.String("error", err.Error()))
		}
	}
	return metrics, cleanup
}

// reloadablePath picks the config file to watch for hot reload: the
// explicit --config path, otherwise searchd.yaml or searchd.yml in the
// working directory when one exists. No file means no watcher; the
// defaults cannot change under us.
func reloadablePath() string {
	if configPath != "" {
		return configPath
	}

	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for _, name := range []string{"searchd.yaml", "searchd.yml"} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
