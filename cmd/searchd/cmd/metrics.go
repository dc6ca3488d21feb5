package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quickparts/searchd/internal/telemetry"
	"github.com/quickparts/searchd/internal/ui"
)

// latencyBuckets pairs the stored histogram buckets with display
// labels, fastest first.
var latencyBuckets = []struct {
	bucket telemetry.LatencyBucket
	label  string
}{
	{telemetry.BucketP10, "<10ms"},
	{telemetry.BucketP50, "10-50ms"},
	{telemetry.BucketP100, "50-100ms"},
	{telemetry.BucketP500, "100-500ms"},
	{telemetry.BucketP1000, ">=500ms"},
}

// newMetricsCmd creates the metrics command.
func newMetricsCmd() *cobra.Command {
	var (
		days       int
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show collected query statistics",
		Long: `Show the query statistics a serve process flushed to the local
telemetry database: which path served queries, the latency
distribution, the most frequent search terms and recent queries that
returned nothing.

Needs telemetry.path in the config. Without it serve keeps statistics
in memory only, readable while the process runs via /api/metrics.`,
		Example: `  # Last week of queries
  searchd metrics

  # One day, more terms
  searchd metrics --days 1 --limit 50

  # JSON output for scripting
  searchd metrics --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Telemetry.Path == "" {
				return fmt.Errorf("telemetry.path is not configured; statistics stay in memory and are only served at /api/metrics")
			}

			st, err := telemetry.OpenStore(cfg.Telemetry.Path)
			if err != nil {
				return fmt.Errorf("failed to open telemetry store: %w", err)
			}
			defer st.Close()

			if days < 1 {
				days = 1
			}
			now := time.Now().UTC()
			from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
			to := now.Format("2006-01-02")

			routes, err := st.RouteCounts(from, to)
			if err != nil {
				return err
			}
			latencies, err := st.LatencyCounts(from, to)
			if err != nil {
				return err
			}
			terms, err := st.TopTerms(limit)
			if err != nil {
				return err
			}
			zeros, err := st.ZeroResultQueries(limit)
			if err != nil {
				return err
			}

			report := metricsReport(from, to, routes, latencies, terms, zeros)

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
			if jsonOutput {
				return renderer.RenderJSON(report)
			}
			return renderer.RenderMetrics(report)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Days of history to include")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of terms and zero-result queries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// metricsReport shapes the stored aggregates for display. Routes and
// buckets keep a fixed order so reports line up across runs.
func metricsReport(from, to string, routes map[telemetry.Route]int64, latencies map[telemetry.LatencyBucket]int64, terms []telemetry.TermCount, zeros []string) ui.MetricsReport {
	report := ui.MetricsReport{From: from, To: to, ZeroResults: zeros}

	for _, route := range []telemetry.Route{telemetry.RouteEngine, telemetry.RouteFallback, telemetry.RouteUnavailable} {
		count := routes[route]
		report.TotalQueries += count
		report.Routes = append(report.Routes, ui.RouteRow{Route: string(route), Count: count})
	}

	for _, b := range latencyBuckets {
		report.Latency = append(report.Latency, ui.LatencyRow{Bucket: b.label, Count: latencies[b.bucket]})
	}

	for _, tc := range terms {
		report.TopTerms = append(report.TopTerms, ui.TermRow{Term: tc.Term, Count: tc.Count})
	}

	return report
}
