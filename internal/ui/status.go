package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// IndexRow describes one physical index for display.
type IndexRow struct {
	Name     string `json:"name"`
	DocCount int64  `json:"doc_count"`
	Current  bool   `json:"current"`
}

// IndicesInfo is the `index indices` report.
type IndicesInfo struct {
	Alias   string     `json:"alias"`
	Target  string     `json:"target,omitempty"`
	Indices []IndexRow `json:"indices"`
}

// RouteRow is one serving path with its query count.
type RouteRow struct {
	Route string `json:"route"`
	Count int64  `json:"count"`
}

// LatencyRow is one latency histogram bucket for display.
type LatencyRow struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// TermRow is one search term with its frequency.
type TermRow struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// MetricsReport is the `metrics` command report.
type MetricsReport struct {
	From         string       `json:"from"`
	To           string       `json:"to"`
	TotalQueries int64        `json:"total_queries"`
	Routes       []RouteRow   `json:"routes"`
	Latency      []LatencyRow `json:"latency"`
	TopTerms     []TermRow    `json:"top_terms"`
	ZeroResults  []string     `json:"zero_result_queries"`
}

// RunRow is one journal entry prepared for display.
type RunRow struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"`
	IndexName  string        `json:"index_name,omitempty"`
	Processed  int           `json:"processed"`
	Skipped    int           `json:"skipped"`
	ItemErrors int           `json:"item_errors"`
	Stage      string        `json:"stage,omitempty"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// StatusRenderer displays index and run-history reports.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// RenderIndices displays the physical indices and the alias target.
func (r *StatusRenderer) RenderIndices(info IndicesInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Indices for alias "+info.Alias))

	if len(info.Indices) == 0 {
		_, _ = fmt.Fprintln(r.out, "  (none)")
		return nil
	}

	for _, idx := range info.Indices {
		marker := "  "
		name := idx.Name
		if idx.Current {
			marker = "* "
			name = r.styles.Active.Render(name)
		}
		_, _ = fmt.Fprintf(r.out, "%s%s  %d docs\n", marker, name, idx.DocCount)
	}

	_, _ = fmt.Fprintln(r.out)
	if info.Target != "" {
		_, _ = fmt.Fprintf(r.out, "  Alias target: %s\n", info.Target)
	} else {
		_, _ = fmt.Fprintln(r.out, "  Alias target: (none)")
	}

	return nil
}

// RenderHistory displays recent indexer runs, newest first.
func (r *StatusRenderer) RenderHistory(rows []RunRow) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Recent index runs"))

	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.out, "  (no runs recorded)")
		return nil
	}

	for _, row := range rows {
		status := r.renderRunStatus(row.Status)
		label := row.IndexName
		if row.DryRun {
			label = "(dry run)"
		}
		_, _ = fmt.Fprintf(r.out, "  %s  %s  %s\n",
			formatTime(row.StartedAt), status, label)
		_, _ = fmt.Fprintf(r.out, "      %d docs, %d skipped, %d rejected in %s\n",
			row.Processed, row.Skipped, row.ItemErrors, formatDuration(row.Duration))
		if row.Error != "" {
			_, _ = fmt.Fprintf(r.out, "      %s\n",
				r.styles.Error.Render(fmt.Sprintf("failed at %s: %s", row.Stage, row.Error)))
		}
	}

	return nil
}

// RenderMetrics displays aggregated query statistics.
func (r *StatusRenderer) RenderMetrics(report MetricsReport) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(
		fmt.Sprintf("Query statistics %s to %s", report.From, report.To)))

	if report.TotalQueries == 0 {
		_, _ = fmt.Fprintln(r.out, "  (no queries recorded)")
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Label.Render("Routes"))
	for _, row := range report.Routes {
		share := float64(row.Count) / float64(report.TotalQueries) * 100
		_, _ = fmt.Fprintf(r.out, "    %-12s %8d  %5.1f%%\n", row.Route, row.Count, share)
	}

	var tallest int64
	for _, row := range report.Latency {
		if row.Count > tallest {
			tallest = row.Count
		}
	}
	_, _ = fmt.Fprintf(r.out, "\n  %s\n", r.styles.Label.Render("Latency"))
	for _, row := range report.Latency {
		_, _ = fmt.Fprintf(r.out, "    %-10s %8d  %s\n",
			row.Bucket, row.Count, r.styles.Sparkline.Render(histogramBar(row.Count, tallest, 24)))
	}

	_, _ = fmt.Fprintf(r.out, "\n  %s\n", r.styles.Label.Render("Top terms"))
	if len(report.TopTerms) == 0 {
		_, _ = fmt.Fprintln(r.out, "    (none)")
	}
	for _, row := range report.TopTerms {
		_, _ = fmt.Fprintf(r.out, "    %-24s %8d\n", row.Term, row.Count)
	}

	_, _ = fmt.Fprintf(r.out, "\n  %s\n", r.styles.Label.Render("Recent zero-result queries"))
	if len(report.ZeroResults) == 0 {
		_, _ = fmt.Fprintln(r.out, "    (none)")
	}
	for _, q := range report.ZeroResults {
		_, _ = fmt.Fprintf(r.out, "    %s\n", q)
	}

	return nil
}

// histogramBar renders a proportional block bar, at least one block
// for any non-zero count.
func histogramBar(count, tallest int64, width int) string {
	if count <= 0 || tallest <= 0 {
		return ""
	}
	n := int(count * int64(width) / tallest)
	if n < 1 {
		n = 1
	}
	return strings.Repeat("█", n)
}

// RenderJSON outputs any report value as indented JSON.
func (r *StatusRenderer) RenderJSON(v any) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// renderRunStatus formats a run status with color.
func (r *StatusRenderer) renderRunStatus(status string) string {
	switch status {
	case "success":
		return r.styles.Success.Render(status)
	case "failed":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
