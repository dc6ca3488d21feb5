package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	stage  Stage
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out: cfg.Output,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	msg := event.Message
	if msg == "" {
		msg = event.Detail
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.Ref != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Ref, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stats.DryRun {
		_, _ = fmt.Fprintf(r.out, "Dry run complete: %d documents would be indexed in %s\n",
			stats.Processed, round(stats.Duration))
		return
	}

	_, _ = fmt.Fprintf(r.out, "Complete: %d documents indexed to %s in %s",
		stats.Processed, stats.IndexName, round(stats.Duration))

	if stats.Skipped > 0 || stats.ItemErrors > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d skipped, %d rejected)", stats.Skipped, stats.ItemErrors)
	}

	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Populate > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Preflight: %s\n", round(stats.Stages.Preflight))
		_, _ = fmt.Fprintf(r.out, "  Connect:   %s\n", round(stats.Stages.Connect))
		_, _ = fmt.Fprintf(r.out, "  Analyze:   %s\n", round(stats.Stages.Analyze))
		_, _ = fmt.Fprintf(r.out, "  Create:    %s\n", round(stats.Stages.Create))
		if stats.Processed > 0 {
			docsPerSec := float64(stats.Processed) / stats.Stages.Populate.Seconds()
			_, _ = fmt.Fprintf(r.out, "  Populate:  %s (%d docs @ %.1f/sec)\n",
				round(stats.Stages.Populate), stats.Processed, docsPerSec)
		} else {
			_, _ = fmt.Fprintf(r.out, "  Populate:  %s\n", round(stats.Stages.Populate))
		}
		_, _ = fmt.Fprintf(r.out, "  Validate:  %s\n", round(stats.Stages.Validate))
		_, _ = fmt.Fprintf(r.out, "  Swap:      %s\n", round(stats.Stages.Swap))
		_, _ = fmt.Fprintf(r.out, "  Retention: %s\n", round(stats.Stages.Retention))
	}

	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, "\n%d errors, %d warnings\n", stats.Errors, stats.Warnings)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

func round(d time.Duration) time.Duration {
	return d.Round(100 * time.Millisecond)
}

var _ Renderer = (*PlainRenderer)(nil)
