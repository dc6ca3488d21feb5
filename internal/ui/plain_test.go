package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlain(t *testing.T) (*PlainRenderer, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))
	require.NoError(t, r.Start(context.Background()))
	return r, buf
}

func TestPlainRenderer_ProgressWithTotal(t *testing.T) {
	r, buf := newPlain(t)

	r.UpdateProgress(ProgressEvent{
		Stage:   StagePopulate,
		Current: 12,
		Total:   150,
		Detail:  "batch 12 (last id 48210)",
	})

	assert.Equal(t, "[POPULATE] 12/150 - batch 12 (last id 48210)\n", buf.String())
}

func TestPlainRenderer_ProgressMessageOnly(t *testing.T) {
	r, buf := newPlain(t)

	r.UpdateProgress(ProgressEvent{
		Stage:   StageAnalyze,
		Message: "1503 products in catalog",
	})

	assert.Equal(t, "[ANALYZE] 1503 products in catalog\n", buf.String())
}

func TestPlainRenderer_SilentWithoutContent(t *testing.T) {
	r, buf := newPlain(t)

	r.UpdateProgress(ProgressEvent{Stage: StageConnect})

	assert.Empty(t, buf.String())
}

func TestPlainRenderer_AddError(t *testing.T) {
	r, buf := newPlain(t)

	r.AddError(ErrorEvent{Ref: "product 42", Err: errors.New("missing name"), IsWarn: true})
	r.AddError(ErrorEvent{Err: errors.New("bulk transport failed")})

	out := buf.String()
	assert.Contains(t, out, "WARN: product 42: missing name\n")
	assert.Contains(t, out, "ERROR: bulk transport failed\n")
}

func TestPlainRenderer_Complete(t *testing.T) {
	r, buf := newPlain(t)

	r.Complete(CompletionStats{
		IndexName:  "products_2025_07_01_10_00_00",
		Processed:  1500,
		Skipped:    3,
		ItemErrors: 1,
		Duration:   2 * time.Minute,
		Stages: StageTimings{
			Preflight: 120 * time.Millisecond,
			Connect:   80 * time.Millisecond,
			Analyze:   time.Second,
			Create:    4 * time.Second,
			Populate:  100 * time.Second,
			Validate:  2 * time.Second,
			Swap:      300 * time.Millisecond,
			Retention: time.Second,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Complete: 1500 documents indexed to products_2025_07_01_10_00_00 in 2m0s")
	assert.Contains(t, out, "(3 skipped, 1 rejected)")
	assert.Contains(t, out, "Stage Breakdown:")
	assert.Contains(t, out, "Populate:  1m40s (1500 docs @ 15.0/sec)")
	assert.Contains(t, out, "Swap:      300ms")
}

func TestPlainRenderer_CompleteDryRun(t *testing.T) {
	r, buf := newPlain(t)

	r.Complete(CompletionStats{
		Processed: 1503,
		Duration:  5 * time.Second,
		DryRun:    true,
	})

	out := buf.String()
	assert.Contains(t, out, "Dry run complete: 1503 documents would be indexed")
	assert.NotContains(t, out, "Stage Breakdown")
}

func TestPlainRenderer_StopIsNoop(t *testing.T) {
	r, _ := newPlain(t)

	assert.NoError(t, r.Stop())
}
