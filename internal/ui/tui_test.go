package ui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTUIRenderer_RequiresTTY(t *testing.T) {
	_, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a TTY")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{time.Minute, "1m"},
		{90 * time.Second, "1m 30s"},
		{59*time.Second + 600*time.Millisecond, "1m"},
		{time.Hour, "1h 0m"},
		{3*time.Hour + 25*time.Minute, "3h 25m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

func newTestModel() *pipelineModel {
	m := newPipelineModel(NewProgressTracker(), "products")
	m.styles = NoColorStyles()
	return m
}

func TestNewPipelineModel_Defaults(t *testing.T) {
	m := newTestModel()

	assert.Equal(t, 80, m.width)
	assert.Equal(t, 24, m.height)
	assert.Equal(t, "products", m.target)
	assert.Equal(t, 50, m.progressBar.Width)
}

func TestPipelineModel_WindowSizeResizesBar(t *testing.T) {
	m := newTestModel()

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	got := updated.(*pipelineModel)
	assert.Equal(t, 120, got.width)
	assert.Equal(t, 100, got.progressBar.Width)
}

func TestPipelineModel_WindowSizeKeepsMinimumBar(t *testing.T) {
	m := newTestModel()

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})

	assert.Equal(t, 20, updated.(*pipelineModel).progressBar.Width)
}

func TestPipelineModel_CompleteQuits(t *testing.T) {
	m := newTestModel()

	updated, cmd := m.Update(completeMsg{IndexName: "products_2025_07_01_10_00_00", Processed: 1500})

	got := updated.(*pipelineModel)
	assert.True(t, got.complete)
	assert.Equal(t, 1500, got.stats.Processed)
	require.NotNil(t, cmd, "complete should quit the program")
}

func TestPipelineModel_QuitKey(t *testing.T) {
	m := newTestModel()

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	got := updated.(*pipelineModel)
	assert.True(t, got.quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", got.View())
}

func TestPipelineModel_TickKeepsTicking(t *testing.T) {
	m := newTestModel()

	_, cmd := m.Update(tickMsg(time.Now()))

	assert.NotNil(t, cmd)
}

func TestPipelineModel_ViewShowsProgress(t *testing.T) {
	m := newTestModel()
	m.tracker.SetStage(StagePopulate, 100)
	m.tracker.Update(42, "batch 5 (last id 1200)")

	view := m.View()

	assert.Contains(t, view, "searchd indexer • products")
	assert.Contains(t, view, "Populate")
	assert.Contains(t, view, "42 / 100 documents")
	assert.Contains(t, view, "batch 5 (last id 1200)")
	assert.Contains(t, view, "q to quit")
}

func TestPipelineModel_ViewSpinsWithoutTotal(t *testing.T) {
	m := newTestModel()
	m.tracker.SetStage(StageAnalyze, 0)

	view := m.View()

	assert.Contains(t, view, "Analyze...")
	assert.Contains(t, view, "Working...")
}

func TestPipelineModel_ViewComplete(t *testing.T) {
	m := newTestModel()
	m.complete = true
	m.stats = CompletionStats{
		IndexName:  "products_2025_07_01_10_00_00",
		Processed:  1500,
		Skipped:    3,
		ItemErrors: 1,
		Duration:   2 * time.Minute,
	}

	view := m.View()

	assert.Contains(t, view, "Reindex Complete")
	assert.Contains(t, view, "products_2025_07_01_10_00_00")
	assert.Contains(t, view, "1500")
	assert.Contains(t, view, "Rejected:")
	assert.Contains(t, view, "2m")
}

func TestPipelineModel_ViewCompleteDryRun(t *testing.T) {
	m := newTestModel()
	m.complete = true
	m.stats = CompletionStats{Processed: 1500, DryRun: true}

	assert.Contains(t, m.View(), "Dry Run Complete")
}

func TestPipelineModel_StatusBarCounts(t *testing.T) {
	m := newTestModel()
	m.tracker.AddError(ErrorEvent{Err: assert.AnError})
	m.tracker.AddError(ErrorEvent{Err: assert.AnError, IsWarn: true})
	m.tracker.SetStage(StagePopulate, 100)

	view := m.View()

	assert.Contains(t, view, "1 warnings")
	assert.Contains(t, view, "1 errors")
}
