package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickparts/searchd/internal/config"
	"github.com/quickparts/searchd/internal/journal"
	"github.com/quickparts/searchd/internal/search"
)

// writeIndexerConfig writes a config file pointing the journal and lock
// at the test's temp directory.
func writeIndexerConfig(t *testing.T, dir string) string {
	t.Helper()

	cfgPath := filepath.Join(dir, "searchd.yaml")
	cfgYAML := fmt.Sprintf(`
indexer:
  journal_path: %s
  lock_path: %s
`, filepath.Join(dir, "journal.db"), filepath.Join(dir, "index.lock"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0644))
	return cfgPath
}

func TestIndexHistoryCmd_EmptyJournal(t *testing.T) {
	// Given: a fresh journal
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	cfgPath := writeIndexerConfig(t, tmpDir)

	// When: executing index history
	output, err := execute(t, "index", "history", "--config", cfgPath)

	// Then: it should report no runs
	require.NoError(t, err)
	assert.Contains(t, output, "(no runs recorded)")
}

func TestIndexHistoryCmd_RendersRuns(t *testing.T) {
	// Given: a journal with one success and one failure
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	cfgPath := writeIndexerConfig(t, tmpDir)

	jnl, err := journal.Open(filepath.Join(tmpDir, "journal.db"))
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, jnl.Record(context.Background(), journal.Entry{
		StartedAt:   now.Add(-2 * time.Hour),
		FinishedAt:  now.Add(-2*time.Hour + 3*time.Minute),
		Status:      journal.StatusSuccess,
		IndexName:   "products_2025_08_25_10_00_00",
		Processed:   12000,
		TotalSource: 12010,
	}))
	require.NoError(t, jnl.Record(context.Background(), journal.Entry{
		StartedAt:  now.Add(-1 * time.Hour),
		FinishedAt: now.Add(-1*time.Hour + 20*time.Second),
		Status:     journal.StatusFailed,
		Stage:      "populate",
		Error:      "bulk rejected",
	}))
	require.NoError(t, jnl.Close())

	// When: executing index history
	output, err := execute(t, "index", "history", "--config", cfgPath)

	// Then: both runs should render, the failure with its stage
	require.NoError(t, err)
	assert.Contains(t, output, "products_2025_08_25_10_00_00")
	assert.Contains(t, output, "12000 docs")
	assert.Contains(t, output, "failed at populate: bulk rejected")
}

func TestIndexHistoryCmd_JSON(t *testing.T) {
	// Given: a journal with one run
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	cfgPath := writeIndexerConfig(t, tmpDir)

	jnl, err := journal.Open(filepath.Join(tmpDir, "journal.db"))
	require.NoError(t, err)
	require.NoError(t, jnl.Record(context.Background(), journal.Entry{
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC(),
		Status:     journal.StatusSuccess,
		IndexName:  "products_2025_08_25_11_00_00",
		Processed:  5,
	}))
	require.NoError(t, jnl.Close())

	// When: executing index history --json
	output, err := execute(t, "index", "history", "--config", cfgPath, "--json")

	// Then: the run should appear as JSON
	require.NoError(t, err)
	assert.Contains(t, output, `"index_name": "products_2025_08_25_11_00_00"`)
	assert.Contains(t, output, `"status": "success"`)
}

func TestSchemaBytes_EmbeddedDefault(t *testing.T) {
	// Given: a config without a schema path

	// When: resolving the schema
	raw, source, err := schemaBytes(config.NewConfig(), "")

	// Then: the embedded schema should load and pass validation
	require.NoError(t, err)
	assert.Equal(t, "embedded", source)

	_, err = search.LoadSchema(raw)
	require.NoError(t, err, "embedded schema must satisfy the validator")
}

func TestSchemaBytes_FlagBeatsConfig(t *testing.T) {
	// Given: a schema file on disk and a config naming another path
	tmpDir := t.TempDir()
	flagPath := filepath.Join(tmpDir, "flag-schema.json")
	require.NoError(t, os.WriteFile(flagPath, []byte(`{"settings":{}}`), 0644))

	cfg := config.NewConfig()
	cfg.Indexer.SchemaPath = filepath.Join(tmpDir, "does-not-exist.json")

	// When: resolving with the flag set
	raw, source, err := schemaBytes(cfg, flagPath)

	// Then: the flag path should win
	require.NoError(t, err)
	assert.Equal(t, flagPath, source)
	assert.JSONEq(t, `{"settings":{}}`, string(raw))
}

func TestSchemaBytes_MissingFileFails(t *testing.T) {
	// Given: a config naming a file that does not exist
	cfg := config.NewConfig()
	cfg.Indexer.SchemaPath = filepath.Join(t.TempDir(), "missing.json")

	// When: resolving the schema
	_, _, err := schemaBytes(cfg, "")

	// Then: the error should name the path
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.json")
}
