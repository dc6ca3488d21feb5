package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quickparts/searchd/internal/search"
)

// remoteCheckTimeout bounds each probe of a remote dependency.
const remoteCheckTimeout = 5 * time.Second

// CheckSchema validates the configured product schema.
func (c *Checker) CheckSchema() CheckResult {
	result := CheckResult{
		Name:     "schema",
		Required: true,
	}

	if len(c.schema) == 0 {
		result.Status = StatusFail
		result.Message = "no schema configured"
		return result
	}

	if _, err := search.LoadSchema(c.schema); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("valid (%d bytes)", len(c.schema))
	return result
}

// CheckDataDir checks that the run journal and lock file location is
// writable.
func (c *Checker) CheckDataDir() CheckResult {
	result := CheckResult{
		Name:     "data_dir",
		Required: true,
	}

	if c.dataDir == "" {
		result.Status = StatusFail
		result.Message = "no data directory configured"
		return result
	}

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.dataDir, err)
		return result
	}

	testFile := filepath.Join(c.dataDir, ".searchd-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = c.dataDir
	return result
}

// CheckBackend checks that Elasticsearch answers at all.
func (c *Checker) CheckBackend(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "elasticsearch",
		Required: true,
	}

	if c.backend == nil {
		result.Status = StatusFail
		result.Message = "no backend configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, remoteCheckTimeout)
	defer cancel()

	if err := c.backend.Ping(ctx); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("ping failed: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = "reachable"
	return result
}

// CheckClusterHealth checks the cluster status. Yellow is operable for
// a single-node catalog index, so it only warns.
func (c *Checker) CheckClusterHealth(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "cluster_health",
		Required: true,
	}

	if c.backend == nil {
		result.Status = StatusFail
		result.Message = "no backend configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, remoteCheckTimeout)
	defer cancel()

	health, err := c.backend.ClusterHealth(ctx, "")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("health check failed: %v", err)
		return result
	}

	switch health.Status {
	case "green":
		result.Status = StatusPass
	case "yellow":
		result.Status = StatusWarn
	default:
		result.Status = StatusFail
	}
	result.Message = fmt.Sprintf("%s (%s)", health.Status, health.Elapsed.Round(time.Millisecond))
	return result
}

// CheckPlugins lists installed cluster plugins. Informational only;
// the service depends on no plugin, but operators want to see what a
// cluster carries before a reindex.
func (c *Checker) CheckPlugins(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "plugins",
		Required: false,
	}

	if c.backend == nil {
		result.Status = StatusWarn
		result.Message = "no backend configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, remoteCheckTimeout)
	defer cancel()

	names, err := c.backend.PluginsInstalled(ctx)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot list plugins: %v", err)
		return result
	}

	result.Status = StatusPass
	if len(names) == 0 {
		result.Message = "none installed"
	} else {
		result.Message = strings.Join(names, ", ")
	}
	return result
}

// CheckSource checks the catalog database connection.
func (c *Checker) CheckSource(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "catalog_db",
		Required: true,
	}

	if c.source == nil {
		result.Status = StatusFail
		result.Message = "no catalog database configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, remoteCheckTimeout)
	defer cancel()

	if err := c.source.Ping(ctx); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("ping failed: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = "reachable"
	return result
}
