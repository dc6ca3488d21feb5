// Package health tracks whether the search backend is fit to serve
// queries. A Gate caches the verdict between probes so the hot path
// never waits on health I/O, and backs off probing while the backend
// stays down.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quickparts/searchd/internal/search"
)

// Status is the gate's routing verdict.
type Status int

const (
	// StatusUnknown is the state before the first probe.
	StatusUnknown Status = iota
	// StatusUp routes queries to the search backend.
	StatusUp
	// StatusDown routes queries to the relational fallback.
	StatusDown
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// Probe timing defaults.
const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultBaseInterval = 30 * time.Second
	DefaultStep         = 10 * time.Second
	DefaultMaxInterval  = 300 * time.Second
)

// Prober is the slice of the search backend the gate needs.
type Prober interface {
	ClusterHealth(ctx context.Context, index string) (*search.ClusterHealth, error)
}

// Snapshot is a point-in-time view of the gate for status endpoints.
type Snapshot struct {
	Status              Status
	LastCheckAt         time.Time
	ConsecutiveFailures int
	NextProbeIn         time.Duration
}

// Gate decides between the search backend and the fallback path.
type Gate struct {
	prober Prober
	logger *slog.Logger

	probeTimeout time.Duration
	baseInterval time.Duration
	step         time.Duration
	maxInterval  time.Duration
	now          func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	status      Status
	lastCheckAt time.Time
	failures    int
}

// Option configures a Gate.
type Option func(*Gate)

// WithProbeTimeout bounds a single health call. A probe slower than
// this counts as down even if it eventually answers.
func WithProbeTimeout(d time.Duration) Option {
	return func(g *Gate) { g.probeTimeout = d }
}

// WithIntervals sets the re-probe schedule: base + step per
// consecutive failure, capped at max.
func WithIntervals(base, step, max time.Duration) Option {
	return func(g *Gate) {
		g.baseInterval = base
		g.step = step
		g.maxInterval = max
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate in StatusUnknown; the first availability
// check triggers a probe.
func NewGate(prober Prober, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		prober:       prober,
		logger:       logger,
		probeTimeout: DefaultProbeTimeout,
		baseInterval: DefaultBaseInterval,
		step:         DefaultStep,
		maxInterval:  DefaultMaxInterval,
		now:          time.Now,
		status:       StatusUnknown,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// retryInterval is the wait before the next probe given the current
// failure streak. Callers hold g.mu.
func (g *Gate) retryInterval() time.Duration {
	interval := g.baseInterval + time.Duration(g.failures)*g.step
	if interval > g.maxInterval {
		interval = g.maxInterval
	}
	return interval
}

// IsAvailable reports whether queries should go to the search
// backend. Between probes it answers from cache without I/O; when a
// probe is due, concurrent callers share a single flight.
func (g *Gate) IsAvailable(ctx context.Context) bool {
	g.mu.Lock()
	due := g.status == StatusUnknown || g.now().Sub(g.lastCheckAt) >= g.retryInterval()
	cached := g.status == StatusUp
	g.mu.Unlock()

	if !due {
		return cached
	}
	return g.sharedProbe(ctx)
}

// ForceProbe runs a probe immediately regardless of schedule. The
// diagnostics endpoint uses it.
func (g *Gate) ForceProbe(ctx context.Context) bool {
	return g.sharedProbe(ctx)
}

// MarkFailure records a backend failure observed outside probing,
// flipping the gate down so subsequent requests take the fallback.
func (g *Gate) MarkFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	g.status = StatusDown
	g.lastCheckAt = g.now()
	g.logger.Warn("search_gate_marked_down",
		slog.Int("consecutive_failures", g.failures),
		slog.Duration("next_probe_in", g.retryInterval()),
	)
}

// Snapshot returns the current gate state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.retryInterval() - g.now().Sub(g.lastCheckAt)
	if g.status == StatusUnknown || next < 0 {
		next = 0
	}
	return Snapshot{
		Status:              g.status,
		LastCheckAt:         g.lastCheckAt,
		ConsecutiveFailures: g.failures,
		NextProbeIn:         next,
	}
}

// Retune swaps the probe schedule on a live gate. The serve command
// applies it on config reload; the failure streak and the cached
// verdict survive the change. Non-positive values keep the current
// setting.
func (g *Gate) Retune(probeTimeout, base, step, max time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if probeTimeout > 0 {
		g.probeTimeout = probeTimeout
	}
	if base > 0 {
		g.baseInterval = base
	}
	if step > 0 {
		g.step = step
	}
	if max > 0 {
		g.maxInterval = max
	}
	g.logger.Info("search_gate_retuned",
		slog.Duration("probe_timeout", g.probeTimeout),
		slog.Duration("base_interval", g.baseInterval),
		slog.Duration("step", g.step),
		slog.Duration("max_interval", g.maxInterval),
	)
}

// sharedProbe funnels concurrent probe requests into one backend
// call.
func (g *Gate) sharedProbe(ctx context.Context) bool {
	verdict, _, _ := g.group.Do("probe", func() (any, error) {
		return g.probe(ctx), nil
	})
	return verdict.(bool)
}

// probe runs one health check and updates the cached verdict. Up
// means green or yellow answered within the probe timeout.
func (g *Gate) probe(ctx context.Context) bool {
	g.mu.Lock()
	timeout := g.probeTimeout
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy := false
	var status string
	var elapsed time.Duration

	h, err := g.prober.ClusterHealth(ctx, "")
	if err == nil {
		status = h.Status
		elapsed = h.Elapsed
		healthy = (status == "green" || status == "yellow") && elapsed < timeout
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastCheckAt = g.now()
	if healthy {
		if g.status != StatusUp {
			g.logger.Info("search_gate_up",
				slog.String("cluster_status", status),
				slog.Duration("probe_elapsed", elapsed),
			)
		}
		g.status = StatusUp
		g.failures = 0
		return true
	}

	g.failures++
	g.status = StatusDown
	attrs := []any{
		slog.Int("consecutive_failures", g.failures),
		slog.Duration("next_probe_in", g.retryInterval()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	} else {
		attrs = append(attrs, slog.String("cluster_status", status), slog.Duration("probe_elapsed", elapsed))
	}
	g.logger.Warn("search_gate_down", attrs...)
	return false
}
