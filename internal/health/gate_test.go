package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickparts/searchd/internal/search"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type probeResult struct {
	health *search.ClusterHealth
	err    error
}

// fakeProber replays scripted health results; the last entry repeats.
type fakeProber struct {
	mu      sync.Mutex
	calls   int
	results []probeResult
	block   chan struct{}
}

func (f *fakeProber) ClusterHealth(ctx context.Context, index string) (*search.ClusterHealth, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	r := f.results[idx]
	return r.health, r.err
}

func (f *fakeProber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func green() probeResult {
	return probeResult{health: &search.ClusterHealth{Status: "green", Elapsed: 12 * time.Millisecond}}
}

func red() probeResult {
	return probeResult{health: &search.ClusterHealth{Status: "red", Elapsed: 8 * time.Millisecond}}
}

func newTestGate(prober Prober, clock *fakeClock) *Gate {
	return NewGate(prober, testLogger(), WithClock(clock.Now))
}

func TestGate_FirstCheckProbes(t *testing.T) {
	prober := &fakeProber{results: []probeResult{green()}}
	gate := newTestGate(prober, newFakeClock())

	assert.True(t, gate.IsAvailable(context.Background()))
	assert.Equal(t, 1, prober.callCount())

	snap := gate.Snapshot()
	assert.Equal(t, StatusUp, snap.Status)
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestGate_CachesBetweenProbes(t *testing.T) {
	// Given an up gate
	clock := newFakeClock()
	prober := &fakeProber{results: []probeResult{green()}}
	gate := newTestGate(prober, clock)
	require.True(t, gate.IsAvailable(context.Background()))

	// When checked again inside the base interval
	clock.Advance(29 * time.Second)
	assert.True(t, gate.IsAvailable(context.Background()))

	// Then no second probe happened
	assert.Equal(t, 1, prober.callCount())

	// And once the interval elapses a fresh probe runs
	clock.Advance(1 * time.Second)
	assert.True(t, gate.IsAvailable(context.Background()))
	assert.Equal(t, 2, prober.callCount())
}

func TestGate_RedClusterIsDown(t *testing.T) {
	gate := newTestGate(&fakeProber{results: []probeResult{red()}}, newFakeClock())

	assert.False(t, gate.IsAvailable(context.Background()))

	snap := gate.Snapshot()
	assert.Equal(t, StatusDown, snap.Status)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Equal(t, 40*time.Second, snap.NextProbeIn)
}

func TestGate_SlowProbeIsDown(t *testing.T) {
	slow := probeResult{health: &search.ClusterHealth{Status: "green", Elapsed: 6 * time.Second}}
	gate := newTestGate(&fakeProber{results: []probeResult{slow}}, newFakeClock())

	assert.False(t, gate.IsAvailable(context.Background()))
	assert.Equal(t, StatusDown, gate.Snapshot().Status)
}

func TestGate_ProbeErrorIsDown(t *testing.T) {
	failing := probeResult{err: errors.New("connection refused")}
	gate := newTestGate(&fakeProber{results: []probeResult{failing}}, newFakeClock())

	assert.False(t, gate.IsAvailable(context.Background()))
	assert.Equal(t, 1, gate.Snapshot().ConsecutiveFailures)
}

func TestGate_BackoffGrowsAndCaps(t *testing.T) {
	// Given a backend that stays down
	clock := newFakeClock()
	prober := &fakeProber{results: []probeResult{red()}}
	gate := newTestGate(prober, clock)
	ctx := context.Background()

	for probeNum := 1; probeNum <= 30; probeNum++ {
		assert.False(t, gate.IsAvailable(ctx))
		require.Equal(t, probeNum, prober.callCount(), "probe %d must reach the backend", probeNum)

		snap := gate.Snapshot()
		want := 30*time.Second + time.Duration(probeNum)*10*time.Second
		if want > 300*time.Second {
			want = 300 * time.Second
		}
		assert.Equal(t, want, snap.NextProbeIn, "after %d failures", probeNum)

		clock.Advance(snap.NextProbeIn)
	}

	// 27 failures hit the 300s cap; later failures stay there.
	assert.Equal(t, 300*time.Second, gate.Snapshot().NextProbeIn)
}

func TestGate_RecoveryResetsFailures(t *testing.T) {
	clock := newFakeClock()
	prober := &fakeProber{results: []probeResult{red(), red(), green()}}
	gate := newTestGate(prober, clock)
	ctx := context.Background()

	assert.False(t, gate.IsAvailable(ctx))
	clock.Advance(40 * time.Second)
	assert.False(t, gate.IsAvailable(ctx))
	clock.Advance(50 * time.Second)

	assert.True(t, gate.IsAvailable(ctx))

	snap := gate.Snapshot()
	assert.Equal(t, StatusUp, snap.Status)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, snap.NextProbeIn)
}

func TestGate_MarkFailureFlipsDownWithoutProbe(t *testing.T) {
	prober := &fakeProber{results: []probeResult{green()}}
	gate := newTestGate(prober, newFakeClock())
	require.True(t, gate.IsAvailable(context.Background()))

	gate.MarkFailure()

	assert.False(t, gate.IsAvailable(context.Background()))
	assert.Equal(t, 1, prober.callCount())
	assert.Equal(t, 1, gate.Snapshot().ConsecutiveFailures)
}

func TestGate_ForceProbeIgnoresSchedule(t *testing.T) {
	prober := &fakeProber{results: []probeResult{red(), green()}}
	gate := newTestGate(prober, newFakeClock())
	ctx := context.Background()

	require.False(t, gate.IsAvailable(ctx))

	// The schedule says wait 40s, but ForceProbe goes now.
	assert.True(t, gate.ForceProbe(ctx))
	assert.Equal(t, 2, prober.callCount())
	assert.Equal(t, StatusUp, gate.Snapshot().Status)
}

func TestGate_ConcurrentChecksShareOneProbe(t *testing.T) {
	// Given a probe that blocks until released
	release := make(chan struct{})
	prober := &fakeProber{results: []probeResult{green()}, block: release}
	gate := newTestGate(prober, newFakeClock())

	var wg sync.WaitGroup
	verdicts := make([]bool, 8)
	for i := range verdicts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i] = gate.IsAvailable(context.Background())
		}(i)
	}

	// Let every goroutine reach the shared flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	release <- struct{}{}
	close(release)
	wg.Wait()

	// Then every caller saw the single shared probe's verdict
	assert.Equal(t, 1, prober.callCount())
	for _, v := range verdicts {
		assert.True(t, v)
	}
}

func TestGate_RetuneChangesSchedule(t *testing.T) {
	// Given a down gate on the default schedule
	clock := newFakeClock()
	prober := &fakeProber{results: []probeResult{red()}}
	gate := newTestGate(prober, clock)
	require.False(t, gate.IsAvailable(context.Background()))
	require.Equal(t, 40*time.Second, gate.Snapshot().NextProbeIn)

	// When the schedule is retuned to a tighter interval
	gate.Retune(time.Second, 5*time.Second, 5*time.Second, 60*time.Second)

	// Then the next probe moves up while the failure streak survives
	snap := gate.Snapshot()
	assert.Equal(t, 10*time.Second, snap.NextProbeIn)
	assert.Equal(t, 1, snap.ConsecutiveFailures)

	// And zero values keep the current settings
	gate.Retune(0, 0, 0, 0)
	assert.Equal(t, 10*time.Second, gate.Snapshot().NextProbeIn)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "unknown", StatusUnknown.String())
	assert.Equal(t, "up", StatusUp.String())
	assert.Equal(t, "down", StatusDown.String())
}
