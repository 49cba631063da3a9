package poller

// ============================================================================
// Poller tests
// Covers: last-good retention, no publish on failure, skipped overlapping
// ticks, immediate first poll and the per-fetch timeout.
// ============================================================================

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/internal/snapshot"
	"github.com/ChuLiYu/jobwatch/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fakes
// ============================================================================

type scriptedSource struct {
	mu      sync.Mutex
	results []error // nil entries succeed
	calls   atomic.Int32
	block   chan struct{}
	jobs    []types.JobRecord
}

func (s *scriptedSource) FetchSnapshot(ctx context.Context) ([]types.JobRecord, error) {
	n := int(s.calls.Add(1)) - 1
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.results) && s.results[n] != nil {
		return nil, s.results[n]
	}
	out := make([]types.JobRecord, len(s.jobs))
	copy(out, s.jobs)
	return out, nil
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []*types.Snapshot
}

func (r *recordingSink) Publish(snap *types.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

type tagEnricher struct{}

func (tagEnricher) Enrich(_ context.Context, jobs []types.JobRecord) []types.JobRecord {
	for i := range jobs {
		jobs[i].Enrichment = &types.Enrichment{Description: "tagged"}
	}
	return jobs
}

func sampleJobs() []types.JobRecord {
	return []types.JobRecord{
		{ID: "a", Name: "A", State: types.StateDownloading, Category: "movies"},
		{ID: "b", Name: "B", State: types.StateSeeding, Category: "bogus"},
	}
}

// ============================================================================
// PollOnce
// ============================================================================

func TestPollOnceStoresAndPublishes(t *testing.T) {
	src := &scriptedSource{jobs: sampleJobs()}
	store := snapshot.NewStore()
	sink := &recordingSink{}
	p := New(src, store, Config{Interval: time.Second}, WithSinks(sink), WithEnricher(tagEnricher{}))

	require.NoError(t, p.PollOnce(context.Background()))

	cur := store.Snapshot()
	require.NotNil(t, cur)
	assert.Equal(t, 2, cur.Len())
	assert.Equal(t, types.CategoryOther, cur.Jobs[1].Category, "records are normalized")
	assert.Equal(t, "tagged", cur.Jobs[0].Enrichment.Description)
	assert.Equal(t, 1, sink.count())
}

func TestFailureKeepsLastGoodAndDoesNotPublish(t *testing.T) {
	boom := errors.New("connection refused")
	src := &scriptedSource{jobs: sampleJobs(), results: []error{nil, boom, boom}}
	store := snapshot.NewStore()
	sink := &recordingSink{}
	reg := prometheus.NewRegistry()
	p := New(src, store, Config{Interval: time.Second}, WithSinks(sink), WithMetrics(metrics.NewCollector(reg)))

	require.NoError(t, p.PollOnce(context.Background()))
	good := store.Snapshot()

	err := p.PollOnce(context.Background())
	assert.ErrorIs(t, err, types.ErrPollFailure)
	err = p.PollOnce(context.Background())
	assert.ErrorIs(t, err, types.ErrPollFailure)

	assert.Same(t, good, store.Snapshot())
	assert.Equal(t, 1, sink.count())
}

func TestFirstPollFailureLeavesStoreEmpty(t *testing.T) {
	src := &scriptedSource{results: []error{errors.New("down")}}
	store := snapshot.NewStore()
	p := New(src, store, Config{Interval: time.Second})

	assert.Error(t, p.PollOnce(context.Background()))
	assert.Nil(t, store.Snapshot())
}

func TestFetchTimeoutBoundsEachPoll(t *testing.T) {
	src := &scriptedSource{block: make(chan struct{})}
	p := New(src, snapshot.NewStore(), Config{Interval: time.Second, FetchTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := p.PollOnce(context.Background())
	assert.ErrorIs(t, err, types.ErrPollFailure)
	assert.Less(t, time.Since(start), time.Second)
}

// ============================================================================
// Run loop
// ============================================================================

func TestRunPollsImmediatelyAndRepeatedly(t *testing.T) {
	src := &scriptedSource{jobs: sampleJobs()}
	sink := &recordingSink{}
	p := New(src, snapshot.NewStore(), Config{Interval: 10 * time.Millisecond}, WithSinks(sink))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunContinuesAfterFailures(t *testing.T) {
	boom := errors.New("boom")
	src := &scriptedSource{jobs: sampleJobs(), results: []error{boom, boom, boom}}
	sink := &recordingSink{}
	p := New(src, snapshot.NewStore(), Config{Interval: 5 * time.Millisecond}, WithSinks(sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, int(src.calls.Load()), 4)
}

func TestRunSkipsTicksWhileFetchInFlight(t *testing.T) {
	src := &scriptedSource{jobs: sampleJobs(), block: make(chan struct{})}
	p := New(src, snapshot.NewStore(), Config{Interval: 5 * time.Millisecond, FetchTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Skipped() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), src.calls.Load(), "no overlapping fetches")

	close(src.block)
	cancel()
	<-done
}
