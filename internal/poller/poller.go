// ============================================================================
// jobwatch Snapshot Poller
// ============================================================================
//
// Package: internal/poller
// File: poller.go
// Purpose: Fetch the job snapshot on a fixed interval and publish it.
//
// Loop:
//   ticker ──► tick ──► (fetch in flight? skip) ──► fetch with timeout
//                                                    │
//                        failure: log + count, keep last-good, no publish
//                        success: enrich ─► store.Put ─► sinks.Publish
//
// Rules:
//   - A failure never stops the loop and never publishes an error state.
//   - No backoff: the next attempt is simply the next tick.
//   - Ticks are non-overlapping. A tick that fires while a fetch is still
//     running is dropped, not queued.
//   - One poll runs immediately on start.
//
// ============================================================================

package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/internal/snapshot"
	"github.com/ChuLiYu/jobwatch/internal/source"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// Sink receives every successful snapshot. Publish must not block.
type Sink interface {
	Publish(snap *types.Snapshot)
}

// Enricher attaches metadata to records before they are stored.
type Enricher interface {
	Enrich(ctx context.Context, jobs []types.JobRecord) []types.JobRecord
}

// Config controls the loop timing.
type Config struct {
	Interval     time.Duration // default 2s
	FetchTimeout time.Duration // default Interval
}

// Poller is the single writer of the snapshot store.
type Poller struct {
	src      source.SnapshotSource
	store    *snapshot.Store
	sinks    []Sink
	enricher Enricher
	metrics  *metrics.Collector
	cfg      Config
	now      func() time.Time

	inFlight atomic.Bool
	skipped  atomic.Uint64
	wg       sync.WaitGroup
}

// Option customizes a Poller.
type Option func(*Poller)

// WithSinks adds publish targets.
func WithSinks(sinks ...Sink) Option {
	return func(p *Poller) { p.sinks = append(p.sinks, sinks...) }
}

// WithEnricher sets the metadata enricher.
func WithEnricher(e Enricher) Option {
	return func(p *Poller) { p.enricher = e }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Poller) { p.metrics = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a poller. It does not start polling until Run.
func New(src source.SnapshotSource, store *snapshot.Store, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = cfg.Interval
	}
	p := &Poller{
		src:   src,
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled and then waits for an in-flight fetch
// to finish. It always returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	log.Info("Poller started", "interval", p.cfg.Interval, "fetch_timeout", p.cfg.FetchTimeout)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			log.Info("Poller stopped", "skipped_ticks", p.skipped.Load())
			return ctx.Err()
		case <-ticker.C:
			p.trigger(ctx)
		}
	}
}

// trigger starts a poll unless one is already running.
func (p *Poller) trigger(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		log.Debug("Poll tick skipped, previous fetch still running")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		_ = p.PollOnce(ctx)
	}()
}

// Skipped returns how many ticks were dropped because a fetch was running.
func (p *Poller) Skipped() uint64 {
	return p.skipped.Load()
}

// PollOnce performs a single fetch-store-publish cycle. On failure the
// store is left untouched and the returned error wraps types.ErrPollFailure.
func (p *Poller) PollOnce(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	start := p.now()
	jobs, err := p.src.FetchSnapshot(fetchCtx)
	elapsed := p.now().Sub(start)
	if err != nil {
		p.metrics.RecordPollFailure(elapsed)
		// Shutdown cancels the fetch; that is not worth a warning.
		if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
			log.Warn("Snapshot poll failed, keeping last good snapshot",
				"error", err,
				"duration", elapsed)
		}
		return fmt.Errorf("%w: %v", types.ErrPollFailure, err)
	}

	for i := range jobs {
		jobs[i] = jobs[i].Normalize()
	}
	if p.enricher != nil {
		jobs = p.enricher.Enrich(ctx, jobs)
	}

	fetchedAt := p.now()
	snap := &types.Snapshot{Jobs: jobs, FetchedAt: fetchedAt}
	entry, changed := p.store.Put(snap)
	p.metrics.RecordPollSuccess(elapsed, len(jobs), fetchedAt)
	log.Debug("Snapshot polled",
		"jobs", len(jobs),
		"seq", entry.Seq,
		"changed", changed,
		"duration", elapsed)

	for _, s := range p.sinks {
		s.Publish(snap)
	}
	return nil
}
