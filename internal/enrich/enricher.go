// ============================================================================
// jobwatch Enricher
// ============================================================================
//
// Package: internal/enrich
// File: enricher.go
// Purpose: Attach poster, rating, genres and description to movie and TV
//          jobs before the snapshot is stored.
//
// Lookup order per job:
//   1. in-process memo (results already resolved this run)
//   2. Pebble cache (hits and misses, with TTLs)
//   3. TMDB, at most MaxRemotePerPoll calls per poll so a large first
//      snapshot cannot stall the poll loop; the rest resolve on later ticks
//
// Only the poller calls Enrich, so readers never wait on a lookup.
//
// ============================================================================

package enrich

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// Config tunes the enricher.
type Config struct {
	MaxRemotePerPoll int // default 3
}

// Enricher implements poller.Enricher.
type Enricher struct {
	lookup  Lookup
	cache   *Cache
	metrics *metrics.Collector
	cfg     Config

	mu   sync.Mutex
	memo map[string]*types.Enrichment
}

// New creates an enricher. cache and m may be nil.
func New(lookup Lookup, cache *Cache, m *metrics.Collector, cfg Config) *Enricher {
	if cfg.MaxRemotePerPoll <= 0 {
		cfg.MaxRemotePerPoll = 3
	}
	return &Enricher{
		lookup:  lookup,
		cache:   cache,
		metrics: m,
		cfg:     cfg,
		memo:    make(map[string]*types.Enrichment),
	}
}

// Enrich sets Enrichment on every movie or TV job it can resolve. Jobs that
// already carry enrichment are left alone.
func (e *Enricher) Enrich(ctx context.Context, jobs []types.JobRecord) []types.JobRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	budget := e.cfg.MaxRemotePerPoll
	for i := range jobs {
		j := &jobs[i]
		if j.Enrichment != nil || j.Category == types.CategoryOther {
			continue
		}
		parsed := ParseTitle(j.Name)
		if parsed.Title == "" {
			continue
		}
		if j.Category == types.CategoryTVShows && parsed.Type == MediaMovie {
			parsed.Type = MediaTV
		}
		key := parsed.NormalizeKey()

		if res, ok := e.memo[key]; ok {
			j.Enrichment = res
			continue
		}
		if res, ok := e.fromCache(key); ok {
			e.memo[key] = res
			j.Enrichment = res
			continue
		}
		if budget == 0 {
			continue
		}
		budget--

		res, err := e.lookup.Find(ctx, parsed)
		if err != nil {
			log.Debug("Metadata lookup failed", "title", parsed.Title, "error", err)
			continue
		}
		e.metrics.RecordEnrichLookup("remote", res != nil)
		e.memo[key] = res
		if e.cache != nil {
			if err := e.cache.Put(key, res); err != nil {
				log.Warn("Metadata cache write failed", "error", err)
			}
		}
		j.Enrichment = res
	}
	return jobs
}

func (e *Enricher) fromCache(key string) (*types.Enrichment, bool) {
	if e.cache == nil {
		return nil, false
	}
	res, found, err := e.cache.Get(key)
	if err != nil {
		log.Warn("Metadata cache read failed", "error", err)
		return nil, false
	}
	if found {
		e.metrics.RecordEnrichLookup("cache", res != nil)
	}
	return res, found
}
