package enrich

// ============================================================================
// Metadata cache
// Pebble-backed store of lookup results keyed by xxh3(normalized title).
// Misses are cached too, with a shorter lifetime, so unknown release names
// do not hit TMDB on every poll.
// ============================================================================

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/zeebo/xxh3"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

const cacheKeyPrefix = "tmdb:"

// CacheTTL controls how long hits and misses stay valid.
type CacheTTL struct {
	Hit  time.Duration
	Miss time.Duration
}

// Cache is the persistent lookup cache.
type Cache struct {
	db  *pebble.DB
	ttl CacheTTL
	now func() time.Time
}

type cacheValue struct {
	Hit        bool              `json:"hit"`
	StoredAt   int64             `json:"storedAt"`
	Enrichment *types.Enrichment `json:"enrichment,omitempty"`
}

// OpenCache opens (or creates) the cache directory at path.
func OpenCache(path string, ttl CacheTTL) (*Cache, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("enrich cache: ensure directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("enrich cache: open: %w", err)
	}
	if ttl.Hit <= 0 {
		ttl.Hit = 30 * 24 * time.Hour
	}
	if ttl.Miss <= 0 {
		ttl.Miss = 24 * time.Hour
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// Close flushes and closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// CacheKey hashes a normalized title key.
func CacheKey(normalized string) []byte {
	key := make([]byte, len(cacheKeyPrefix)+8)
	copy(key, cacheKeyPrefix)
	binary.BigEndian.PutUint64(key[len(cacheKeyPrefix):], xxh3.HashString(normalized))
	return key
}

// Get returns a cached result. found is false when nothing valid is stored;
// a found miss returns (nil, true, nil).
func (c *Cache) Get(normalized string) (*types.Enrichment, bool, error) {
	raw, closer, err := c.db.Get(CacheKey(normalized))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("enrich cache: get: %w", err)
	}
	defer closer.Close()

	var v cacheValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("enrich cache: decode: %w", err)
	}
	ttl := c.ttl.Miss
	if v.Hit {
		ttl = c.ttl.Hit
	}
	if c.now().Sub(time.Unix(v.StoredAt, 0)) > ttl {
		return nil, false, nil
	}
	return v.Enrichment, true, nil
}

// Put stores e (nil records a miss).
func (c *Cache) Put(normalized string, e *types.Enrichment) error {
	data, err := json.Marshal(cacheValue{
		Hit:        e != nil,
		StoredAt:   c.now().Unix(),
		Enrichment: e,
	})
	if err != nil {
		return fmt.Errorf("enrich cache: encode: %w", err)
	}
	if err := c.db.Set(CacheKey(normalized), data, pebble.NoSync); err != nil {
		return fmt.Errorf("enrich cache: set: %w", err)
	}
	return nil
}
