package snapshot

// ============================================================================
// Last-good snapshot store
//
// Holds at most one current snapshot. The poller is the only writer; HTTP
// handlers, the broadcaster and newly admitted channels read concurrently
// without taking a lock.
//
// A failed poll never reaches the store, so whatever it holds is the most
// recent successful snapshot, possibly stale.
// ============================================================================

import (
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/xxh3"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is an immutable stored snapshot. Callers must not modify Snapshot.
type Entry struct {
	Snapshot    *types.Snapshot
	Seq         uint64 // increments on every Put
	Fingerprint uint64 // xxh3 of the encoded job list
}

// Store is the last-good snapshot holder.
type Store struct {
	cur atomic.Pointer[Entry]
	seq atomic.Uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Put replaces the current snapshot and reports whether its content differs
// from the previous one.
func (s *Store) Put(snap *types.Snapshot) (Entry, bool) {
	e := &Entry{
		Snapshot:    snap,
		Seq:         s.seq.Add(1),
		Fingerprint: Fingerprint(snap),
	}
	prev := s.cur.Swap(e)
	changed := prev == nil || prev.Fingerprint != e.Fingerprint
	return *e, changed
}

// Current returns the current entry, or false before the first Put.
func (s *Store) Current() (Entry, bool) {
	e := s.cur.Load()
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns the current snapshot or nil.
func (s *Store) Snapshot() *types.Snapshot {
	if e := s.cur.Load(); e != nil {
		return e.Snapshot
	}
	return nil
}

// Fingerprint hashes the job list of snap. FetchedAt is ignored so two
// polls returning identical jobs share a fingerprint.
func Fingerprint(snap *types.Snapshot) uint64 {
	if snap == nil {
		return 0
	}
	data, err := json.Marshal(snap.Jobs)
	if err != nil {
		return 0
	}
	return xxh3.Hash(data)
}
