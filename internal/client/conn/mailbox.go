package conn

import (
	"context"
	"sync"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// Event is one item taken from a Mailbox. Exactly one field is set.
type Event struct {
	Status   *Status
	Snapshot *types.Snapshot
}

// Mailbox is a single-consumer queue between the channel goroutine and the
// UI loop. Status events are kept in order; snapshots are latest-wins, so
// an unconsumed snapshot is replaced by a newer one and reconciliation
// never sees two snapshots from one pass.
type Mailbox struct {
	mu         sync.Mutex
	statuses   []Status
	snapshot   *types.Snapshot
	superseded uint64
	ready      chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

func (mb *Mailbox) signal() {
	select {
	case mb.ready <- struct{}{}:
	default:
	}
}

// PutStatus appends a status event.
func (mb *Mailbox) PutStatus(st Status) {
	mb.mu.Lock()
	mb.statuses = append(mb.statuses, st)
	mb.mu.Unlock()
	mb.signal()
}

// PutSnapshot replaces any pending snapshot.
func (mb *Mailbox) PutSnapshot(snap *types.Snapshot) {
	mb.mu.Lock()
	if mb.snapshot != nil {
		mb.superseded++
	}
	mb.snapshot = snap
	mb.mu.Unlock()
	mb.signal()
}

// Superseded returns how many snapshots were replaced before being taken.
func (mb *Mailbox) Superseded() uint64 {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.superseded
}

// TryNext takes the next event without waiting. Pending statuses come
// before the pending snapshot.
func (mb *Mailbox) TryNext() (Event, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.statuses) > 0 {
		st := mb.statuses[0]
		mb.statuses = mb.statuses[1:]
		return Event{Status: &st}, true
	}
	if mb.snapshot != nil {
		snap := mb.snapshot
		mb.snapshot = nil
		return Event{Snapshot: snap}, true
	}
	return Event{}, false
}

// Next waits for an event or ctx.
func (mb *Mailbox) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := mb.TryNext(); ok {
			return ev, nil
		}
		select {
		case <-mb.ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
