// ============================================================================
// jobwatch Broadcaster
// ============================================================================
//
// Package: internal/broadcast
// File: hub.go
// Purpose: Fan the current snapshot out to every admitted push channel.
//
// Delivery model:
//   - Each subscription owns a one-slot outbox.
//   - Publish encodes the event once and offers it to every outbox without
//     blocking. If a slot still holds an older event, that event is replaced
//     and counted as dropped; missed ticks are never queued, so a slow
//     subscriber always reads the newest snapshot.
//   - A new subscription gets the current snapshot in its outbox at once.
//   - Close marks every subscription as server-closed so transports send an
//     explicit close to their clients.
//
// The hub never calls into a transport; transports drain their own outbox
// on their own goroutine, so a slow consumer cannot stall the poller.
//
// ============================================================================

package broadcast

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// Subscription is one admitted channel's view of the hub.
type Subscription struct {
	ID        string
	Transport string

	mu        sync.Mutex
	seq       uint64 // sequence of the newest event offered
	outbox    chan *Event
	closed    chan struct{}
	closeOnce sync.Once
}

// Events returns the outbox. At most one event is ever pending.
func (s *Subscription) Events() <-chan *Event {
	return s.outbox
}

// Closed is closed when the server shuts the subscription down.
func (s *Subscription) Closed() <-chan struct{} {
	return s.closed
}

// offer puts ev in the outbox, replacing a pending event. Events older than
// one already offered are ignored. It reports whether a pending event was
// replaced.
func (s *Subscription) offer(ev *Event, seq uint64) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.seq {
		return false
	}
	s.seq = seq
	select {
	case <-s.outbox:
		replaced = true
	default:
	}
	s.outbox <- ev
	return replaced
}

func (s *Subscription) shut() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Hub is the broadcaster.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	current *Event
	seq     uint64
	closed  bool
	metrics *metrics.Collector
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Collector) *Hub {
	return &Hub{
		subs:    make(map[string]*Subscription),
		metrics: m,
	}
}

// Publish offers snap to every subscription. It never blocks.
func (h *Hub) Publish(snap *types.Snapshot) {
	ev := NewEvent(snap)

	h.mu.Lock()
	h.current = ev
	h.seq++
	seq := h.seq
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	dropped := 0
	for _, s := range subs {
		if s.offer(ev, seq) {
			dropped++
			h.metrics.RecordDelivery(false)
		}
		h.metrics.RecordDelivery(true)
	}
	if dropped > 0 {
		log.Debug("Superseded snapshots dropped for busy channels", "dropped", dropped, "channels", len(subs))
	}
}

// Subscribe admits a new channel. Authentication happens before this call.
// It returns false once the hub is closed.
func (h *Hub) Subscribe(transport string) (*Subscription, bool) {
	s := &Subscription{
		ID:        uuid.NewString(),
		Transport: transport,
		outbox:    make(chan *Event, 1),
		closed:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false
	}
	h.subs[s.ID] = s
	cur, seq := h.current, h.seq
	n := len(h.subs)
	h.mu.Unlock()

	if cur != nil {
		s.offer(cur, seq)
	}
	h.metrics.ChannelOpened(transport)
	log.Info("Channel admitted", "id", s.ID, "transport", transport, "channels", n)
	return s, true
}

// Unsubscribe removes s. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s.ID]
	delete(h.subs, s.ID)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.metrics.ChannelClosed(s.Transport)
		log.Info("Channel removed", "id", s.ID, "transport", s.Transport, "channels", n)
	}
}

// Len returns the number of subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close signals every subscription that the server is going away and
// rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.shut()
	}
}
