// ============================================================================
// jobwatch Interaction Router
// ============================================================================
//
// Package: internal/client/gesture
// File: router.go
// Purpose: Tell a tap on a job card from a scroll that started on one.
//
// Per pointer:
//
//   Idle ──press──► Active ──release──► Tap        ≤ TapMaxDuration,
//                     │                            moved < TapMaxMovement,
//                     │                            no scroll flagged
//                     │──moved > ScrollThreshold──► Scroll (target cleared)
//                     └──release otherwise───────► Cancelled
//
// Router-wide:
//   - A page scroll closes any open menu and flags scrolling.
//   - A click arriving within ClickSuppress of a touch release is the
//     synthetic twin of that touch and is ignored.
//
// All decisions compare timestamps passed in by the caller; nothing here
// runs a timer.
//
// ============================================================================

package gesture

import (
	"math"
	"sync"
	"time"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// Phase is the state of one pointer.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseTap
	PhaseScroll
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhaseTap:
		return "tap"
	case PhaseScroll:
		return "scroll"
	case PhaseCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Point is a position in pixels.
type Point struct {
	X, Y float64
}

func (p Point) dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Target is the card a pointer went down on.
type Target struct {
	ID    types.JobID
	State types.JobState
}

// PointerID identifies one active touch or the mouse.
type PointerID int

// PointerKind distinguishes touch input from mouse input.
type PointerKind int

const (
	Touch PointerKind = iota
	Mouse
)

// Config holds the gesture thresholds.
type Config struct {
	TapMaxDuration  time.Duration // default 300ms
	TapMaxMovement  float64       // default 15px
	ScrollThreshold float64       // default 10px
	ClickSuppress   time.Duration // default 500ms
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		TapMaxDuration:  300 * time.Millisecond,
		TapMaxMovement:  15,
		ScrollThreshold: 10,
		ClickSuppress:   500 * time.Millisecond,
	}
}

// OpenMenu is the one actionable outcome of the router.
type OpenMenu struct {
	Target  Target
	Actions []Action
	At      Point
}

type pointer struct {
	kind   PointerKind
	start  Point
	began  time.Time
	target *Target
	phase  Phase
}

// Router runs the per-pointer state machines.
type Router struct {
	cfg Config

	mu           sync.Mutex
	pointers     map[PointerID]*pointer
	scrolling    bool
	touchRelease time.Time
	menu         *OpenMenu
}

// NewRouter creates a router. Zero fields of cfg take the defaults.
func NewRouter(cfg Config) *Router {
	def := DefaultConfig()
	if cfg.TapMaxDuration <= 0 {
		cfg.TapMaxDuration = def.TapMaxDuration
	}
	if cfg.TapMaxMovement <= 0 {
		cfg.TapMaxMovement = def.TapMaxMovement
	}
	if cfg.ScrollThreshold <= 0 {
		cfg.ScrollThreshold = def.ScrollThreshold
	}
	if cfg.ClickSuppress <= 0 {
		cfg.ClickSuppress = def.ClickSuppress
	}
	return &Router{cfg: cfg, pointers: make(map[PointerID]*pointer)}
}

// Press starts tracking a pointer. target is nil when the press did not
// land on a card.
func (r *Router) Press(id PointerID, kind PointerKind, at Point, now time.Time, target *Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pointers) == 0 {
		r.scrolling = false
	}
	var t *Target
	if target != nil {
		cp := *target
		t = &cp
	}
	r.pointers[id] = &pointer{kind: kind, start: at, began: now, target: t, phase: PhaseActive}
}

// Move reports pointer motion. It returns the pointer's phase afterwards.
func (r *Router) Move(id PointerID, at Point) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pointers[id]
	if !ok {
		return PhaseIdle
	}
	if p.phase == PhaseActive && p.start.dist(at) > r.cfg.ScrollThreshold {
		p.phase = PhaseScroll
		p.target = nil
		r.scrolling = true
	}
	return p.phase
}

// Release ends a pointer. It returns the menu to open on a tap, or nil.
func (r *Router) Release(id PointerID, at Point, now time.Time) (Phase, *OpenMenu) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pointers[id]
	if !ok {
		return PhaseIdle, nil
	}
	delete(r.pointers, id)
	if p.kind == Touch {
		r.touchRelease = now
	}

	if p.phase == PhaseScroll {
		return PhaseScroll, nil
	}
	tap := p.target != nil &&
		!r.scrolling &&
		now.Sub(p.began) <= r.cfg.TapMaxDuration &&
		p.start.dist(at) < r.cfg.TapMaxMovement
	if !tap {
		return PhaseCancelled, nil
	}
	r.menu = &OpenMenu{Target: *p.target, Actions: Actions(p.target.State), At: at}
	return PhaseTap, r.menu
}

// CancelPointer drops a pointer without an outcome.
func (r *Router) CancelPointer(id PointerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pointers, id)
}

// Click handles a pointer click. Clicks within ClickSuppress of a touch
// release are ignored.
func (r *Router) Click(at Point, now time.Time, target *Target) *OpenMenu {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.touchRelease.IsZero() && now.Sub(r.touchRelease) < r.cfg.ClickSuppress {
		return nil
	}
	if target == nil || r.scrolling {
		return nil
	}
	r.menu = &OpenMenu{Target: *target, Actions: Actions(target.State), At: at}
	return r.menu
}

// Open opens the menu for target directly, as keyboard activation does.
// No gesture state is consulted.
func (r *Router) Open(at Point, target Target) *OpenMenu {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.menu = &OpenMenu{Target: target, Actions: Actions(target.State), At: at}
	return r.menu
}

// PageScroll closes any open menu and flags scrolling. It reports whether
// a menu was closed.
func (r *Router) PageScroll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrolling = true
	for _, p := range r.pointers {
		if p.phase == PhaseActive {
			p.phase = PhaseScroll
			p.target = nil
		}
	}
	closed := r.menu != nil
	r.menu = nil
	return closed
}

// Menu returns the open menu, if any.
func (r *Router) Menu() *OpenMenu {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.menu
}

// DismissMenu closes the open menu.
func (r *Router) DismissMenu() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.menu = nil
}

// Scrolling reports whether a scroll is flagged.
func (r *Router) Scrolling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scrolling
}
