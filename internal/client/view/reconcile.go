// ============================================================================
// jobwatch View Reconciler
// ============================================================================
//
// Package: internal/client/view
// File: reconcile.go
// Purpose: Turn (snapshot, view state, filter) into the minimal set of
//          mutations a renderer must apply.
//
// Pass:
//   1. Capture the scroll offset.
//   2. Partition by category, drop what the filter hides, stable sort each
//      category by addedAt, newest first.
//   3. Drop cards whose id left the filtered snapshot, and lift out cards
//      whose category changed. Survivors keep their relative order, so
//      removing one card never repositions the others.
//   4. Per category in display order, per record: update changed
//      attributes of an existing card, move it in from another category,
//      reposition it, or create it at its target index.
//   5. Show/hide sections and update counts that changed.
//   6. Restore the scroll offset on the next render.
//
// The whole list is only torn down on the empty <-> non-empty swap of the
// placeholder. A pass over an unchanged snapshot emits nothing.
//
// ============================================================================

package view

import (
	"sort"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// MutationKind is the kind of a view mutation.
type MutationKind int

const (
	MutCreate MutationKind = iota
	MutUpdate
	MutMove
	MutReposition
	MutRemove
	MutShowSection
	MutHideSection
	MutSetCount
	MutShowPlaceholder
	MutHidePlaceholder
)

var mutationNames = [...]string{
	MutCreate:          "create",
	MutUpdate:          "update",
	MutMove:            "move",
	MutReposition:      "reposition",
	MutRemove:          "remove",
	MutShowSection:     "show-section",
	MutHideSection:     "hide-section",
	MutSetCount:        "set-count",
	MutShowPlaceholder: "show-placeholder",
	MutHidePlaceholder: "hide-placeholder",
}

func (k MutationKind) String() string {
	if int(k) < len(mutationNames) {
		return mutationNames[k]
	}
	return "unknown"
}

// Mutation is one change to the rendered view.
type Mutation struct {
	Kind    MutationKind
	ID      types.JobID    // card mutations
	Section types.Category // create, move, section and count mutations
	Index   int            // create, move, reposition
	Attr    Attr           // update
	Value   string         // update
	Count   int            // set-count
}

// Renderer applies mutations. ScrollOffset and RestoreScroll let the
// reconciler keep the user's position across a pass; RestoreScroll is
// expected to take effect on the renderer's next frame.
type Renderer interface {
	Apply(m Mutation)
	ScrollOffset() int
	RestoreScroll(offset int)
}

// Reconciler owns a ViewState and keeps a Renderer in step with it.
type Reconciler struct {
	state    *ViewState
	renderer Renderer
}

// NewReconciler returns a reconciler over an empty view.
func NewReconciler(r Renderer) *Reconciler {
	return &Reconciler{state: NewViewState(), renderer: r}
}

// State exposes the current view.
func (rc *Reconciler) State() *ViewState {
	return rc.state
}

// SetFilter switches the filter and re-applies the last snapshot.
func (rc *Reconciler) SetFilter(f Filter) []Mutation {
	rc.state.filter = f
	if rc.state.last == nil {
		return nil
	}
	return rc.Apply(rc.state.last)
}

// Apply runs one reconciliation pass and returns the mutations emitted.
func (rc *Reconciler) Apply(snap *types.Snapshot) []Mutation {
	v := rc.state
	offset := 0
	if rc.renderer != nil {
		offset = rc.renderer.ScrollOffset()
	}

	var muts []Mutation
	emit := func(m Mutation) {
		muts = append(muts, m)
		if rc.renderer != nil {
			rc.renderer.Apply(m)
		}
	}

	target := partition(snap, v.filter)
	total := 0
	wanted := make(map[types.JobID]types.Category)
	for i, recs := range target {
		total += len(recs)
		for _, r := range recs {
			wanted[r.ID] = types.Categories[i]
		}
	}

	if total == 0 && !v.placeholder {
		// Non-empty -> empty: clear everything, show the placeholder.
		for _, s := range v.sections {
			for _, el := range s.elements {
				delete(v.elements, el.ID)
				emit(Mutation{Kind: MutRemove, ID: el.ID})
			}
			s.elements = nil
		}
		emit(Mutation{Kind: MutShowPlaceholder})
		v.placeholder = true
	}
	if total > 0 && v.placeholder {
		emit(Mutation{Kind: MutHidePlaceholder})
		v.placeholder = false
	}

	// Drop stale cards and lift out the ones changing category.
	for _, s := range v.sections {
		kept := s.elements[:0]
		for _, el := range s.elements {
			cat, ok := wanted[el.ID]
			switch {
			case !ok:
				delete(v.elements, el.ID)
				emit(Mutation{Kind: MutRemove, ID: el.ID})
			case cat != s.Category:
				// Re-inserted below with a move.
			default:
				kept = append(kept, el)
			}
		}
		clear(s.elements[len(kept):])
		s.elements = kept
	}

	for i, recs := range target {
		s := v.sections[i]
		for idx, rec := range recs {
			el, ok := v.elements[rec.ID]
			if !ok {
				el = &Element{ID: rec.ID, Record: rec, Attrs: RenderAttrs(rec), Section: s.Category}
				v.elements[rec.ID] = el
				s.insertAt(idx, el)
				emit(Mutation{Kind: MutCreate, ID: rec.ID, Section: s.Category, Index: idx})
				continue
			}

			next := RenderAttrs(rec)
			for a := Attr(0); a < numAttrs; a++ {
				if el.Attrs[a] != next[a] {
					emit(Mutation{Kind: MutUpdate, ID: rec.ID, Attr: a, Value: next[a]})
				}
			}
			el.Attrs = next
			el.Record = rec

			if el.Section != s.Category {
				el.Section = s.Category
				s.insertAt(idx, el)
				emit(Mutation{Kind: MutMove, ID: rec.ID, Section: s.Category, Index: idx})
				continue
			}
			if cur := s.indexOf(el); cur != idx {
				s.removeAt(cur)
				s.insertAt(idx, el)
				emit(Mutation{Kind: MutReposition, ID: rec.ID, Index: idx})
			}
		}
	}

	for i, s := range v.sections {
		n := len(target[i])
		if n != s.Count {
			s.Count = n
			emit(Mutation{Kind: MutSetCount, Section: s.Category, Count: n})
		}
		switch hidden := n == 0; {
		case hidden && !s.Hidden:
			s.Hidden = true
			emit(Mutation{Kind: MutHideSection, Section: s.Category})
		case !hidden && s.Hidden:
			s.Hidden = false
			emit(Mutation{Kind: MutShowSection, Section: s.Category})
		}
	}

	v.last = snap
	if rc.renderer != nil {
		rc.renderer.RestoreScroll(offset)
	}
	return muts
}

// partition groups the records the filter admits by category and sorts
// each group by addedAt, newest first, keeping snapshot order on ties. A
// repeated id keeps its first occurrence.
func partition(snap *types.Snapshot, f Filter) [len(types.Categories)][]types.JobRecord {
	var out [len(types.Categories)][]types.JobRecord
	if snap == nil {
		return out
	}
	seen := make(map[types.JobID]bool, len(snap.Jobs))
	for _, r := range snap.Jobs {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		r.Category = types.ParseCategory(string(r.Category))
		if !f.Admits(r.Category) {
			continue
		}
		i := r.Category.Index()
		out[i] = append(out[i], r)
	}
	for _, recs := range out {
		sort.SliceStable(recs, func(a, b int) bool { return recs[a].AddedAt > recs[b].AddedAt })
	}
	return out
}
