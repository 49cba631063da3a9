package view

import (
	"fmt"
	"strings"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// Filter selects which category the view shows.
type Filter string

const (
	FilterAll     Filter = "all"
	FilterMovies  Filter = Filter(types.CategoryMovies)
	FilterTVShows Filter = Filter(types.CategoryTVShows)
	FilterOther   Filter = Filter(types.CategoryOther)
)

// Filters is the cycle order of the filter tabs.
var Filters = [...]Filter{FilterAll, FilterMovies, FilterTVShows, FilterOther}

// ParseFilter accepts "all" or a category name.
func ParseFilter(raw string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterMovies, FilterTVShows, FilterOther:
		return f, nil
	}
	return "", fmt.Errorf("unknown filter %q", raw)
}

// Admits reports whether records of category c pass the filter.
func (f Filter) Admits(c types.Category) bool {
	return f == FilterAll || f == "" || Filter(c) == f
}

// Next returns the filter after f in tab order.
func (f Filter) Next() Filter {
	for i, x := range Filters {
		if x == f {
			return Filters[(i+1)%len(Filters)]
		}
	}
	return FilterAll
}

// Element is the rendered card of one job.
type Element struct {
	ID      types.JobID
	Record  types.JobRecord
	Attrs   Attrs
	Section types.Category
}

// Section is one category block of the view.
type Section struct {
	Category types.Category
	Count    int
	Hidden   bool
	elements []*Element
}

// IDs returns the element ids in display order.
func (s *Section) IDs() []types.JobID {
	ids := make([]types.JobID, len(s.elements))
	for i, el := range s.elements {
		ids[i] = el.ID
	}
	return ids
}

// Elements returns the cards in display order. The slice must not be
// modified.
func (s *Section) Elements() []*Element {
	return s.elements
}

func (s *Section) indexOf(el *Element) int {
	for i, x := range s.elements {
		if x == el {
			return i
		}
	}
	return -1
}

func (s *Section) removeAt(i int) {
	s.elements = append(s.elements[:i], s.elements[i+1:]...)
}

func (s *Section) insertAt(i int, el *Element) {
	if i > len(s.elements) {
		i = len(s.elements)
	}
	s.elements = append(s.elements, nil)
	copy(s.elements[i+1:], s.elements[i:])
	s.elements[i] = el
}

// ViewState is the keyed set of rendered cards. It is owned by one
// Reconciler and only changes inside a reconciliation pass.
type ViewState struct {
	elements    map[types.JobID]*Element
	sections    [len(types.Categories)]*Section
	filter      Filter
	last        *types.Snapshot
	placeholder bool
}

// NewViewState returns an empty view showing the placeholder.
func NewViewState() *ViewState {
	v := &ViewState{
		elements:    make(map[types.JobID]*Element),
		filter:      FilterAll,
		placeholder: true,
	}
	for i, c := range types.Categories {
		v.sections[i] = &Section{Category: c, Hidden: true}
	}
	return v
}

// Element looks a card up by id.
func (v *ViewState) Element(id types.JobID) (*Element, bool) {
	el, ok := v.elements[id]
	return el, ok
}

// Section returns the block of category c.
func (v *ViewState) Section(c types.Category) *Section {
	return v.sections[c.Index()]
}

// Sections returns the blocks in display order.
func (v *ViewState) Sections() []*Section {
	return v.sections[:]
}

// Len returns the number of cards.
func (v *ViewState) Len() int {
	return len(v.elements)
}

// Filter returns the active filter.
func (v *ViewState) Filter() Filter {
	return v.filter
}

// Last returns the last applied snapshot.
func (v *ViewState) Last() *types.Snapshot {
	return v.last
}

// Placeholder reports whether the empty-view placeholder is shown.
func (v *ViewState) Placeholder() bool {
	return v.placeholder
}

// Order returns every card id, section by section.
func (v *ViewState) Order() []types.JobID {
	var ids []types.JobID
	for _, s := range v.sections {
		ids = append(ids, s.IDs()...)
	}
	return ids
}
