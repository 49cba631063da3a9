package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/ChuLiYu/jobwatch/internal/client/view"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	selStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	tabStyle      = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	tabOnStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	barFillStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	classStyles = map[types.StateClass]lipgloss.Style{
		types.ClassQueued:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		types.ClassDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		types.ClassSeeding:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		types.ClassPaused:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		types.ClassError:       lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
)

var sectionTitles = map[types.Category]string{
	types.CategoryMovies:  "Movies",
	types.CategoryTVShows: "TV Shows",
	types.CategoryOther:   "Other",
}

// cardRenderer is the view.Renderer of the dashboard. It keeps the
// rendered lines of every card and only re-renders cards that a mutation
// touched.
type cardRenderer struct {
	width   int
	cards   map[types.JobID][]string
	dirty   map[types.JobID]bool
	applied int
	renders int

	offset  int
	restore int
	pending bool
}

func newCardRenderer() *cardRenderer {
	return &cardRenderer{
		cards: make(map[types.JobID][]string),
		dirty: make(map[types.JobID]bool),
	}
}

func (r *cardRenderer) Apply(m view.Mutation) {
	r.applied++
	switch m.Kind {
	case view.MutCreate, view.MutUpdate:
		r.dirty[m.ID] = true
	case view.MutRemove:
		delete(r.cards, m.ID)
		delete(r.dirty, m.ID)
	}
}

func (r *cardRenderer) ScrollOffset() int {
	return r.offset
}

func (r *cardRenderer) RestoreScroll(offset int) {
	r.restore, r.pending = offset, true
}

// takeRestore returns a pending scroll restore once.
func (r *cardRenderer) takeRestore() (int, bool) {
	if !r.pending {
		return 0, false
	}
	r.pending = false
	return r.restore, true
}

func (r *cardRenderer) setWidth(w int) {
	if w != r.width {
		r.width = w
		for id := range r.cards {
			r.dirty[id] = true
		}
	}
}

func (r *cardRenderer) card(el *view.Element) []string {
	lines, ok := r.cards[el.ID]
	if !ok || r.dirty[el.ID] {
		lines = renderCard(el, r.width)
		r.cards[el.ID] = lines
		delete(r.dirty, el.ID)
		r.renders++
	}
	return lines
}

// compose lays out the whole list. owners maps each content line to the
// card it belongs to, or "" for section headers and blank lines.
func (r *cardRenderer) compose(v *view.ViewState, selected types.JobID) (string, []types.JobID) {
	if v.Placeholder() {
		return mutedStyle.Render("  No active downloads."), []types.JobID{""}
	}

	var (
		b      strings.Builder
		owners []types.JobID
	)
	line := func(s string, owner types.JobID) {
		b.WriteString(s)
		b.WriteByte('\n')
		owners = append(owners, owner)
	}
	for _, s := range v.Sections() {
		if s.Hidden {
			continue
		}
		line(sectionStyle.Render(sectionTitles[s.Category])+mutedStyle.Render(" ("+strconv.Itoa(s.Count)+")"), "")
		for _, el := range s.Elements() {
			marker := "  "
			if el.ID == selected {
				marker = selStyle.Render("▌") + " "
			}
			for _, l := range r.card(el) {
				line(marker+l, el.ID)
			}
		}
		line("", "")
	}
	return strings.TrimRight(b.String(), "\n"), owners
}

func renderCard(el *view.Element, width int) []string {
	a := &el.Attrs
	if width <= 0 {
		width = 80
	}
	inner := width - 4

	style, ok := classStyles[types.StateClass(a.Get(view.AttrStateClass))]
	if !ok {
		style = mutedStyle
	}
	state := style.Render(a.Get(view.AttrStateLabel))
	nameWidth := inner - ansi.StringWidth(state) - 1
	if nameWidth < 8 {
		nameWidth = 8
	}
	name := ansi.Truncate(a.Get(view.AttrName), nameWidth, "…")
	pad := inner - ansi.StringWidth(name) - ansi.StringWidth(state)
	if pad < 1 {
		pad = 1
	}
	first := name + strings.Repeat(" ", pad) + state

	stats := strings.Join([]string{
		a.Get(view.AttrPercent),
		a.Get(view.AttrSize),
		"↓ " + a.Get(view.AttrDownRate),
		"↑ " + a.Get(view.AttrUpRate),
		"eta " + a.Get(view.AttrETA),
		a.Get(view.AttrSeedsPeers),
	}, "  ")
	second := progressBar(a.Get(view.AttrProgressWidth), 20) + " " + mutedStyle.Render(ansi.Truncate(stats, inner-21, "…"))

	lines := []string{first, second}
	if extra := a.Get(view.AttrEnrichment); extra != "" {
		lines = append(lines, mutedStyle.Render(ansi.Truncate(extra, inner, "…")))
	}
	return lines
}

// progressBar draws a bar from the percentage width attribute ("42.50").
func progressBar(width string, cells int) string {
	pct, _ := strconv.ParseFloat(width, 64)
	fill := int(pct/100*float64(cells) + 0.5)
	if fill > cells {
		fill = cells
	}
	return barFillStyle.Render(strings.Repeat("█", fill)) + barEmptyStyle.Render(strings.Repeat("░", cells-fill))
}
