// ============================================================================
// jobwatch Terminal Dashboard
// ============================================================================
//
// Package: internal/client/tui
// File: model.go
// Purpose: Bubble Tea front end over the client engine.
//
// Event flow:
//   conn.Manager ──► Mailbox ──waitEvent──► Update ──► Reconciler ──► cards
//   mouse ──► gesture.Router ──► action menu ──► command client (tea.Cmd)
//
// Update is the only place reconciliation runs, one snapshot per message,
// so two snapshots never interleave in one pass. Commands are fire and
// forget: their outcome becomes a notice and never touches the channel.
//
// ============================================================================

package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/ChuLiYu/jobwatch/internal/client/conn"
	"github.com/ChuLiYu/jobwatch/internal/client/gesture"
	"github.com/ChuLiYu/jobwatch/internal/client/view"
	"github.com/ChuLiYu/jobwatch/internal/source"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// Terminal cells are mapped to nominal pixels so the gesture thresholds
// keep their meaning.
const (
	cellWidthPx  = 8
	cellHeightPx = 16
	headerLines  = 2
	footerLines  = 2
)

const unauthorizedNotice = "Unauthorized. Open jobwatch through the authorized entry point."

// actionPriority tags file priority results; it is not a menu entry.
const actionPriority gesture.Action = "priority"

type mode int

const (
	modeBrowse mode = iota
	modeMenu
	modeFiles
	modeConfirmDelete
)

type noticeKind int

const (
	noticeNone noticeKind = iota
	noticeInfo
	noticeError
	noticeBlocking
)

type notice struct {
	kind noticeKind
	text string
}

type eventMsg struct {
	ev conn.Event
}

type stoppedMsg struct {
	err error
}

type commandMsg struct {
	action gesture.Action
	id     types.JobID
	err    error
}

type filesMsg struct {
	id    types.JobID
	files []types.FileEntry
	err   error
}

type filesPane struct {
	id     types.JobID
	name   string
	files  []types.FileEntry
	cursor int
}

// Options wires the dashboard to the client engine.
type Options struct {
	Mailbox  *conn.Mailbox
	Commands source.CommandAPI
	Reload   func() // restarts the connection manager after Failed
	Filter   view.Filter
	Now      func() time.Time
}

// Model is the Bubble Tea model of the dashboard.
type Model struct {
	ctx      context.Context
	mailbox  *conn.Mailbox
	commands source.CommandAPI
	reload   func()
	now      func() time.Time

	rc     *view.Reconciler
	cards  *cardRenderer
	router *gesture.Router

	vp      viewport.Model
	spin    spinner.Model
	status  conn.Status
	notice  notice
	mode    mode
	width   int
	height  int
	updated time.Time

	selected types.JobID
	owners   []types.JobID

	menu       *gesture.OpenMenu
	menuCursor int
	files      filesPane
}

// New builds the model. ctx bounds the mailbox wait and every command.
func New(ctx context.Context, opts Options) Model {
	cards := newCardRenderer()
	rc := view.NewReconciler(cards)
	if opts.Filter != "" {
		rc.SetFilter(opts.Filter)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:      ctx,
		mailbox:  opts.Mailbox,
		commands: opts.Commands,
		reload:   opts.Reload,
		now:      now,
		rc:       rc,
		cards:    cards,
		router:   gesture.NewRouter(gesture.Config{}),
		vp:       viewport.New(80, 20),
		spin:     sp,
		status:   conn.Status{State: conn.StateDisconnected},
	}
	m.refresh()
	return m
}

func waitEvent(ctx context.Context, mb *conn.Mailbox) tea.Cmd {
	return func() tea.Msg {
		ev, err := mb.Next(ctx)
		if err != nil {
			return stoppedMsg{err: err}
		}
		return eventMsg{ev: ev}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.ctx, m.mailbox), m.spin.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = max(msg.Height-headerLines-footerLines, 1)
		m.cards.setWidth(msg.Width - 2)
		m.refresh()
		m.syncMenu()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case eventMsg:
		m.handleEvent(msg.ev)
		return m, waitEvent(m.ctx, m.mailbox)

	case stoppedMsg:
		return m, nil

	case commandMsg:
		m.handleCommand(msg)
		if msg.action == actionPriority && msg.err == nil {
			return m, m.listFiles(msg.id)
		}
		return m, nil

	case filesMsg:
		if msg.err != nil {
			m.commandNotice("files", msg.err)
			if m.mode == modeFiles {
				m.mode = modeBrowse
			}
			return m, nil
		}
		if m.mode == modeFiles && m.files.id == msg.id {
			m.files.files = msg.files
			m.files.cursor = min(m.files.cursor, max(len(msg.files)-1, 0))
		}
		return m, nil

	case tea.MouseMsg:
		return m.updateMouse(msg)

	case tea.KeyMsg:
		switch m.mode {
		case modeMenu:
			return m.updateMenu(msg)
		case modeFiles:
			return m.updateFiles(msg)
		case modeConfirmDelete:
			return m.updateConfirmDelete(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *Model) handleEvent(ev conn.Event) {
	switch {
	case ev.Status != nil:
		m.status = *ev.Status
		if m.status.State == conn.StateUnauthorized {
			m.notice = notice{kind: noticeBlocking, text: unauthorizedNotice}
		}
	case ev.Snapshot != nil:
		m.cards.offset = m.vp.YOffset
		m.rc.Apply(ev.Snapshot)
		m.updated = m.now()
		m.refresh()
		m.syncMenu()
	}
}

// refresh recomposes the viewport content and applies a pending scroll
// restore from the last reconciliation pass.
func (m *Model) refresh() {
	if _, ok := m.rc.State().Element(m.selected); !ok {
		m.selected = ""
		if order := m.rc.State().Order(); len(order) > 0 {
			m.selected = order[0]
		}
	}
	content, owners := m.cards.compose(m.rc.State(), m.selected)
	m.owners = owners
	m.vp.SetContent(content)
	if off, ok := m.cards.takeRestore(); ok {
		m.vp.SetYOffset(off)
	}
}

func (m *Model) moveSelection(delta int) {
	order := m.rc.State().Order()
	if len(order) == 0 {
		return
	}
	i := 0
	for j, id := range order {
		if id == m.selected {
			i = j
			break
		}
	}
	i = min(max(i+delta, 0), len(order)-1)
	m.selected = order[i]
	m.refresh()
	m.ensureVisible()
}

func (m *Model) ensureVisible() {
	first, last := -1, -1
	for i, id := range m.owners {
		if id == m.selected {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return
	}
	switch {
	case first < m.vp.YOffset:
		m.vp.SetYOffset(first)
	case last >= m.vp.YOffset+m.vp.Height:
		m.vp.SetYOffset(last - m.vp.Height + 1)
	}
}

func (m *Model) target(id types.JobID) *gesture.Target {
	el, ok := m.rc.State().Element(id)
	if !ok {
		return nil
	}
	return &gesture.Target{ID: id, State: el.Record.State}
}

// targetAt returns the card under terminal row y.
func (m *Model) targetAt(y int) *gesture.Target {
	line := m.vp.YOffset + y - headerLines
	if line < 0 || line >= len(m.owners) || m.owners[line] == "" {
		return nil
	}
	return m.target(m.owners[line])
}

func (m *Model) openMenu(om *gesture.OpenMenu) {
	if om == nil {
		return
	}
	m.menu = om
	m.menuCursor = 0
	m.selected = om.Target.ID
	m.mode = modeMenu
	m.refresh()
	m.ensureVisible()
	m.syncMenu()
}

// syncMenu records where the open menu is drawn, in nominal pixels.
func (m *Model) syncMenu() {
	if m.menu == nil {
		return
	}
	col, row := m.placeMenu(m.menuBox())
	m.menu.At = gesture.Point{X: float64(col * cellWidthPx), Y: float64(row * cellHeightPx)}
}

// cardLines returns the first and last content line of card id, or -1.
func (m *Model) cardLines(id types.JobID) (first, last int) {
	first, last = -1, -1
	for i, owner := range m.owners {
		if owner == id {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last
}

// placeMenu returns the viewport cell of the top-left corner of box when
// it is shown for the menu target.
func (m Model) placeMenu(box string) (col, row int) {
	width := float64(m.vp.Width * cellWidthPx)
	anchor := gesture.Rect{W: width, H: cellHeightPx}
	if first, last := m.cardLines(m.menu.Target.ID); first >= 0 {
		anchor.Y = float64((first - m.vp.YOffset) * cellHeightPx)
		anchor.H = float64((last - first + 1) * cellHeightPx)
	}
	at := gesture.Place(anchor,
		float64(lipgloss.Width(box)*cellWidthPx),
		float64(lipgloss.Height(box)*cellHeightPx),
		gesture.Rect{W: width, H: float64(m.vp.Height * cellHeightPx)})
	return int(math.Ceil(at.X / cellWidthPx)), int(math.Ceil(at.Y / cellHeightPx))
}

func (m *Model) closeMenu() {
	m.router.DismissMenu()
	m.menu = nil
	if m.mode == modeMenu {
		m.mode = modeBrowse
	}
}

// ============================================================================
// Input
// ============================================================================

func (m Model) updateMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	now := m.now()
	pt := gesture.Point{X: float64(msg.X * cellWidthPx), Y: float64(msg.Y * cellHeightPx)}

	switch {
	case msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown:
		if m.router.PageScroll() {
			m.closeMenu()
		}
		if msg.Button == tea.MouseButtonWheelUp {
			m.vp.SetYOffset(m.vp.YOffset - 1)
		} else {
			m.vp.SetYOffset(m.vp.YOffset + 1)
		}
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		m.router.Press(0, gesture.Mouse, pt, now, m.targetAt(msg.Y))
	case msg.Action == tea.MouseActionMotion:
		m.router.Move(0, pt)
	case msg.Action == tea.MouseActionRelease:
		if _, om := m.router.Release(0, pt, now); om != nil {
			m.openMenu(om)
		}
	}
	return m, nil
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		m.moveSelection(-1)
	case "down", "j":
		m.moveSelection(1)
	case "pgup":
		m.vp.SetYOffset(m.vp.YOffset - m.vp.Height)
	case "pgdown":
		m.vp.SetYOffset(m.vp.YOffset + m.vp.Height)
	case "tab", "f":
		m.setFilter(m.rc.State().Filter().Next())
	case "a":
		m.setFilter(view.FilterAll)
	case "1":
		m.setFilter(view.FilterMovies)
	case "2":
		m.setFilter(view.FilterTVShows)
	case "3":
		m.setFilter(view.FilterOther)
	case "enter", " ":
		if t := m.target(m.selected); t != nil {
			m.openMenu(m.router.Open(gesture.Point{}, *t))
		}
	case "r":
		if m.status.State == conn.StateFailed && m.reload != nil {
			m.reload()
			m.status = conn.Status{State: conn.StateConnecting}
		}
	case "x", "esc":
		if m.notice.kind != noticeBlocking {
			m.notice = notice{}
		}
	}
	return m, nil
}

func (m *Model) setFilter(f view.Filter) {
	m.cards.offset = m.vp.YOffset
	m.rc.SetFilter(f)
	m.refresh()
	m.syncMenu()
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.menu == nil {
		m.mode = modeBrowse
		return m, nil
	}
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "q":
		m.closeMenu()
	case "up", "k":
		m.menuCursor = max(m.menuCursor-1, 0)
	case "down", "j":
		m.menuCursor = min(m.menuCursor+1, len(m.menu.Actions)-1)
	case "enter", " ":
		action, target := m.menu.Actions[m.menuCursor], m.menu.Target
		m.closeMenu()
		return m.runAction(action, target)
	}
	return m, nil
}

func (m Model) runAction(a gesture.Action, t gesture.Target) (tea.Model, tea.Cmd) {
	ctx, api, id := m.ctx, m.commands, t.ID
	switch a {
	case gesture.ActionPause:
		return m, func() tea.Msg { return commandMsg{action: a, id: id, err: api.Pause(ctx, id)} }
	case gesture.ActionResume:
		return m, func() tea.Msg { return commandMsg{action: a, id: id, err: api.Resume(ctx, id)} }
	case gesture.ActionFiles:
		m.mode = modeFiles
		m.files = filesPane{id: id}
		if el, ok := m.rc.State().Element(id); ok {
			m.files.name = el.Record.Name
		}
		return m, m.listFiles(id)
	case gesture.ActionDelete:
		m.mode = modeConfirmDelete
		m.files = filesPane{id: id}
		if el, ok := m.rc.State().Element(id); ok {
			m.files.name = el.Record.Name
		}
	}
	return m, nil
}

func (m Model) listFiles(id types.JobID) tea.Cmd {
	ctx, api := m.ctx, m.commands
	return func() tea.Msg {
		files, err := api.ListFiles(ctx, id)
		return filesMsg{id: id, files: files, err: err}
	}
}

var priorityKeys = map[string]types.FilePriority{
	"0": types.PrioritySkip,
	"1": types.PriorityNormal,
	"6": types.PriorityHigh,
	"7": types.PriorityMaximum,
}

func (m Model) updateFiles(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "q":
		m.mode = modeBrowse
	case "up", "k":
		m.files.cursor = max(m.files.cursor-1, 0)
	case "down", "j":
		m.files.cursor = min(m.files.cursor+1, max(len(m.files.files)-1, 0))
	}
	if p, ok := priorityKeys[key]; ok && m.files.cursor < len(m.files.files) {
		ctx, api, id := m.ctx, m.commands, m.files.id
		fid := m.files.files[m.files.cursor].ID
		return m, func() tea.Msg {
			return commandMsg{action: actionPriority, id: id, err: api.SetFilePriority(ctx, id, []int{fid}, p)}
		}
	}
	return m, nil
}

func (m Model) updateConfirmDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx, api, id := m.ctx, m.commands, m.files.id
	del := func(withFiles bool) tea.Cmd {
		return func() tea.Msg {
			return commandMsg{action: gesture.ActionDelete, id: id, err: api.Delete(ctx, id, withFiles)}
		}
	}
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "y":
		m.mode = modeBrowse
		return m, del(false)
	case "Y":
		m.mode = modeBrowse
		return m, del(true)
	case "n", "esc", "q":
		m.mode = modeBrowse
	}
	return m, nil
}

func (m *Model) handleCommand(msg commandMsg) {
	if msg.err != nil {
		m.commandNotice(string(msg.action), msg.err)
		return
	}
	m.notice = notice{kind: noticeInfo, text: fmt.Sprintf("%s sent", msg.action)}
}

// commandNotice turns a command failure into a notice. Unauthorized is
// blocking; anything else can be dismissed.
func (m *Model) commandNotice(action string, err error) {
	if types.IsUnauthorized(err) {
		m.notice = notice{kind: noticeBlocking, text: unauthorizedNotice}
		return
	}
	msg := err.Error()
	var cmdErr *types.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Cause != nil {
		msg = cmdErr.Cause.Error()
	}
	m.notice = notice{kind: noticeError, text: fmt.Sprintf("%s failed: %s (x to dismiss)", action, msg)}
}

// ============================================================================
// Rendering
// ============================================================================

func (m Model) View() string {
	if m.status.State == conn.StateUnauthorized {
		return panelStyle.Render(errorStyle.Render(unauthorizedNotice))
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteByte('\n')
	b.WriteString(m.tabsView())
	b.WriteByte('\n')

	switch m.mode {
	case modeMenu:
		box := m.menuBox()
		col, row := m.placeMenu(box)
		b.WriteString(overlay(m.vp.View(), box, col, row))
	case modeFiles:
		b.WriteString(m.filesView())
	case modeConfirmDelete:
		b.WriteString(panelStyle.Render(fmt.Sprintf("Delete %q?\n\ny  remove job\nY  remove job and files\nn  cancel", m.files.name)))
	default:
		b.WriteString(m.vp.View())
	}
	b.WriteByte('\n')
	b.WriteString(m.footerView())
	return b.String()
}

func (m Model) headerView() string {
	var badge string
	switch m.status.State {
	case conn.StateConnected:
		badge = okStyle.Render("● live")
	case conn.StateConnecting:
		badge = m.spin.View() + " connecting"
	case conn.StateReconnecting:
		badge = m.spin.View() + fmt.Sprintf(" reconnecting (attempt %d, retry in %s)", m.status.Attempt+1, m.status.Delay)
	case conn.StateFailed:
		badge = errorStyle.Render("✕ disconnected, press r to reload")
	default:
		badge = mutedStyle.Render("○ " + m.status.State.String())
	}
	line := titleStyle.Render("jobwatch") + "  " + badge
	if !m.updated.IsZero() {
		line += mutedStyle.Render("  updated " + m.updated.Format("15:04:05"))
	}
	return line
}

func (m Model) tabsView() string {
	active := m.rc.State().Filter()
	tabs := make([]string, 0, len(view.Filters))
	for _, f := range view.Filters {
		label := "All"
		if f != view.FilterAll {
			label = sectionTitles[types.Category(f)]
		}
		if f == active {
			tabs = append(tabs, tabOnStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) menuBox() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(jobName(m.rc.State(), m.menu.Target.ID)))
	b.WriteString("\n\n")
	for i, a := range m.menu.Actions {
		line := "  " + string(a)
		if i == m.menuCursor {
			line = selStyle.Render("> " + string(a))
		}
		b.WriteString(line + "\n")
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// overlay draws box over bg with its top-left corner at col, row. Lines of
// box that fall outside bg are dropped.
func overlay(bg, box string, col, row int) string {
	lines := strings.Split(bg, "\n")
	for i, bl := range strings.Split(box, "\n") {
		r := row + i
		if r < 0 || r >= len(lines) {
			continue
		}
		left := ansi.Truncate(lines[r], col, "")
		if w := ansi.StringWidth(left); w < col {
			left += strings.Repeat(" ", col-w)
		}
		right := ansi.TruncateLeft(lines[r], col+ansi.StringWidth(bl), "")
		lines[r] = left + bl + right
	}
	return strings.Join(lines, "\n")
}

func jobName(v *view.ViewState, id types.JobID) string {
	if el, ok := v.Element(id); ok {
		return el.Record.Name
	}
	return string(id)
}

func (m Model) filesView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.files.name))
	b.WriteString("\n\n")
	if m.files.files == nil {
		b.WriteString(mutedStyle.Render("loading files…"))
	}
	for i, f := range m.files.files {
		line := fmt.Sprintf("%-8s %5.1f%%  %s", f.Priority, f.Progress*100, f.Name)
		if i == m.files.cursor {
			line = selStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(mutedStyle.Render("\n0 skip  1 normal  6 high  7 maximum  esc back"))
	return panelStyle.Render(b.String())
}

func (m Model) footerView() string {
	var n string
	switch m.notice.kind {
	case noticeInfo:
		n = okStyle.Render(m.notice.text)
	case noticeError, noticeBlocking:
		n = errorStyle.Render(m.notice.text)
	}
	help := mutedStyle.Render("↑/↓ select  enter actions  tab filter  q quit")
	return n + "\n" + help
}
