package gesture

import "github.com/ChuLiYu/jobwatch/pkg/types"

// Action is one entry of the job action menu.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionFiles  Action = "files"
	ActionDelete Action = "delete"
)

// Actions returns the menu entries for a job in state s. Pause and resume
// are mutually exclusive; files and delete are always offered.
func Actions(s types.JobState) []Action {
	var out []Action
	switch {
	case s.Pausable():
		out = append(out, ActionPause)
	case s.Resumable():
		out = append(out, ActionResume)
	}
	return append(out, ActionFiles, ActionDelete)
}

// Rect is an axis-aligned box in pixels.
type Rect struct {
	X, Y, W, H float64
}

// MenuMargin is the minimum distance between the menu and the viewport edge.
const MenuMargin = 10

// Place positions a w×h menu for the card at anchor inside viewport. The
// menu sits below the card, or above it when there is no room below, and
// is clamped to MenuMargin on every side.
func Place(anchor Rect, w, h float64, viewport Rect) Point {
	minX, maxX := viewport.X+MenuMargin, viewport.X+viewport.W-MenuMargin-w
	minY, maxY := viewport.Y+MenuMargin, viewport.Y+viewport.H-MenuMargin-h

	x := clamp(anchor.X, minX, maxX)
	y := anchor.Y + anchor.H
	if y > maxY {
		y = anchor.Y - h
	}
	y = clamp(y, minY, maxY)
	return Point{X: x, Y: y}
}

// clamp favours lo when the range is empty, keeping the menu's top-left
// corner on screen.
func clamp(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
