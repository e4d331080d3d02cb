// Package drag turns a pointer-down/move/up gesture over a token into at most
// one committed move, clamping the live candidate into the reachable area.
package drag

import (
	"math"

	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/token"
)

// DefaultJitter is the pixel distance a candidate may wander from its start
// before the gesture counts as a drag.
const DefaultJitter = 5.0

// State is the session state.
type State int

const (
	Idle State = iota
	Dragging
)

// Kind classifies how a gesture ended.
type Kind int

const (
	// None is returned by Release when no gesture was in progress.
	None Kind = iota
	// Click means the pointer never moved beyond the jitter threshold.
	Click
	// Commit means the token should be proposed for a move to Outcome.Cell.
	Commit
	// NoOp means the token was dragged back onto its start cell.
	NoOp
)

func (k Kind) String() string {
	switch k {
	case Click:
		return "click"
	case Commit:
		return "commit"
	case NoOp:
		return "no-op"
	}
	return "none"
}

// Outcome is the result of releasing a gesture.
type Outcome struct {
	Kind    Kind
	TokenID string
	Cell    grid.Cell
}

// Session is the per-seat gesture state machine. The zero value is not
// usable; create one with NewSession.
type Session struct {
	board  grid.Map
	jitter float64

	state       State
	tok         token.Token
	start       grid.Cell
	startCenter grid.Point
	offset      grid.Point
	box         grid.Box
	candidate   grid.Point
	moved       bool
}

// NewSession creates an idle Session over board. A non-positive jitter uses
// DefaultJitter.
func NewSession(board grid.Map, jitter float64) *Session {
	if jitter <= 0 {
		jitter = DefaultJitter
	}
	return &Session{board: board, jitter: jitter}
}

// Begin grabs t at pointer. limitCells bounds how far the footprint center
// may travel along each axis; a negative limit leaves it unbounded. Beginning
// while already dragging discards the earlier gesture.
//
// Postcondition: State() == Dragging and Candidate() is the footprint center.
func (s *Session) Begin(t token.Token, pointer grid.Point, limitCells int) {
	center := grid.FootprintCenter(t.Cell(), t.Size, s.board.GridSize)
	box := grid.Unbounded
	if limitCells >= 0 {
		box = grid.CenterBox(center, limitCells, s.board.GridSize)
	}
	*s = Session{
		board:       s.board,
		jitter:      s.jitter,
		state:       Dragging,
		tok:         t.Clone(),
		start:       t.Cell(),
		startCenter: center,
		offset:      grid.Point{X: pointer.X - center.X, Y: pointer.Y - center.Y},
		box:         box,
		candidate:   center,
	}
}

// Move updates the candidate from a pointer position.
//
// Postcondition: Returns the clamped candidate center and true, or the zero
// point and false when not dragging.
func (s *Session) Move(pointer grid.Point) (grid.Point, bool) {
	if s.state != Dragging {
		return grid.Point{}, false
	}
	s.candidate = s.box.Clamp(grid.Point{X: pointer.X - s.offset.X, Y: pointer.Y - s.offset.Y})
	if math.Abs(s.candidate.X-s.startCenter.X) > s.jitter || math.Abs(s.candidate.Y-s.startCenter.Y) > s.jitter {
		s.moved = true
	}
	return s.candidate, true
}

// Release ends the gesture.
//
// Postcondition: State() == Idle. At most one Commit is produced per Begin.
func (s *Session) Release() Outcome {
	if s.state != Dragging {
		return Outcome{Kind: None}
	}
	out := Outcome{TokenID: s.tok.ID, Cell: s.start}
	switch {
	case !s.moved:
		out.Kind = Click
	default:
		cell := grid.CellFromCenter(s.candidate, s.tok.Size, s.board.GridSize)
		cell = grid.ClampToBounds(cell, s.tok.Size, s.board)
		out.Cell = cell
		out.Kind = Commit
		if cell == s.start {
			out.Kind = NoOp
		}
	}
	s.reset()
	return out
}

// Cancel aborts the gesture without an outcome.
func (s *Session) Cancel() {
	s.reset()
}

func (s *Session) reset() {
	*s = Session{board: s.board, jitter: s.jitter}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// TokenID returns the id of the grabbed token, or "" when idle.
func (s *Session) TokenID() string {
	return s.tok.ID
}

// Candidate returns the live candidate center.
func (s *Session) Candidate() grid.Point {
	return s.candidate
}

// Bounds returns the box the candidate is clamped into.
func (s *Session) Bounds() grid.Box {
	return s.box
}

// Moved reports whether the gesture has passed the jitter threshold.
func (s *Session) Moved() bool {
	return s.moved
}
