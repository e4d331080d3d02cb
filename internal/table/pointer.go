package table

import (
	"context"
	"slices"

	"github.com/cory-johannsen/prism/internal/game/drag"
	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
)

// TypeDragEnd tells a seat its gesture is over and any preview should go.
const TypeDragEnd = "drag_end"

// DragEnd reports how a gesture ended.
type DragEnd struct {
	TokenID string `json:"token_id"`
	Kind    string `json:"kind"`
	// Outcome is the move outcome for committed gestures.
	Outcome string `json:"outcome,omitempty"`
}

// Release is the result of PointerUp.
type Release struct {
	Drag drag.Outcome
	// Move is set when the gesture was committed.
	Move *movement.Result
}

// PointerDown starts a drag on the topmost token under p that the seat may
// grab.
//
// Postcondition: Returns false when no grabbable token is under p.
func (t *Table) PointerDown(ctx context.Context, seatID string, p grid.Point) (DragView, bool, error) {
	var (
		view    DragView
		grabbed bool
	)
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		tok, ok := t.hitTest(s.actor, p)
		if !ok {
			return nil
		}
		limit := t.moves.DragLimit(s.actor, tok)
		s.drag.Begin(tok, p, limit)
		view = t.dragView(s, tok, limit)
		grabbed = true
		t.pub.Publish(seatID, Message{Type: TypeDrag, Payload: view})
		return nil
	})
	return view, grabbed, err
}

// PointerMove updates the seat's drag candidate.
//
// Postcondition: Returns false when the seat is not dragging.
func (t *Table) PointerMove(ctx context.Context, seatID string, p grid.Point) (DragView, bool, error) {
	var (
		view DragView
		ok   bool
	)
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		if _, ok = s.drag.Move(p); !ok {
			return nil
		}
		view = DragView{TokenID: s.drag.TokenID(), Candidate: s.drag.Candidate(), Moved: s.drag.Moved()}
		t.pub.Publish(seatID, Message{Type: TypeDrag, Payload: view})
		return nil
	})
	return view, ok, err
}

// PointerUp ends the seat's gesture. A click selects the token; a drag to a
// new cell is proposed as a move.
func (t *Table) PointerUp(ctx context.Context, seatID string) (Release, error) {
	var rel Release
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		rel.Drag = s.drag.Release()
		end := DragEnd{TokenID: rel.Drag.TokenID, Kind: rel.Drag.Kind.String()}
		switch rel.Drag.Kind {
		case drag.None:
			return nil
		case drag.Click:
			t.pub.Publish(seatID, Message{Type: TypeSelect, Payload: Selection{TokenID: rel.Drag.TokenID}})
		case drag.Commit:
			res := t.moves.ProposeMove(s.actor, rel.Drag.TokenID, rel.Drag.Cell)
			rel.Move = &res
			end.Outcome = res.Outcome.String()
		}
		t.pub.Publish(seatID, Message{Type: TypeDragEnd, Payload: end})
		return nil
	})
	return rel, err
}

// PointerLeave cancels the seat's gesture without a move.
func (t *Table) PointerLeave(ctx context.Context, seatID string) error {
	return t.asSeat(ctx, seatID, func(s *seat) error {
		if s.drag.State() != drag.Dragging {
			return nil
		}
		id := s.drag.TokenID()
		s.drag.Cancel()
		t.pub.Publish(seatID, Message{Type: TypeDragEnd, Payload: DragEnd{TokenID: id, Kind: "cancel"}})
		return nil
	})
}

// hitTest returns the most recently placed token under p that actor may grab.
func (t *Table) hitTest(actor movement.Actor, p grid.Point) (token.Token, bool) {
	tokens := t.store.All()
	for _, tok := range slices.Backward(tokens) {
		if grid.FootprintContains(tok.Cell(), tok.Size, t.opts.Board.GridSize, p) && t.moves.CanGrab(actor, tok) {
			return tok, true
		}
	}
	return token.Token{}, false
}

func (t *Table) dragView(s *seat, tok token.Token, limit int) DragView {
	view := DragView{TokenID: tok.ID, Candidate: s.drag.Candidate()}
	if limit != movement.Unbounded {
		reach := grid.ReachableArea(tok.Cell(), tok.Size, tok.RemainingMovement, t.opts.Board)
		view.Reach = &reach
	}
	return view
}
