package movement

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/token"
)

// Outcome classifies the result of a proposed move.
type Outcome int

const (
	// Moved means the token was relocated and the change persisted.
	Moved Outcome = iota
	// Unchanged means the clamped target is the token's current cell.
	Unchanged
	NotFound
	NotOwner
	NotYourTurn
	NotEnoughMovement
)

var outcomeNames = map[Outcome]string{
	Moved:             "moved",
	Unchanged:         "unchanged",
	NotFound:          "not-found",
	NotOwner:          "not-owner",
	NotYourTurn:       "not-your-turn",
	NotEnoughMovement: "not-enough-movement",
}

// String returns the outcome's kebab-case name.
func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Rejected reports whether the move was refused.
func (o Outcome) Rejected() bool {
	return o != Moved && o != Unchanged
}

// Result describes a proposed move after evaluation.
type Result struct {
	Outcome Outcome
	// Token is the token as stored after the operation. Zero when NotFound.
	Token token.Token
	// Target is the requested cell after clamping to the map.
	Target grid.Cell
	// Cost is the feet charged; always 0 unless Outcome is Moved by a player.
	Cost int
	// Notice is the user-facing message emitted for a rejection, if any.
	Notice string
}

// TurnKeeper exposes the active turn to the controller.
type TurnKeeper interface {
	// ActiveToken returns the token whose turn it is. A missing or deleted
	// active token is reported as (zero, false).
	ActiveToken() (token.Token, bool)
}

// Persister accepts token writes without blocking on their completion.
type Persister interface {
	Persist(t token.Token)
}

// Notifier delivers short system notices to every seat.
type Notifier interface {
	Notify(text string)
}

// Unbounded is the DragLimit of an actor unconstrained by movement budget.
const Unbounded = -1

// Notice texts emitted on rejection.
const (
	noticeNotEnoughMovement = "Not enough movement!"
	noticeNotYourTurn       = "It is not your turn!"
)

// Controller validates and applies token moves.
type Controller struct {
	store   *token.Store
	board   grid.Map
	turns   TurnKeeper
	persist Persister
	notify  Notifier
	logger  *zap.Logger
}

// NewController creates a Controller over store.
//
// Precondition: every argument must be non-nil and board must be valid.
func NewController(store *token.Store, board grid.Map, turns TurnKeeper, persist Persister, notify Notifier, logger *zap.Logger) *Controller {
	return &Controller{
		store:   store,
		board:   board,
		turns:   turns,
		persist: persist,
		notify:  notify,
		logger:  logger,
	}
}

// Board returns the map the controller clamps against.
func (c *Controller) Board() grid.Map {
	return c.board
}

// ProposeMove evaluates moving tokenID to target on behalf of actor and
// applies the move if it is legal.
//
// Players must own the token, must not act while another token holds the
// turn, and must afford the Chebyshev cost from the current cell. Masters may
// move any token anywhere at any time and are never charged. The target is
// clamped onto the map first, so an off-map request is never rejected for
// that reason.
//
// Postcondition: On Moved the store holds the relocated token, a write has
// been handed to the Persister, and RemainingMovement is reduced by Cost.
// On any other outcome the store is unchanged.
func (c *Controller) ProposeMove(actor Actor, tokenID string, target grid.Cell) Result {
	t, ok := c.store.FindByID(tokenID)
	if !ok {
		c.logger.Debug("move of unknown token ignored", zap.String("token_id", tokenID))
		return Result{Outcome: NotFound}
	}
	target = grid.ClampToBounds(target, t.Size, c.board)
	res := Result{Token: t, Target: target}

	if !actor.IsMaster() {
		if !Owns(actor, t) {
			return c.reject(res, NotOwner, "")
		}
		if active, inCombat := c.turns.ActiveToken(); inCombat && active.ID != t.ID {
			return c.reject(res, NotYourTurn, fmt.Sprintf("%s Wait for %s.", noticeNotYourTurn, active.Name))
		}
	}

	if target == t.Cell() {
		res.Outcome = Unchanged
		return res
	}

	moved := t.WithPosition(target)
	if !actor.IsMaster() {
		cost := grid.MovementCost(t.Cell(), target)
		if cost > t.RemainingMovement {
			return c.reject(res, NotEnoughMovement, noticeNotEnoughMovement)
		}
		moved = moved.Spend(cost)
		res.Cost = cost
	}

	if _, err := c.store.Upsert(moved); err != nil {
		// Stored tokens always carry an id.
		c.logger.Error("storing moved token", zap.String("token_id", t.ID), zap.Error(err))
		return Result{Outcome: NotFound}
	}
	c.persist.Persist(moved)

	res.Outcome = Moved
	res.Token, _ = c.store.FindByID(t.ID)
	c.logger.Debug("token moved",
		zap.String("token_id", t.ID),
		zap.Stringer("from", t.Cell()),
		zap.Stringer("to", target),
		zap.Int("cost", res.Cost),
		zap.String("role", string(actor.Role)),
	)
	return res
}

func (c *Controller) reject(res Result, outcome Outcome, notice string) Result {
	res.Outcome = outcome
	res.Notice = notice
	if notice != "" {
		c.notify.Notify(notice)
	}
	c.logger.Debug("move rejected",
		zap.String("token_id", res.Token.ID),
		zap.Stringer("outcome", outcome),
	)
	return res
}

// CanGrab reports whether actor may begin dragging t. Masters may grab any
// token; players may grab player-character tokens, with ownership enforced
// when the move is proposed.
func (c *Controller) CanGrab(actor Actor, t token.Token) bool {
	return actor.IsMaster() || t.Kind == token.KindPC
}

// DragLimit returns how many cells actor may drag t along each axis.
//
// Postcondition: Returns Unbounded for masters, else RangeCells(t.RemainingMovement).
func (c *Controller) DragLimit(actor Actor, t token.Token) int {
	if actor.IsMaster() {
		return Unbounded
	}
	return grid.RangeCells(t.RemainingMovement)
}
