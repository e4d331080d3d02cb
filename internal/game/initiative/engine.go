// Package initiative tracks whose turn it is over the tokens of a table,
// ordered by initiative score.
//
// The Engine is not safe for concurrent use. Callers serialize access, along
// with every mutation of the Store it observes.
package initiative

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
)

// Notice texts.
const (
	NoticeRoundComplete = "Round Complete! Back to top of initiative."
	NoticeCombatReset   = "Combat reset. Initiatives cleared."
)

// Roll is a finalized initiative roll produced outside the engine.
type Roll struct {
	Total     int    `json:"total"`
	Formula   string `json:"formula"`
	Breakdown string `json:"breakdown"`
}

// Turn is a snapshot of the turn state.
type Turn struct {
	// ActiveID is empty when no combat is in progress.
	ActiveID string `json:"active_token_id"`
	Round    int    `json:"round"`
	// Wrapped is set on the Turn returned by the advance that completed a round.
	Wrapped bool `json:"-"`
}

// InCombat reports whether a turn is active.
func (t Turn) InCombat() bool {
	return t.ActiveID != ""
}

// Engine is the Idle/InCombat turn state machine.
type Engine struct {
	store   *token.Store
	persist movement.Persister
	notify  movement.Notifier
	logger  *zap.Logger

	activeID string
	round    int
}

// NewEngine creates an idle Engine over store and subscribes it to removals
// so that deleting the active token hands the turn on.
//
// Precondition: every argument must be non-nil.
func NewEngine(store *token.Store, persist movement.Persister, notify movement.Notifier, logger *zap.Logger) *Engine {
	e := &Engine{
		store:   store,
		persist: persist,
		notify:  notify,
		logger:  logger,
	}
	store.Subscribe(e.onStoreEvent)
	return e
}

// Turn returns the current turn state. A deleted active token reads as idle.
func (e *Engine) Turn() Turn {
	if _, ok := e.ActiveToken(); !ok {
		return Turn{Round: e.round}
	}
	return Turn{ActiveID: e.activeID, Round: e.round}
}

// Round returns the 1-based round counter, or 0 before combat starts.
func (e *Engine) Round() int {
	return e.round
}

// ActiveTokenID returns the active token id, or "" when idle.
func (e *Engine) ActiveTokenID() string {
	return e.Turn().ActiveID
}

// ActiveToken returns the token whose turn it is.
//
// Postcondition: Returns (zero, false) when idle or when the active id no
// longer resolves to a stored token.
func (e *Engine) ActiveToken() (token.Token, bool) {
	if e.activeID == "" {
		return token.Token{}, false
	}
	return e.store.FindByID(e.activeID)
}

// IsActorsTurn reports whether actor may act now. Masters always may; a
// player may when the active token is theirs by display name or character link.
func (e *Engine) IsActorsTurn(actor movement.Actor) bool {
	if actor.IsMaster() {
		return true
	}
	active, ok := e.ActiveToken()
	if !ok {
		return false
	}
	return (actor.Name != "" && active.Name == actor.Name) ||
		(actor.CharacterID != "" && active.CharacterID == actor.CharacterID)
}

// AdvanceTurn hands the turn to the next token in initiative order, wrapping
// to the top at the end of the round.
//
// Postcondition: With no tokens the state is unchanged. Otherwise the new
// active token has RemainingMovement == Speed and that write is persisted.
func (e *Engine) AdvanceTurn() Turn {
	order := e.store.InitiativeOrder()
	if len(order) == 0 {
		return e.Turn()
	}
	return e.activate(order, indexOf(order, e.activeID)+1)
}

// activate makes order[next] active, wrapping when next is past the end.
func (e *Engine) activate(order []token.Token, next int) Turn {
	wrapped := false
	if next >= len(order) {
		next = 0
		wrapped = true
		e.round++
		e.notify.Notify(NoticeRoundComplete)
	}
	if e.round == 0 {
		e.round = 1
	}

	refreshed := order[next].Refreshed()
	if _, err := e.store.Upsert(refreshed); err != nil {
		e.logger.Error("refreshing movement", zap.String("token_id", refreshed.ID), zap.Error(err))
	}
	e.persist.Persist(refreshed)
	e.activeID = refreshed.ID

	e.notify.Notify(fmt.Sprintf("It is now %s's turn!", refreshed.Name))
	e.logger.Info("turn advanced",
		zap.String("token_id", refreshed.ID),
		zap.String("name", refreshed.Name),
		zap.Int("round", e.round),
		zap.Bool("wrapped", wrapped),
	)
	return Turn{ActiveID: e.activeID, Round: e.round, Wrapped: wrapped}
}

// ResetCombat ends combat: every token gets a full movement budget and zero
// initiative. Each token is persisted independently.
//
// Postcondition: Idle, Round() == 0, and every stored token has
// RemainingMovement == Speed and Initiative == 0.
func (e *Engine) ResetCombat() {
	e.activeID = ""
	e.round = 0
	for _, t := range e.store.All() {
		reset := t.Refreshed().WithInitiative(0)
		if _, err := e.store.Upsert(reset); err != nil {
			e.logger.Error("resetting token", zap.String("token_id", t.ID), zap.Error(err))
			continue
		}
		e.persist.Persist(reset)
	}
	e.notify.Notify(NoticeCombatReset)
	e.logger.Info("combat reset", zap.Int("tokens", e.store.Len()))
}

// SetInitiative applies an externally rolled initiative to tokenID.
//
// Postcondition: Returns false and changes nothing when tokenID is unknown.
func (e *Engine) SetInitiative(tokenID string, roll Roll) (token.Token, bool) {
	t, ok := e.store.FindByID(tokenID)
	if !ok {
		return token.Token{}, false
	}
	updated := t.WithInitiative(roll.Total)
	if _, err := e.store.Upsert(updated); err != nil {
		e.logger.Error("setting initiative", zap.String("token_id", tokenID), zap.Error(err))
		return token.Token{}, false
	}
	e.persist.Persist(updated)

	text := fmt.Sprintf("%s rolled Initiative: %d", updated.Name, roll.Total)
	if roll.Formula != "" {
		text += fmt.Sprintf(" (%s: %s)", roll.Formula, roll.Breakdown)
	}
	e.notify.Notify(text)
	return updated, true
}

// onStoreEvent passes the turn on when the active token is removed, using
// the order as it stood before the removal.
func (e *Engine) onStoreEvent(ev token.Event) {
	if ev.Change.Op != token.OpDelete || e.activeID == "" || ev.Change.ID != e.activeID {
		return
	}
	idx := indexOf(ev.OrderBefore, e.activeID)
	remaining := make([]token.Token, 0, len(ev.OrderBefore))
	for _, t := range ev.OrderBefore {
		if t.ID != ev.Change.ID {
			remaining = append(remaining, t)
		}
	}
	e.logger.Info("active token removed", zap.String("token_id", ev.Change.ID))
	if len(remaining) == 0 {
		e.activeID = ""
		return
	}
	// The successor now sits at the removed token's index.
	e.activate(remaining, idx)
}

func indexOf(order []token.Token, id string) int {
	if id == "" {
		return -1
	}
	for i, t := range order {
		if t.ID == id {
			return i
		}
	}
	return -1
}
