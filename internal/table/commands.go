package table

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/dice"
	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/initiative"
	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
)

// mayEdit reports whether the seat may change t's stats.
func (s *seat) mayEdit(t token.Token) bool {
	return s.actor.IsMaster() || movement.Owns(s.actor, t)
}

func requireMaster(s *seat) error {
	if !s.actor.IsMaster() {
		return ErrForbidden
	}
	return nil
}

// Move proposes moving tokenID to target for the seat. Rejections are
// reported in the Result, never as an error.
func (t *Table) Move(ctx context.Context, seatID, tokenID string, target grid.Cell) (movement.Result, error) {
	var res movement.Result
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		res = t.moves.ProposeMove(s.actor, tokenID, target)
		return nil
	})
	return res, err
}

// NextTurn advances initiative. The master may always advance; a player may
// end their own turn.
func (t *Table) NextTurn(ctx context.Context, seatID string) (initiative.Turn, error) {
	var turn initiative.Turn
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		if !t.turns.IsActorsTurn(s.actor) {
			return ErrForbidden
		}
		turn = t.turns.AdvanceTurn()
		return nil
	})
	return turn, err
}

// ResetCombat ends combat. Master only.
func (t *Table) ResetCombat(ctx context.Context, seatID string) error {
	return t.asSeat(ctx, seatID, func(s *seat) error {
		if err := requireMaster(s); err != nil {
			return err
		}
		t.turns.ResetCombat()
		return nil
	})
}

// CreateToken places a new token. Master only. The token is given an id,
// defaults and a position on the map before it is stored.
//
// Postcondition: Returns the stored token or a validation error.
func (t *Table) CreateToken(ctx context.Context, seatID string, tok token.Token) (token.Token, error) {
	var out token.Token
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		if err := requireMaster(s); err != nil {
			return err
		}
		var err error
		out, err = t.create(tok)
		return err
	})
	return out, err
}

func (t *Table) create(tok token.Token) (token.Token, error) {
	tok.ID = t.newID()
	tok = tok.Normalize()
	if tok.RemainingMovement == 0 {
		tok.RemainingMovement = tok.Speed
	}
	if err := grid.CheckFits(tok.Size, t.opts.Board); err != nil {
		return token.Token{}, fmt.Errorf("creating token %q: %w", tok.Name, err)
	}
	c := grid.ClampToBounds(tok.Cell(), tok.Size, t.opts.Board)
	tok.X, tok.Y = c.X, c.Y
	if err := tok.Validate(); err != nil {
		return token.Token{}, err
	}
	if _, err := t.store.Upsert(tok); err != nil {
		return token.Token{}, err
	}
	t.writer.Create(tok)
	t.logger.Info("token created",
		zap.String("token_id", tok.ID),
		zap.String("name", tok.Name),
		zap.String("type", string(tok.Kind)),
	)
	return tok, nil
}

// EnsurePlayerToken returns the token linked to the seat's character,
// creating a player token from sheet at PlayerSpawn when none exists.
//
// Postcondition: created reports whether a new token was stored.
func (t *Table) EnsurePlayerToken(ctx context.Context, seatID string, sheet CharacterSheet) (tok token.Token, created bool, err error) {
	err = t.asSeat(ctx, seatID, func(s *seat) error {
		if s.actor.CharacterID == "" {
			return ErrNoCharacter
		}
		if existing, ok := t.store.FindByCharacterLink(s.actor.CharacterID); ok {
			tok = existing
			return nil
		}
		name := sheet.Name
		if name == "" {
			name = s.actor.Name
		}
		maxHP := orDefault(sheet.MaxHP, PlayerMaxHP)
		speed := orDefault(sheet.Speed, token.DefaultSpeed)
		var cerr error
		tok, cerr = t.create(token.Token{
			Name:              name,
			X:                 PlayerSpawn.X,
			Y:                 PlayerSpawn.Y,
			Size:              token.DefaultSize,
			Kind:              token.KindPC,
			Color:             PlayerColor,
			HP:                maxHP,
			MaxHP:             maxHP,
			AC:                orDefault(sheet.AC, PlayerAC),
			Speed:             speed,
			RemainingMovement: speed,
			AvatarURL:         sheet.AvatarURL,
			CharacterID:       s.actor.CharacterID,
		})
		created = cerr == nil
		return cerr
	})
	return tok, created, err
}

// EditToken applies e to tokenID. Allowed for the master and the owner.
func (t *Table) EditToken(ctx context.Context, seatID, tokenID string, e token.Edit) (token.Token, error) {
	return t.update(ctx, seatID, tokenID, (*seat).mayEdit, func(tok token.Token) (token.Token, error) {
		edited, err := tok.ApplyEdit(e)
		if err != nil {
			return token.Token{}, err
		}
		if err := grid.CheckFits(edited.Size, t.opts.Board); err != nil {
			return token.Token{}, fmt.Errorf("resizing token %q: %w", tok.Name, err)
		}
		// A resize may push the footprint off the map edge.
		c := grid.ClampToBounds(edited.Cell(), edited.Size, t.opts.Board)
		return edited.WithPosition(c), nil
	})
}

// AdjustHP applies damage (negative) or healing (positive) to tokenID.
// Allowed for the master and the owner.
func (t *Table) AdjustHP(ctx context.Context, seatID, tokenID string, delta int) (token.Token, error) {
	return t.update(ctx, seatID, tokenID, (*seat).mayEdit, func(tok token.Token) (token.Token, error) {
		return tok.AdjustHP(delta), nil
	})
}

// ToggleStatus adds or removes a status effect. Master only.
func (t *Table) ToggleStatus(ctx context.Context, seatID, tokenID string, effect token.StatusEffect) (token.Token, error) {
	if !token.KnownStatus(effect) {
		return token.Token{}, fmt.Errorf("%w: %q", ErrUnknownStatus, effect)
	}
	return t.update(ctx, seatID, tokenID, (*seat).isMaster, func(tok token.Token) (token.Token, error) {
		return tok.ToggleStatus(effect), nil
	})
}

// SubmitInitiative records a roll made elsewhere. Allowed for the master and
// the owner.
func (t *Table) SubmitInitiative(ctx context.Context, seatID, tokenID string, roll initiative.Roll) (token.Token, error) {
	var out token.Token
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		tok, ok := t.store.FindByID(tokenID)
		if !ok {
			return ErrTokenNotFound
		}
		if !s.mayEdit(tok) {
			return ErrForbidden
		}
		out, _ = t.turns.SetInitiative(tokenID, roll)
		return nil
	})
	return out, err
}

// RollInitiative rolls the initiative die plus modifier for tokenID and
// records the total. Allowed for the master and the owner.
func (t *Table) RollInitiative(ctx context.Context, seatID, tokenID string, modifier int) (initiative.Roll, error) {
	var roll initiative.Roll
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		tok, ok := t.store.FindByID(tokenID)
		if !ok {
			return ErrTokenNotFound
		}
		if !s.mayEdit(tok) {
			return ErrForbidden
		}
		formula := dice.WithModifier(t.opts.InitiativeDie, modifier)
		res, err := t.roller.RollString(formula)
		if err != nil {
			return fmt.Errorf("rolling initiative: %w", err)
		}
		roll = initiative.Roll{Total: res.Total(), Formula: formula, Breakdown: res.Breakdown()}
		t.turns.SetInitiative(tokenID, roll)
		return nil
	})
	return roll, err
}

// DeleteToken removes tokenID. Master only. Deleting the active token hands
// the turn on.
func (t *Table) DeleteToken(ctx context.Context, seatID, tokenID string) error {
	return t.asSeat(ctx, seatID, func(s *seat) error {
		if err := requireMaster(s); err != nil {
			return err
		}
		removed, ok := t.store.Remove(tokenID)
		if !ok {
			return ErrTokenNotFound
		}
		t.writer.Delete(tokenID)
		t.logger.Info("token deleted", zap.String("token_id", tokenID), zap.String("name", removed.Name))
		return nil
	})
}

// SpawnMonster places an enemy token built from the bestiary preset
// monsterID at c. Master only.
func (t *Table) SpawnMonster(ctx context.Context, seatID, monsterID string, c grid.Cell) (token.Token, error) {
	var out token.Token
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		if err := requireMaster(s); err != nil {
			return err
		}
		if t.bestiary == nil {
			return fmt.Errorf("%w: %q", ErrUnknownMonster, monsterID)
		}
		m, ok := t.bestiary.Get(monsterID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMonster, monsterID)
		}
		if !m.Fits(t.opts.Board) {
			return fmt.Errorf("spawning %q: %w", monsterID, grid.ErrFootprintTooLarge)
		}
		var err error
		out, err = t.create(m.Token(c, t.opts.Board))
		return err
	})
	return out, err
}

func (s *seat) isMaster(token.Token) bool {
	return s.actor.IsMaster()
}

// update applies fn to tokenID when allowed(seat, token) holds, then stores
// and persists the result.
func (t *Table) update(
	ctx context.Context,
	seatID, tokenID string,
	allowed func(*seat, token.Token) bool,
	fn func(token.Token) (token.Token, error),
) (token.Token, error) {
	var out token.Token
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		tok, ok := t.store.FindByID(tokenID)
		if !ok {
			return ErrTokenNotFound
		}
		if !allowed(s, tok) {
			return ErrForbidden
		}
		next, err := fn(tok)
		if err != nil {
			return err
		}
		if _, err := t.store.Upsert(next); err != nil {
			return err
		}
		t.writer.Persist(next)
		out, _ = t.store.FindByID(tokenID)
		return nil
	})
	return out, err
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
