package movement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
)

var board = grid.Map{Width: 1000, Height: 1000, GridSize: 50}

type fixedTurn struct {
	store  *token.Store
	active string
}

func (f *fixedTurn) ActiveToken() (token.Token, bool) {
	if f.active == "" {
		return token.Token{}, false
	}
	return f.store.FindByID(f.active)
}

type recorder struct {
	persisted []token.Token
	notices   []string
}

func (r *recorder) Persist(t token.Token) { r.persisted = append(r.persisted, t) }
func (r *recorder) Notify(text string)    { r.notices = append(r.notices, text) }

type fixture struct {
	store *token.Store
	turn  *fixedTurn
	rec   *recorder
	ctrl  *movement.Controller
}

func newFixture(t testing.TB, tokens ...token.Token) *fixture {
	store := token.NewStore()
	store.Load(tokens)
	turn := &fixedTurn{store: store}
	rec := &recorder{}
	logger := zaptest.NewLogger(t)
	return &fixture{
		store: store,
		turn:  turn,
		rec:   rec,
		ctrl:  movement.NewController(store, board, turn, rec, rec, logger),
	}
}

func pc(id, name, sheet string, x, y, remaining int) token.Token {
	return token.Token{
		ID: id, Name: name, CharacterID: sheet, Kind: token.KindPC,
		X: x, Y: y, Size: 1, HP: 10, MaxHP: 10, Speed: 30, RemainingMovement: remaining,
	}
}

var (
	aria    = movement.Actor{Role: movement.RolePlayer, CharacterID: "sheet-aria", Name: "Aria"}
	master  = movement.Actor{Role: movement.RoleGameMaster, Name: "DM"}
	nobody  = movement.Actor{Role: movement.RolePlayer}
	ariaTok = pc("a", "Aria", "sheet-aria", 2, 2, 30)
	bornTok = pc("b", "Born", "sheet-born", 6, 6, 30)
)

func TestOwnership_PrecedenceAndEmptyIdentity(t *testing.T) {
	rule, ok := movement.OwnedBy(aria, ariaTok)
	require.True(t, ok)
	assert.Equal(t, "character-link", rule)

	byID := pc("sheet-aria", "Someone", "", 0, 0, 30)
	rule, ok = movement.OwnedBy(aria, byID)
	require.True(t, ok)
	assert.Equal(t, "token-id", rule)

	byName := pc("x", "Aria", "", 0, 0, 30)
	rule, ok = movement.OwnedBy(aria, byName)
	require.True(t, ok)
	assert.Equal(t, "display-name", rule)

	assert.False(t, movement.Owns(aria, bornTok))
	assert.False(t, movement.Owns(nobody, pc("y", "", "", 0, 0, 30)), "empty identity never matches")
}

func TestProposeMove_PlayerChargedChebyshev(t *testing.T) {
	f := newFixture(t, ariaTok)
	res := f.ctrl.ProposeMove(aria, "a", grid.Cell{X: 5, Y: 4})
	require.Equal(t, movement.Moved, res.Outcome)
	assert.Equal(t, 15, res.Cost)
	assert.Equal(t, 15, res.Token.RemainingMovement)

	stored, _ := f.store.FindByID("a")
	assert.Equal(t, grid.Cell{X: 5, Y: 4}, stored.Cell())
	require.Len(t, f.rec.persisted, 1)
	assert.Equal(t, stored, f.rec.persisted[0])
}

func TestProposeMove_ExactBudgetAllowed(t *testing.T) {
	f := newFixture(t, pc("a", "Aria", "sheet-aria", 0, 0, 15))
	res := f.ctrl.ProposeMove(aria, "a", grid.Cell{X: 3, Y: 1})
	assert.Equal(t, movement.Moved, res.Outcome)
	assert.Equal(t, 0, res.Token.RemainingMovement)
}

func TestProposeMove_NotEnoughMovement(t *testing.T) {
	f := newFixture(t, pc("a", "Aria", "sheet-aria", 0, 0, 10))
	res := f.ctrl.ProposeMove(aria, "a", grid.Cell{X: 3, Y: 0})
	assert.Equal(t, movement.NotEnoughMovement, res.Outcome)
	assert.Equal(t, []string{"Not enough movement!"}, f.rec.notices)
	assert.Empty(t, f.rec.persisted)
	stored, _ := f.store.FindByID("a")
	assert.Equal(t, grid.Cell{}, stored.Cell())
	assert.Equal(t, 10, stored.RemainingMovement)
}

func TestProposeMove_NotFoundAndNotOwner(t *testing.T) {
	f := newFixture(t, ariaTok, bornTok)
	assert.Equal(t, movement.NotFound, f.ctrl.ProposeMove(aria, "zzz", grid.Cell{}).Outcome)
	assert.Equal(t, movement.NotOwner, f.ctrl.ProposeMove(aria, "b", grid.Cell{X: 7, Y: 6}).Outcome)
	assert.Equal(t, movement.NotOwner, f.ctrl.ProposeMove(nobody, "a", grid.Cell{X: 3, Y: 2}).Outcome)
	assert.Empty(t, f.rec.persisted)
}

func TestProposeMove_NotYourTurn(t *testing.T) {
	f := newFixture(t, ariaTok, bornTok)
	f.turn.active = "b"
	res := f.ctrl.ProposeMove(aria, "a", grid.Cell{X: 3, Y: 2})
	assert.Equal(t, movement.NotYourTurn, res.Outcome)
	assert.Equal(t, []string{"It is not your turn! Wait for Born."}, f.rec.notices)

	f.turn.active = "a"
	assert.Equal(t, movement.Moved, f.ctrl.ProposeMove(aria, "a", grid.Cell{X: 3, Y: 2}).Outcome)
}

func TestProposeMove_DeletedActiveTokenTreatedAsIdle(t *testing.T) {
	f := newFixture(t, ariaTok)
	f.turn.active = "gone"
	assert.Equal(t, movement.Moved, f.ctrl.ProposeMove(aria, "a", grid.Cell{X: 3, Y: 2}).Outcome)
}

func TestProposeMove_SameCellUnchanged(t *testing.T) {
	f := newFixture(t, ariaTok)
	res := f.ctrl.ProposeMove(aria, "a", ariaTok.Cell())
	assert.Equal(t, movement.Unchanged, res.Outcome)
	assert.False(t, res.Outcome.Rejected())
	assert.Empty(t, f.rec.persisted)
}

func TestProposeMove_Property_BudgetConservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		speed := rapid.IntRange(1, 12).Draw(rt, "speed_cells") * grid.FeetPerCell
		remaining := rapid.IntRange(0, speed).Draw(rt, "remaining")
		start := grid.Cell{X: rapid.IntRange(0, 19).Draw(rt, "x"), Y: rapid.IntRange(0, 19).Draw(rt, "y")}
		target := grid.Cell{X: rapid.IntRange(0, 19).Draw(rt, "tx"), Y: rapid.IntRange(0, 19).Draw(rt, "ty")}

		tk := pc("a", "Aria", "sheet-aria", start.X, start.Y, remaining)
		tk.Speed = speed
		f := newFixture(t, tk)
		res := f.ctrl.ProposeMove(aria, "a", target)

		stored, _ := f.store.FindByID("a")
		cost := grid.MovementCost(start, target)
		switch res.Outcome {
		case movement.Moved:
			assert.Equal(rt, remaining-cost, stored.RemainingMovement)
			assert.Equal(rt, target, stored.Cell())
		case movement.NotEnoughMovement:
			assert.Greater(rt, cost, remaining)
			assert.Equal(rt, start, stored.Cell())
			assert.Equal(rt, remaining, stored.RemainingMovement)
		case movement.Unchanged:
			assert.Equal(rt, start, target)
		default:
			rt.Fatalf("unexpected outcome %s", res.Outcome)
		}
		assert.GreaterOrEqual(rt, stored.RemainingMovement, 0)
		assert.LessOrEqual(rt, stored.RemainingMovement, stored.Speed)
	})
}

func TestProposeMove_Property_TurnExclusivity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		target := grid.Cell{X: rapid.IntRange(0, 19).Draw(rt, "tx"), Y: rapid.IntRange(0, 19).Draw(rt, "ty")}
		f := newFixture(t, ariaTok, bornTok)
		f.turn.active = "b"
		res := f.ctrl.ProposeMove(aria, "a", target)
		assert.True(rt, res.Outcome == movement.NotYourTurn)
		stored, _ := f.store.FindByID("a")
		assert.Equal(rt, ariaTok.Cell(), stored.Cell())
	})
}

func TestProposeMove_Property_MasterOverride(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		remaining := rapid.IntRange(0, 30).Draw(rt, "remaining")
		target := grid.Cell{X: rapid.IntRange(-40, 60).Draw(rt, "tx"), Y: rapid.IntRange(-40, 60).Draw(rt, "ty")}
		tk := pc("a", "Aria", "sheet-aria", 10, 10, remaining)
		f := newFixture(t, tk, bornTok)
		f.turn.active = "b"

		res := f.ctrl.ProposeMove(master, "a", target)
		clamped := grid.ClampToBounds(target, 1, board)
		if clamped == tk.Cell() {
			assert.Equal(rt, movement.Unchanged, res.Outcome)
		} else {
			assert.Equal(rt, movement.Moved, res.Outcome)
		}
		stored, _ := f.store.FindByID("a")
		assert.Equal(rt, clamped, stored.Cell())
		assert.Equal(rt, remaining, stored.RemainingMovement, "master moves are free")
		assert.Zero(rt, res.Cost)
	})
}

func TestProposeMove_Property_BoundsClamp(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(1, 4).Draw(rt, "size")
		target := grid.Cell{X: rapid.IntRange(-100, 100).Draw(rt, "tx"), Y: rapid.IntRange(-100, 100).Draw(rt, "ty")}
		tk := pc("a", "Aria", "sheet-aria", 0, 0, 30)
		tk.Size = size
		f := newFixture(t, tk)

		res := f.ctrl.ProposeMove(master, "a", target)
		assert.False(rt, res.Outcome.Rejected())
		stored, _ := f.store.FindByID("a")
		assert.True(rt, grid.InBounds(stored.Cell(), size, board))
		assert.Equal(rt, grid.ClampToBounds(target, size, board), stored.Cell())
	})
}

func TestCanGrabAndDragLimit(t *testing.T) {
	f := newFixture(t)
	enemy := token.Token{ID: "e", Kind: token.KindEnemy, RemainingMovement: 25}
	assert.True(t, f.ctrl.CanGrab(master, enemy))
	assert.False(t, f.ctrl.CanGrab(aria, enemy))
	assert.True(t, f.ctrl.CanGrab(aria, bornTok), "ownership is checked on commit")

	assert.Equal(t, movement.Unbounded, f.ctrl.DragLimit(master, enemy))
	assert.Equal(t, 5, f.ctrl.DragLimit(aria, enemy))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "not-your-turn", movement.NotYourTurn.String())
	assert.Equal(t, "outcome(42)", movement.Outcome(42).String())
}
