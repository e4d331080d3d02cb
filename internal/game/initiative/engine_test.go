package initiative_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/prism/internal/game/initiative"
	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
)

type recorder struct {
	persisted []token.Token
	notices   []string
}

func (r *recorder) Persist(t token.Token) { r.persisted = append(r.persisted, t) }
func (r *recorder) Notify(text string)    { r.notices = append(r.notices, text) }

func combatant(id string, initiative, remaining int) token.Token {
	return token.Token{
		ID: id, Name: id, Kind: token.KindNPC, Size: 1, HP: 8, MaxHP: 8,
		Speed: 30, RemainingMovement: remaining, Initiative: initiative,
	}
}

func newEngine(t testing.TB, tokens ...token.Token) (*initiative.Engine, *token.Store, *recorder) {
	store := token.NewStore()
	store.Load(tokens)
	rec := &recorder{}
	return initiative.NewEngine(store, rec, rec, zaptest.NewLogger(t)), store, rec
}

func TestEngine_OrderingAndWrap(t *testing.T) {
	e, _, rec := newEngine(t, combatant("tenA", 10, 0), combatant("tenB", 10, 0), combatant("twenty", 20, 0))

	assert.Equal(t, "twenty", e.AdvanceTurn().ActiveID)
	assert.Equal(t, "tenA", e.AdvanceTurn().ActiveID)
	assert.Equal(t, "tenB", e.AdvanceTurn().ActiveID)
	assert.NotContains(t, rec.notices, initiative.NoticeRoundComplete)

	turn := e.AdvanceTurn()
	assert.Equal(t, "twenty", turn.ActiveID)
	assert.True(t, turn.Wrapped)
	assert.Equal(t, 2, turn.Round)

	assert.Equal(t, []string{
		"It is now twenty's turn!",
		"It is now tenA's turn!",
		"It is now tenB's turn!",
		initiative.NoticeRoundComplete,
		"It is now twenty's turn!",
	}, rec.notices)
}

func TestEngine_AdvanceTurn_EmptyIsNoOp(t *testing.T) {
	e, _, rec := newEngine(t)
	turn := e.AdvanceTurn()
	assert.False(t, turn.InCombat())
	assert.Empty(t, rec.notices)
	assert.Empty(t, rec.persisted)
}

func TestEngine_AdvanceTurn_Property_ResetsBudget(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		tokens := make([]token.Token, n)
		for i := range tokens {
			tk := combatant(string(rune('a'+i)), rapid.IntRange(0, 20).Draw(rt, "init"), 0)
			tk.Speed = rapid.IntRange(1, 12).Draw(rt, "speed_cells") * 5
			tk.RemainingMovement = rapid.IntRange(0, tk.Speed).Draw(rt, "remaining")
			tokens[i] = tk
		}
		e, store, rec := newEngine(t, tokens...)
		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for range steps {
			turn := e.AdvanceTurn()
			active, ok := store.FindByID(turn.ActiveID)
			require.True(rt, ok)
			assert.Equal(rt, active.Speed, active.RemainingMovement)
			last := rec.persisted[len(rec.persisted)-1]
			assert.Equal(rt, turn.ActiveID, last.ID)
			assert.Equal(rt, last.Speed, last.RemainingMovement)
		}
	})
}

func TestEngine_Property_RoundCompleteOnlyOnWrap(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "n")
		tokens := make([]token.Token, n)
		for i := range tokens {
			tokens[i] = combatant(string(rune('a'+i)), rapid.IntRange(0, 3).Draw(rt, "init"), 0)
		}
		e, _, rec := newEngine(t, tokens...)
		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 1; i <= steps; i++ {
			before := len(rec.notices)
			turn := e.AdvanceTurn()
			wraps := i > n && (i-1)%n == 0
			assert.Equal(rt, wraps, turn.Wrapped, "step %d", i)
			emitted := rec.notices[before:]
			assert.Equal(rt, wraps, len(emitted) == 2 && emitted[0] == initiative.NoticeRoundComplete)
		}
	})
}

func TestEngine_ResetCombat_Idempotent(t *testing.T) {
	e, store, rec := newEngine(t, combatant("a", 12, 5), combatant("b", 3, 0))
	e.AdvanceTurn()
	e.AdvanceTurn()

	e.ResetCombat()
	first := store.All()
	e.ResetCombat()
	second := store.All()

	assert.Equal(t, first, second)
	assert.False(t, e.Turn().InCombat())
	assert.Equal(t, 0, e.Round())
	for _, tk := range second {
		assert.Equal(t, tk.Speed, tk.RemainingMovement)
		assert.Zero(t, tk.Initiative)
	}
	assert.Equal(t, initiative.NoticeCombatReset, rec.notices[len(rec.notices)-1])
}

func TestEngine_Property_ResetIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 6).Draw(rt, "n")
		tokens := make([]token.Token, n)
		for i := range tokens {
			tokens[i] = combatant(string(rune('a'+i)), rapid.IntRange(-5, 25).Draw(rt, "init"), rapid.IntRange(0, 30).Draw(rt, "remaining"))
		}
		e, store, _ := newEngine(t, tokens...)
		for range rapid.IntRange(0, 5).Draw(rt, "advances") {
			e.AdvanceTurn()
		}
		e.ResetCombat()
		once := store.All()
		e.ResetCombat()
		assert.Equal(rt, once, store.All())
		assert.Equal(rt, "", e.ActiveTokenID())
	})
}

func TestEngine_IsActorsTurn(t *testing.T) {
	hero := combatant("h", 15, 0)
	hero.Name = "Vex"
	hero.CharacterID = "sheet-vex"
	e, _, _ := newEngine(t, hero, combatant("goblin", 5, 0))

	vex := movement.Actor{Role: movement.RolePlayer, Name: "Vex"}
	vexBySheet := movement.Actor{Role: movement.RolePlayer, CharacterID: "sheet-vex"}
	gm := movement.Actor{Role: movement.RoleGameMaster}

	assert.False(t, e.IsActorsTurn(vex), "no active token")
	assert.True(t, e.IsActorsTurn(gm))

	e.AdvanceTurn()
	assert.True(t, e.IsActorsTurn(vex))
	assert.True(t, e.IsActorsTurn(vexBySheet))
	e.AdvanceTurn()
	assert.False(t, e.IsActorsTurn(vex))
}

func TestEngine_RemovingActiveTokenAdvances(t *testing.T) {
	e, store, rec := newEngine(t, combatant("a", 20, 0), combatant("b", 10, 0), combatant("c", 5, 0))
	e.AdvanceTurn()
	e.AdvanceTurn()
	require.Equal(t, "b", e.ActiveTokenID())

	store.Remove("b")
	assert.Equal(t, "c", e.ActiveTokenID())
	assert.Equal(t, "It is now c's turn!", rec.notices[len(rec.notices)-1])

	store.Remove("c")
	assert.Equal(t, "a", e.ActiveTokenID(), "removing the last in order wraps")
	assert.Equal(t, 2, e.Round())

	store.Remove("a")
	assert.False(t, e.Turn().InCombat())
}

func TestEngine_RemovingOtherTokenKeepsTurn(t *testing.T) {
	e, store, _ := newEngine(t, combatant("a", 20, 0), combatant("b", 10, 0))
	e.AdvanceTurn()
	store.Remove("b")
	assert.Equal(t, "a", e.ActiveTokenID())
}

func TestEngine_SetInitiative(t *testing.T) {
	e, store, rec := newEngine(t, combatant("a", 0, 0))
	updated, ok := e.SetInitiative("a", initiative.Roll{Total: 17, Formula: "1d20+3", Breakdown: "[14] +3"})
	require.True(t, ok)
	assert.Equal(t, 17, updated.Initiative)
	stored, _ := store.FindByID("a")
	assert.Equal(t, 17, stored.Initiative)
	assert.Equal(t, []string{"a rolled Initiative: 17 (1d20+3: [14] +3)"}, rec.notices)

	_, ok = e.SetInitiative("missing", initiative.Roll{Total: 3})
	assert.False(t, ok)
}
