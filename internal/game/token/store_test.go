package token_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/prism/internal/game/token"
)

func named(id string, initiative int) token.Token {
	return token.Token{ID: id, Name: id, Kind: token.KindNPC, Size: 1, HP: 5, MaxHP: 5, Speed: 30, Initiative: initiative}
}

func ids(tokens []token.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.ID
	}
	return out
}

func TestStore_UpsertInsertsThenReplaces(t *testing.T) {
	s := token.NewStore()
	ch, err := s.Upsert(named("a", 1))
	require.NoError(t, err)
	assert.Equal(t, token.OpInsert, ch.Op)

	updated := named("a", 7)
	ch, err = s.Upsert(updated)
	require.NoError(t, err)
	assert.Equal(t, token.OpUpdate, ch.Op)
	assert.Equal(t, 1, s.Len())

	got, ok := s.FindByID("a")
	require.True(t, ok)
	assert.Equal(t, 7, got.Initiative)
}

func TestStore_UpsertRejectsEmptyID(t *testing.T) {
	s := token.NewStore()
	_, err := s.Upsert(named("", 0))
	assert.ErrorIs(t, err, token.ErrNoID)
	assert.Equal(t, 0, s.Len())
}

func TestStore_LookupsMissQuietly(t *testing.T) {
	s := token.NewStore()
	_, ok := s.FindByID("nope")
	assert.False(t, ok)
	_, ok = s.FindByCharacterLink("")
	assert.False(t, ok)
	_, ok = s.Remove("nope")
	assert.False(t, ok)
}

func TestStore_FindByCharacterLink(t *testing.T) {
	s := token.NewStore()
	pc := named("pc", 0)
	pc.CharacterID = "sheet-9"
	s.Load([]token.Token{named("a", 0), pc})

	got, ok := s.FindByCharacterLink("sheet-9")
	require.True(t, ok)
	assert.Equal(t, "pc", got.ID)
}

func TestStore_LoadKeepsPresentTokens(t *testing.T) {
	s := token.NewStore()
	moved := named("hero", 0)
	moved.X, moved.Y, moved.RemainingMovement = 4, 2, 20
	_, err := s.Upsert(moved)
	require.NoError(t, err)

	var events []token.Event
	s.Subscribe(func(ev token.Event) { events = append(events, ev) })

	stale := named("hero", 0)
	stale.X, stale.Y, stale.RemainingMovement = 2, 2, 30
	n := s.Load([]token.Token{stale, named("", 0), named("goblin", 0)})

	assert.Equal(t, 1, n)
	got, ok := s.FindByID("hero")
	require.True(t, ok)
	assert.Equal(t, 4, got.X)
	assert.Equal(t, 2, got.Y)
	assert.Equal(t, 20, got.RemainingMovement)
	require.Len(t, events, 1)
	assert.Equal(t, token.OpInsert, events[0].Change.Op)
	assert.Equal(t, "goblin", events[0].Change.ID)
	assert.Equal(t, []string{"hero", "goblin"}, ids(s.All()))
}

func TestStore_ReturnedTokensAreCopies(t *testing.T) {
	s := token.NewStore()
	tk := named("a", 0)
	tk.Status = token.NewStatusSet("Prone")
	_, _ = s.Upsert(tk)

	got, _ := s.FindByID("a")
	got.Status[0] = "Stunned"
	got.X = 9

	again, _ := s.FindByID("a")
	assert.Equal(t, token.StatusSet{"Prone"}, again.Status)
	assert.Equal(t, 0, again.X)
}

func TestStore_InitiativeOrder_StableTies(t *testing.T) {
	s := token.NewStore()
	s.Load([]token.Token{named("first10", 10), named("second10", 10), named("twenty", 20)})
	assert.Equal(t, []string{"twenty", "first10", "second10"}, ids(s.InitiativeOrder()))

	// Replacing a token keeps its original insertion position for ties.
	_, _ = s.Upsert(named("first10", 10))
	assert.Equal(t, []string{"twenty", "first10", "second10"}, ids(s.InitiativeOrder()))
	assert.Equal(t, []string{"first10", "second10", "twenty"}, ids(s.All()))
}

func TestStore_InitiativeOrder_Property_SortedAndStable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		inits := rapid.SliceOfN(rapid.IntRange(-5, 5), 0, 20).Draw(rt, "initiatives")
		s := token.NewStore()
		seq := map[string]int{}
		for i, v := range inits {
			id := fmt.Sprintf("t%02d", i)
			seq[id] = i
			_, err := s.Upsert(named(id, v))
			require.NoError(rt, err)
		}
		order := s.InitiativeOrder()
		require.Len(rt, order, len(inits))
		for i := 1; i < len(order); i++ {
			prev, cur := order[i-1], order[i]
			require.GreaterOrEqual(rt, prev.Initiative, cur.Initiative)
			if prev.Initiative == cur.Initiative {
				require.Less(rt, seq[prev.ID], seq[cur.ID], "ties keep insertion order")
			}
		}
	})
}

func TestStore_RemoveNotifiesWithPriorOrder(t *testing.T) {
	s := token.NewStore()
	s.Load([]token.Token{named("a", 3), named("b", 9)})

	var events []token.Event
	s.Subscribe(func(ev token.Event) { events = append(events, ev) })

	removed, ok := s.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.ID)
	require.Len(t, events, 1)
	assert.Equal(t, token.OpDelete, events[0].Change.Op)
	assert.Equal(t, []string{"b", "a"}, ids(events[0].OrderBefore))
	assert.Equal(t, []string{"b"}, ids(s.All()))
}

func TestStore_ApplyRemote_LastWriteWins(t *testing.T) {
	s := token.NewStore()
	older := named("a", 0)
	older.X = 1
	newer := named("a", 0)
	newer.X = 4

	assert.True(t, s.ApplyRemote(token.Change{Op: token.OpInsert, ID: "a", Token: older}))
	assert.True(t, s.ApplyRemote(token.Change{Op: token.OpUpdate, ID: "a", Token: newer}))
	got, _ := s.FindByID("a")
	assert.Equal(t, 4, got.X)

	assert.True(t, s.ApplyRemote(token.Change{Op: token.OpDelete, ID: "a"}))
	assert.False(t, s.ApplyRemote(token.Change{Op: token.OpDelete, ID: "a"}), "duplicate delete is a no-op")
	assert.False(t, s.ApplyRemote(token.Change{Op: "truncate", ID: "a"}))
}

func TestStore_ApplyRemote_FillsIDFromChange(t *testing.T) {
	s := token.NewStore()
	tk := named("", 0)
	assert.True(t, s.ApplyRemote(token.Change{Op: token.OpInsert, ID: "z", Token: tk}))
	_, ok := s.FindByID("z")
	assert.True(t, ok)
}
