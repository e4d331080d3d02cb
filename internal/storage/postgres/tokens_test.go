package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/token"
	"github.com/cory-johannsen/prism/internal/realtime"
	"github.com/cory-johannsen/prism/internal/storage/postgres"
	"github.com/cory-johannsen/prism/internal/testutil"
)

var (
	_ realtime.Repository = (*postgres.TokenRepository)(nil)
	_ realtime.Feed       = (*postgres.Listener)(nil)
)

func setupDB(t *testing.T) *testutil.PostgresContainer {
	t.Helper()
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return pc
}

func goblin() token.Token {
	return token.Token{
		Name: "Goblin", X: 3, Y: 4, Size: 1, Kind: token.KindEnemy, Color: "#ef4444",
		HP: 7, MaxHP: 7, AC: 15, Speed: 30, RemainingMovement: 30,
		Status: token.NewStatusSet("Prone"),
	}
}

func TestTokenRepository_RoundTrip(t *testing.T) {
	pc := setupDB(t)
	ctx := context.Background()
	repo := postgres.NewTokenRepository(pc.RawPool, "replica-1")

	created, err := repo.Insert(ctx, goblin())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.True(t, got.Status.Has("Prone"))

	moved := got.WithPosition(grid.Cell{X: got.X + 1, Y: got.Y}).Spend(5)
	require.NoError(t, repo.Upsert(ctx, moved))
	got, err = repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.X)
	assert.Equal(t, 25, got.RemainingMovement)

	require.NoError(t, repo.Delete(ctx, created.ID))
	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, realtime.ErrTokenNotFound)
}

func TestTokenRepository_ListInCreationOrder(t *testing.T) {
	pc := setupDB(t)
	ctx := context.Background()
	repo := postgres.NewTokenRepository(pc.RawPool, "replica-1")

	for _, name := range []string{"a", "b", "c"} {
		tok := goblin()
		tok.Name = name
		_, err := repo.Insert(ctx, tok)
		require.NoError(t, err)
	}
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestTokenRepository_RejectsConstraintViolation(t *testing.T) {
	pc := setupDB(t)
	repo := postgres.NewTokenRepository(pc.RawPool, "replica-1")

	bad := goblin()
	bad.Speed = 32
	_, err := repo.Insert(context.Background(), bad)
	assert.ErrorIs(t, err, postgres.ErrInvalidToken)
	assert.ErrorIs(t, repo.Upsert(context.Background(), token.Token{}), token.ErrNoID)
}

func TestListener_DeliversChangesWithOrigin(t *testing.T) {
	pc := setupDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := postgres.NewListener(pc.RawPool, "", zaptest.NewLogger(t))
	got := make(chan token.Change, 8)
	done := make(chan error, 1)
	live := make(chan struct{})
	go func() {
		done <- listener.Subscribe(ctx, func() { close(live) }, func(ch token.Change) { got <- ch })
	}()

	repo := postgres.NewTokenRepository(pc.RawPool, "replica-2")
	next := func() token.Change {
		t.Helper()
		select {
		case ch := <-got:
			return ch
		case <-time.After(5 * time.Second):
			t.Fatal("no change delivered")
			return token.Change{}
		}
	}

	select {
	case <-live:
	case <-time.After(10 * time.Second):
		t.Fatal("listener never became live")
	}

	created, err := repo.Insert(ctx, goblin())
	require.NoError(t, err)
	ch := next()
	assert.Equal(t, token.OpInsert, ch.Op)
	assert.Equal(t, created.ID, ch.ID)

	require.NoError(t, repo.Upsert(ctx, created.AdjustHP(-3)))
	ch = next()
	assert.Equal(t, token.OpUpdate, ch.Op)
	assert.Equal(t, "replica-2", ch.Origin)
	assert.Equal(t, 4, ch.Token.HP)

	require.NoError(t, repo.Delete(ctx, created.ID))
	ch = next()
	assert.Equal(t, token.OpDelete, ch.Op)
	assert.Equal(t, created.ID, ch.ID)
	assert.Empty(t, ch.Origin)

	cancel()
	assert.NoError(t, <-done)
}
