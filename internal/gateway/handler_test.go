package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/prism/internal/game/dice"
	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
	"github.com/cory-johannsen/prism/internal/gateway"
	"github.com/cory-johannsen/prism/internal/table"
)

type discard struct{}

func (discard) Create(token.Token)  {}
func (discard) Persist(token.Token) {}
func (discard) Delete(string)       {}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newServer(t *testing.T) (*httptest.Server, *gateway.Hub) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	hub := gateway.NewHub(0, logger)
	tbl, err := table.New(table.Options{
		Board:  grid.Map{Width: 1000, Height: 800, GridSize: 50},
		Origin: "replica-1",
	}, table.Deps{
		Writer:    discard{},
		Publisher: hub,
		Roller:    dice.NewRoller(dice.NewCryptoSource(), logger),
		Logger:    logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tbl.Run(ctx) }()

	srv := httptest.NewServer(gateway.NewHandler(tbl, hub, gateway.Options{}, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, q url.Values) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + q.Encode()
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	env := map[string]any{"type": typ}
	if payload != nil {
		env["payload"] = payload
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == typ {
			return f
		}
	}
}

func masterQuery() url.Values {
	return url.Values{"role": {string(movement.RoleGameMaster)}, "name": {"DM"}}
}

func TestHandler_RejectsUnknownRole(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/?role=spectator")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_JoinSendsSnapshot(t *testing.T) {
	srv, hub := newServer(t)
	conn := dial(t, srv, masterQuery())

	f := next(t, conn, table.TypeSnapshot)
	var snap table.Snapshot
	require.NoError(t, json.Unmarshal(f.Payload, &snap))
	assert.Equal(t, movement.RoleGameMaster, snap.Seat.Role)
	assert.Equal(t, "DM", snap.Seat.Name)
	assert.Equal(t, 50, snap.Board.GridSize)
	assert.Empty(t, snap.Tokens)
	assert.Equal(t, 1, hub.Len())
}

func TestHandler_CreateAndMoveBroadcastsToEverySeat(t *testing.T) {
	srv, _ := newServer(t)
	dm := dial(t, srv, masterQuery())
	next(t, dm, table.TypeSnapshot)
	player := dial(t, srv, url.Values{"role": {"player"}, "name": {"Hero"}, "character_id": {"sheet-1"}})
	next(t, player, table.TypeSnapshot)

	send(t, dm, gateway.IntentCreateToken, map[string]any{"name": "Goblin", "type": "enemy", "x": 4, "y": 4})

	var created token.Change
	require.NoError(t, json.Unmarshal(next(t, player, table.TypeChange).Payload, &created))
	assert.Equal(t, token.OpInsert, created.Op)
	assert.Equal(t, "Goblin", created.Token.Name)
	next(t, dm, table.TypeChange)

	send(t, dm, gateway.IntentMove, map[string]any{"token_id": created.ID, "x": 6, "y": 4})

	var res gateway.MoveResult
	require.NoError(t, json.Unmarshal(next(t, dm, gateway.TypeMoveResult).Payload, &res))
	assert.Equal(t, "moved", res.Outcome)
	assert.Equal(t, grid.Cell{X: 6, Y: 4}, res.Cell)

	var moved token.Change
	require.NoError(t, json.Unmarshal(next(t, player, table.TypeChange).Payload, &moved))
	assert.Equal(t, token.OpUpdate, moved.Op)
	assert.Equal(t, 6, moved.Token.X)
}

func TestHandler_ErrorsGoToRequestingSeat(t *testing.T) {
	srv, _ := newServer(t)
	player := dial(t, srv, url.Values{"role": {"player"}, "name": {"Hero"}})
	next(t, player, table.TypeSnapshot)

	cases := []struct {
		name   string
		typ    string
		body   any
		intent string
	}{
		{name: "unknown intent", typ: "dance", intent: "dance"},
		{name: "missing payload", typ: gateway.IntentMove, intent: gateway.IntentMove},
		{name: "forbidden", typ: gateway.IntentResetCombat, intent: gateway.IntentResetCombat},
		{name: "unknown token", typ: gateway.IntentAdjustHP, body: map[string]any{"token_id": "nope", "delta": -3}, intent: gateway.IntentAdjustHP},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			send(t, player, tc.typ, tc.body)
			var reply gateway.ErrorReply
			require.NoError(t, json.Unmarshal(next(t, player, gateway.TypeError).Payload, &reply))
			assert.Equal(t, tc.intent, reply.Intent)
			assert.NotEmpty(t, reply.Message)
		})
	}
}

func TestHandler_MalformedFrame(t *testing.T) {
	srv, _ := newServer(t)
	conn := dial(t, srv, masterQuery())
	next(t, conn, table.TypeSnapshot)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	var reply gateway.ErrorReply
	require.NoError(t, json.Unmarshal(next(t, conn, gateway.TypeError).Payload, &reply))
	assert.Equal(t, "malformed message", reply.Message)
}

func TestHandler_SnapshotIntent(t *testing.T) {
	srv, _ := newServer(t)
	conn := dial(t, srv, masterQuery())
	next(t, conn, table.TypeSnapshot)

	send(t, conn, gateway.IntentCreateToken, map[string]any{"name": "Ogre", "type": "enemy", "size": 2})
	next(t, conn, table.TypeChange)
	send(t, conn, gateway.IntentSnapshot, nil)

	var snap table.Snapshot
	require.NoError(t, json.Unmarshal(next(t, conn, table.TypeSnapshot).Payload, &snap))
	require.Len(t, snap.Tokens, 1)
	assert.Equal(t, "Ogre", snap.Tokens[0].Name)
}

func TestHandler_DisconnectRemovesSeat(t *testing.T) {
	srv, hub := newServer(t)
	conn := dial(t, srv, masterQuery())
	next(t, conn, table.TypeSnapshot)
	require.Equal(t, 1, hub.Len())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestActorFromQuery(t *testing.T) {
	a, err := gateway.ActorFromQuery(url.Values{"role": {"player"}, "character_id": {"c1"}, "name": {"Vex"}})
	require.NoError(t, err)
	assert.Equal(t, movement.Actor{Role: movement.RolePlayer, CharacterID: "c1", Name: "Vex"}, a)

	_, err = gateway.ActorFromQuery(url.Values{})
	assert.Error(t, err)
}
