package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
	"github.com/cory-johannsen/prism/internal/table"
)

// DefaultWriteTimeout bounds one websocket frame write.
const DefaultWriteTimeout = 3 * time.Second

// Options configures a Handler.
type Options struct {
	WriteTimeout time.Duration
	// OriginPatterns lists allowed Origin hosts. Empty accepts any origin.
	OriginPatterns []string
}

// Handler upgrades requests to websockets and turns each connection into a
// table seat. The seat's identity comes from the role, character_id and
// name query parameters.
type Handler struct {
	table  *table.Table
	hub    *Hub
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a Handler serving tbl through hub.
//
// Precondition: tbl, hub and logger must be non-nil.
func NewHandler(tbl *table.Table, hub *Hub, opts Options, logger *zap.Logger) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Handler{table: tbl, hub: hub, opts: opts, logger: logger}
}

// ActorFromQuery reads the seat identity from URL query parameters.
//
// Postcondition: Returns an error if role is missing or unknown.
func ActorFromQuery(q url.Values) (movement.Actor, error) {
	actor := movement.Actor{
		Role:        movement.Role(q.Get("role")),
		CharacterID: q.Get("character_id"),
		Name:        q.Get("name"),
	}
	if !actor.Role.Valid() {
		return movement.Actor{}, fmt.Errorf("role must be %q or %q, got %q",
			movement.RoleGameMaster, movement.RolePlayer, actor.Role)
	}
	return actor, nil
}

// ServeHTTP runs one seat until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.opts.OriginPatterns,
		InsecureSkipVerify: len(h.opts.OriginPatterns) == 0,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	seatID := uuid.NewString()
	logger := h.logger.With(zap.String("seat", seatID), zap.String("role", string(actor.Role)))

	c := h.hub.add(seatID, conn)
	go h.hub.writeLoop(c, h.opts.WriteTimeout)
	defer h.hub.remove(seatID)

	if _, err := h.table.Join(ctx, seatID, actor); err != nil {
		logger.Error("joining table", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		return
	}
	defer func() {
		if err := h.table.Leave(context.Background(), seatID); err != nil && !errors.Is(err, table.ErrClosed) {
			logger.Warn("leaving table", zap.Error(err))
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug("seat disconnected",
				zap.Int("status", int(websocket.CloseStatus(err))),
				zap.Error(err),
			)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.reply(seatID, TypeError, ErrorReply{Message: "malformed message"})
			continue
		}
		if err := h.dispatch(ctx, seatID, env); err != nil {
			if errors.Is(err, table.ErrClosed) || ctx.Err() != nil {
				_ = conn.Close(websocket.StatusGoingAway, "table closed")
				return
			}
			logger.Debug("intent failed", zap.String("intent", env.Type), zap.Error(err))
			h.reply(seatID, TypeError, ErrorReply{Intent: env.Type, Message: err.Error()})
		}
	}
}

func (h *Handler) reply(seatID, typ string, payload any) {
	h.hub.Publish(seatID, table.Message{Type: typ, Payload: payload})
}

func (h *Handler) moveResult(seatID string, res movement.Result) {
	h.reply(seatID, TypeMoveResult, MoveResult{
		TokenID: res.Token.ID,
		Outcome: res.Outcome.String(),
		Cell:    res.Token.Cell(),
		Cost:    res.Cost,
	})
}

// dispatch decodes env's payload and runs the matching table command.
func (h *Handler) dispatch(ctx context.Context, seatID string, env Envelope) error {
	t := h.table
	switch env.Type {
	case IntentMove:
		var in moveIntent
		if err := decode(env, &in); err != nil {
			return err
		}
		res, err := t.Move(ctx, seatID, in.TokenID, grid.Cell{X: in.X, Y: in.Y})
		if err != nil {
			return err
		}
		h.moveResult(seatID, res)
		return nil

	case IntentPointerDown, IntentPointerMove:
		var p grid.Point
		if err := decode(env, &p); err != nil {
			return err
		}
		if env.Type == IntentPointerDown {
			_, _, err := t.PointerDown(ctx, seatID, p)
			return err
		}
		_, _, err := t.PointerMove(ctx, seatID, p)
		return err

	case IntentPointerUp:
		rel, err := t.PointerUp(ctx, seatID)
		if err != nil {
			return err
		}
		if rel.Move != nil {
			h.moveResult(seatID, *rel.Move)
		}
		return nil

	case IntentPointerLeave:
		return t.PointerLeave(ctx, seatID)

	case IntentNextTurn:
		_, err := t.NextTurn(ctx, seatID)
		return err

	case IntentResetCombat:
		return t.ResetCombat(ctx, seatID)

	case IntentCreateToken:
		var in token.Token
		if err := decode(env, &in); err != nil {
			return err
		}
		_, err := t.CreateToken(ctx, seatID, in)
		return err

	case IntentEnsureToken:
		var in table.CharacterSheet
		if err := decode(env, &in); err != nil {
			return err
		}
		_, _, err := t.EnsurePlayerToken(ctx, seatID, in)
		return err

	case IntentEditToken:
		var in editIntent
		if err := decode(env, &in); err != nil {
			return err
		}
		_, err := t.EditToken(ctx, seatID, in.TokenID, in.Edit)
		return err

	case IntentAdjustHP:
		var in hpIntent
		if err := decode(env, &in); err != nil {
			return err
		}
		_, err := t.AdjustHP(ctx, seatID, in.TokenID, in.Delta)
		return err

	case IntentToggleStatus:
		var in statusIntent
		if err := decode(env, &in); err != nil {
			return err
		}
		_, err := t.ToggleStatus(ctx, seatID, in.TokenID, in.Effect)
		return err

	case IntentDeleteToken:
		var in tokenIntent
		if err := decode(env, &in); err != nil {
			return err
		}
		return t.DeleteToken(ctx, seatID, in.TokenID)

	case IntentRollInitiative:
		var in rollIntent
		if err := decode(env, &in); err != nil {
			return err
		}
		_, err := t.RollInitiative(ctx, seatID, in.TokenID, in.Modifier)
		return err

	case IntentSubmitInitiative:
		var in submitIntent
		if err := decode(env, &in); err != nil {
			return err
		}
		_, err := t.SubmitInitiative(ctx, seatID, in.TokenID, in.Roll)
		return err

	case IntentSpawnMonster:
		var in spawnIntent
		if err := decode(env, &in); err != nil {
			return err
		}
		_, err := t.SpawnMonster(ctx, seatID, in.MonsterID, grid.Cell{X: in.X, Y: in.Y})
		return err

	case IntentSnapshot:
		snap, err := t.Snapshot(ctx, seatID)
		if err != nil {
			return err
		}
		h.reply(seatID, table.TypeSnapshot, snap)
		return nil
	}
	return fmt.Errorf("unknown intent %q", env.Type)
}

func decode(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%s: decoding payload: %w", env.Type, err)
	}
	return nil
}
