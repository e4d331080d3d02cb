package gateway

import (
	"encoding/json"

	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/initiative"
	"github.com/cory-johannsen/prism/internal/game/token"
)

// Intent types sent by seats.
const (
	IntentMove             = "move"
	IntentPointerDown      = "pointer_down"
	IntentPointerMove      = "pointer_move"
	IntentPointerUp        = "pointer_up"
	IntentPointerLeave     = "pointer_leave"
	IntentNextTurn         = "next_turn"
	IntentResetCombat      = "reset_combat"
	IntentCreateToken      = "create_token"
	IntentEnsureToken      = "ensure_token"
	IntentEditToken        = "edit_token"
	IntentAdjustHP         = "adjust_hp"
	IntentToggleStatus     = "toggle_status"
	IntentDeleteToken      = "delete_token"
	IntentRollInitiative   = "roll_initiative"
	IntentSubmitInitiative = "submit_initiative"
	IntentSpawnMonster     = "spawn_monster"
	IntentSnapshot         = "snapshot"
)

// Reply types sent only to the requesting seat.
const (
	TypeError      = "error"
	TypeMoveResult = "move_result"
)

// Envelope is one seat-to-server message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorReply reports a failed intent.
type ErrorReply struct {
	Intent  string `json:"intent"`
	Message string `json:"message"`
}

// MoveResult reports the outcome of a move intent or committed drag.
type MoveResult struct {
	TokenID string    `json:"token_id"`
	Outcome string    `json:"outcome"`
	Cell    grid.Cell `json:"cell"`
	Cost    int       `json:"cost"`
}

type moveIntent struct {
	TokenID string `json:"token_id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

type tokenIntent struct {
	TokenID string `json:"token_id"`
}

type editIntent struct {
	TokenID string     `json:"token_id"`
	Edit    token.Edit `json:"edit"`
}

type hpIntent struct {
	TokenID string `json:"token_id"`
	Delta   int    `json:"delta"`
}

type statusIntent struct {
	TokenID string             `json:"token_id"`
	Effect  token.StatusEffect `json:"effect"`
}

type rollIntent struct {
	TokenID  string `json:"token_id"`
	Modifier int    `json:"modifier"`
}

type submitIntent struct {
	TokenID string          `json:"token_id"`
	Roll    initiative.Roll `json:"roll"`
}

type spawnIntent struct {
	MonsterID string `json:"monster_id"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}
