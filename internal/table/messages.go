package table

import (
	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/initiative"
	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
)

// Message types pushed to seats.
const (
	TypeSnapshot = "snapshot"
	TypeChange   = "change"
	TypeTurn     = "turn"
	TypeNotice   = "notice"
	TypeDrag     = "drag"
	TypeSelect   = "select"
)

// Message is one server-to-seat event.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Publisher delivers messages to seats. An empty seat id addresses every
// seat. Publish is called from the table's loop and must not block.
type Publisher interface {
	Publish(seatID string, msg Message)
}

// NoticeKindSystem marks notices generated by the table itself.
const NoticeKindSystem = "system"

// Notice is a short text shown to players.
type Notice struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// SeatInfo echoes a seat's identity back to it.
type SeatInfo struct {
	ID          string        `json:"id"`
	Role        movement.Role `json:"role"`
	Name        string        `json:"name,omitempty"`
	CharacterID string        `json:"character_id,omitempty"`
}

// Snapshot is the full table state sent when a seat joins. Tokens are in
// initiative order.
type Snapshot struct {
	Seat   SeatInfo        `json:"seat"`
	Board  grid.Map        `json:"board"`
	Tokens []token.Token   `json:"tokens"`
	Turn   initiative.Turn `json:"turn"`
}

// DragView is the live state of a seat's drag gesture.
type DragView struct {
	TokenID   string     `json:"token_id"`
	Candidate grid.Point `json:"candidate"`
	Moved     bool       `json:"moved"`
	// Reach is the reachable cell area, absent for unbounded drags.
	Reach *grid.Rect `json:"reach,omitempty"`
}

// Selection reports a clicked token.
type Selection struct {
	TokenID string `json:"token_id"`
}

// CharacterSheet carries the stats a player token is created from. Zero
// values fall back to the player defaults.
type CharacterSheet struct {
	Name      string `json:"name"`
	MaxHP     int    `json:"max_hp"`
	AC        int    `json:"ac"`
	Speed     int    `json:"speed"`
	AvatarURL string `json:"avatar_url"`
}

// Player token defaults.
const (
	PlayerColor = "#22c55e"
	PlayerMaxHP = 30
	PlayerAC    = 14
)

// PlayerSpawn is where new player tokens are placed.
var PlayerSpawn = grid.Cell{X: 2, Y: 2}
