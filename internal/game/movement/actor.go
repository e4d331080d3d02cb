// Package movement decides whether a proposed token relocation is legal for
// the acting seat and applies it, charging the movement budget.
package movement

import (
	"github.com/cory-johannsen/prism/internal/game/token"
)

// Role is the permission level of an acting seat.
type Role string

const (
	RoleGameMaster Role = "game-master"
	RolePlayer     Role = "player"
)

// Valid reports whether r is a recognised role.
func (r Role) Valid() bool {
	return r == RoleGameMaster || r == RolePlayer
}

// Actor is the role and identity a command is issued under. It is supplied by
// the session layer and only used for authorization.
type Actor struct {
	Role        Role   `json:"role"`
	CharacterID string `json:"character_id,omitempty"`
	Name        string `json:"name,omitempty"`
}

// IsMaster reports whether a acts with game-master authority.
func (a Actor) IsMaster() bool {
	return a.Role == RoleGameMaster
}

// OwnershipRule reports whether an actor owns a token under one matching
// strategy.
type OwnershipRule struct {
	Name  string
	Match func(Actor, token.Token) bool
}

// OwnershipRules are evaluated in order; the first match grants ownership.
// Empty identities never match, so an anonymous player owns nothing.
var OwnershipRules = []OwnershipRule{
	{
		Name: "character-link",
		Match: func(a Actor, t token.Token) bool {
			return a.CharacterID != "" && t.CharacterID == a.CharacterID
		},
	},
	{
		Name: "token-id",
		Match: func(a Actor, t token.Token) bool {
			return a.CharacterID != "" && t.ID == a.CharacterID
		},
	},
	{
		Name: "display-name",
		Match: func(a Actor, t token.Token) bool {
			return a.Name != "" && t.Name == a.Name
		},
	},
}

// OwnedBy returns the name of the first rule under which a owns t.
//
// Postcondition: Returns ("", false) when no rule matches.
func OwnedBy(a Actor, t token.Token) (string, bool) {
	for _, rule := range OwnershipRules {
		if rule.Match(a, t) {
			return rule.Name, true
		}
	}
	return "", false
}

// Owns reports whether a owns t.
func Owns(a Actor, t token.Token) bool {
	_, ok := OwnedBy(a, t)
	return ok
}

// CanControl reports whether a may issue commands for t: masters control
// every token, players only those they own.
func CanControl(a Actor, t token.Token) bool {
	return a.IsMaster() || Owns(a, t)
}
