// Package token defines the placed creature markers of a table and the
// per-process Store that holds the authoritative local copy of them.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/cory-johannsen/prism/internal/game/grid"
)

// Kind distinguishes player characters, friendly NPCs and enemies.
type Kind string

const (
	KindPC    Kind = "pc"
	KindNPC   Kind = "npc"
	KindEnemy Kind = "enemy"
)

// Valid reports whether k is a recognised kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPC, KindNPC, KindEnemy:
		return true
	}
	return false
}

// Default stat values used when a token is created without them.
const (
	DefaultSpeed = 30
	DefaultSize  = 1
)

// ErrNoID is returned when a token without an id is offered to the Store.
var ErrNoID = errors.New("token has no id")

// Token is a creature marker placed on the map.
//
// Invariant (for a stored token): Size >= 1; 0 <= HP <= MaxHP; Speed > 0 and a
// multiple of 5; 0 <= RemainingMovement <= Speed; X, Y >= 0.
type Token struct {
	// ID is opaque and empty until the token is first persisted.
	ID    string `json:"id"`
	Name  string `json:"name"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Size  int    `json:"size"`
	Kind  Kind   `json:"type"`
	Color string `json:"color"`

	HP    int `json:"hp"`
	MaxHP int `json:"max_hp"`
	AC    int `json:"ac"`

	// Speed is the full movement budget in feet per turn.
	Speed int `json:"speed"`
	// RemainingMovement is the unspent budget in feet for the current turn.
	RemainingMovement int `json:"remaining_movement"`
	Initiative        int `json:"initiative"`

	Status    StatusSet `json:"status_effects"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	// CharacterID links the token to an external character sheet.
	CharacterID string `json:"character_sheet_id,omitempty"`
}

// Cell returns the top-left cell of the token's footprint.
func (t Token) Cell() grid.Cell {
	return grid.Cell{X: t.X, Y: t.Y}
}

// Validate checks the token invariants.
//
// Postcondition: Returns nil iff every invariant holds, otherwise an error
// naming the first violation.
func (t Token) Validate() error {
	switch {
	case !t.Kind.Valid():
		return fmt.Errorf("token %q: unknown type %q", t.Name, t.Kind)
	case t.Size < 1:
		return fmt.Errorf("token %q: size must be >= 1, got %d", t.Name, t.Size)
	case t.MaxHP <= 0:
		return fmt.Errorf("token %q: max_hp must be > 0, got %d", t.Name, t.MaxHP)
	case t.HP < 0 || t.HP > t.MaxHP:
		return fmt.Errorf("token %q: hp must be in [0, %d], got %d", t.Name, t.MaxHP, t.HP)
	case t.Speed <= 0 || t.Speed%grid.FeetPerCell != 0:
		return fmt.Errorf("token %q: speed must be a positive multiple of %d, got %d", t.Name, grid.FeetPerCell, t.Speed)
	case t.RemainingMovement < 0 || t.RemainingMovement > t.Speed:
		return fmt.Errorf("token %q: remaining_movement must be in [0, %d], got %d", t.Name, t.Speed, t.RemainingMovement)
	case t.X < 0 || t.Y < 0:
		return fmt.Errorf("token %q: position %s is off the map", t.Name, t.Cell())
	}
	return nil
}

// Normalize fills zero-valued stats with defaults and clamps the budget and
// hit points into range.
func (t Token) Normalize() Token {
	if t.Size < 1 {
		t.Size = DefaultSize
	}
	if t.Kind == "" {
		t.Kind = KindNPC
	}
	if t.Speed <= 0 {
		t.Speed = DefaultSpeed
	}
	if t.MaxHP <= 0 {
		t.MaxHP = 1
	}
	t.HP = clamp(t.HP, 0, t.MaxHP)
	t.RemainingMovement = clamp(t.RemainingMovement, 0, t.Speed)
	t.Status = NewStatusSet(t.Status...)
	return t
}

// Clone returns a deep copy of t.
func (t Token) Clone() Token {
	t.Status = t.Status.Clone()
	return t
}

// WithPosition returns a copy of t moved to c.
func (t Token) WithPosition(c grid.Cell) Token {
	out := t.Clone()
	out.X, out.Y = c.X, c.Y
	return out
}

// Spend returns a copy of t with cost feet deducted from the movement budget.
//
// Precondition: 0 <= cost <= t.RemainingMovement.
func (t Token) Spend(cost int) Token {
	out := t.Clone()
	out.RemainingMovement = clamp(out.RemainingMovement-cost, 0, out.Speed)
	return out
}

// Refreshed returns a copy of t with a full movement budget.
func (t Token) Refreshed() Token {
	out := t.Clone()
	out.RemainingMovement = out.Speed
	return out
}

// WithInitiative returns a copy of t with the given initiative score.
func (t Token) WithInitiative(score int) Token {
	out := t.Clone()
	out.Initiative = score
	return out
}

// AdjustHP returns a copy of t with delta applied to HP.
//
// Postcondition: 0 <= HP <= MaxHP.
func (t Token) AdjustHP(delta int) Token {
	out := t.Clone()
	out.HP = clamp(out.HP+delta, 0, out.MaxHP)
	return out
}

// ToggleStatus returns a copy of t with effect added or removed.
func (t Token) ToggleStatus(effect StatusEffect) Token {
	out := t.Clone()
	out.Status = out.Status.Toggle(effect)
	return out
}

// Edit carries the editable token properties. Nil fields are left unchanged.
type Edit struct {
	Name      *string `json:"name,omitempty"`
	Color     *string `json:"color,omitempty"`
	MaxHP     *int    `json:"max_hp,omitempty"`
	AC        *int    `json:"ac,omitempty"`
	Speed     *int    `json:"speed,omitempty"`
	Size      *int    `json:"size,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// ApplyEdit returns a copy of t with e applied. Lowering MaxHP clamps HP down
// and lowering Speed clamps RemainingMovement down.
//
// Postcondition: Returns an error and the unmodified token if the result
// would violate an invariant.
func (t Token) ApplyEdit(e Edit) (Token, error) {
	out := t.Clone()
	if e.Name != nil {
		out.Name = *e.Name
	}
	if e.Color != nil {
		out.Color = *e.Color
	}
	if e.AC != nil {
		out.AC = *e.AC
	}
	if e.AvatarURL != nil {
		out.AvatarURL = *e.AvatarURL
	}
	if e.Size != nil {
		out.Size = *e.Size
	}
	if e.MaxHP != nil {
		out.MaxHP = *e.MaxHP
		out.HP = min(out.HP, out.MaxHP)
	}
	if e.Speed != nil {
		out.Speed = *e.Speed
		out.RemainingMovement = min(out.RemainingMovement, out.Speed)
	}
	if err := out.Validate(); err != nil {
		return t, err
	}
	return out, nil
}

// StatusEffect names a condition applied to a token.
type StatusEffect string

// StatusEffects lists the recognised conditions.
var StatusEffects = []StatusEffect{
	"Blinded", "Charmed", "Deafened", "Frightened", "Grappled",
	"Incapacitated", "Invisible", "Paralyzed", "Petrified",
	"Poisoned", "Prone", "Restrained", "Stunned", "Unconscious",
}

// KnownStatus reports whether e is one of StatusEffects.
func KnownStatus(e StatusEffect) bool {
	return slices.Contains(StatusEffects, e)
}

// StatusSet is an order-irrelevant set of status effects, kept sorted and
// free of duplicates.
type StatusSet []StatusEffect

// NewStatusSet builds a set from effects, dropping duplicates.
func NewStatusSet(effects ...StatusEffect) StatusSet {
	out := make(StatusSet, 0, len(effects))
	for _, e := range effects {
		out = out.add(e)
	}
	return out
}

// Has reports whether e is in the set.
func (s StatusSet) Has(e StatusEffect) bool {
	_, found := slices.BinarySearch(s, e)
	return found
}

// Toggle returns a new set with e added if absent or removed if present.
func (s StatusSet) Toggle(e StatusEffect) StatusSet {
	i, found := slices.BinarySearch(s, e)
	out := s.Clone()
	if found {
		return slices.Delete(out, i, i+1)
	}
	return out.add(e)
}

// Clone returns a copy of s that shares no storage with it.
func (s StatusSet) Clone() StatusSet {
	return slices.Clone(s)
}

// MarshalJSON encodes a nil set as an empty array.
func (s StatusSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]StatusEffect(s))
}

func (s StatusSet) add(e StatusEffect) StatusSet {
	i, found := slices.BinarySearch(s, e)
	if found {
		return s
	}
	return slices.Insert(s, i, e)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
