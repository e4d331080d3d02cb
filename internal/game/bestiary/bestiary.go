// Package bestiary loads monster presets from YAML and turns them into
// enemy tokens.
package bestiary

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/token"
)

// EnemyColor is the marker color given to spawned monsters.
const EnemyColor = "#ef4444"

// MaxSize is the largest footprint, in cells per side, a preset may have.
const MaxSize = 4

// Stats holds the six ability scores of a monster.
type Stats struct {
	Str int `yaml:"str" json:"str"`
	Dex int `yaml:"dex" json:"dex"`
	Con int `yaml:"con" json:"con"`
	Int int `yaml:"int" json:"int"`
	Wis int `yaml:"wis" json:"wis"`
	Cha int `yaml:"cha" json:"cha"`
}

// Monster is a reusable stat block.
type Monster struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Type      string `yaml:"type" json:"type"`
	CR        string `yaml:"cr" json:"cr,omitempty"`
	HP        int    `yaml:"hp" json:"hp"`
	AC        int    `yaml:"ac" json:"ac"`
	Speed     int    `yaml:"speed" json:"speed"`
	Size      int    `yaml:"size" json:"size"`
	Stats     Stats  `yaml:"stats" json:"stats"`
	AvatarURL string `yaml:"avatar_url" json:"avatar_url,omitempty"`
}

// Validate checks the stat block.
//
// Postcondition: Returns nil iff ID and Name are set, HP >= 1,
// 1 <= Size <= MaxSize and Speed is a positive multiple of 5.
func (m *Monster) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("monster: id must not be empty")
	}
	if m.Name == "" {
		return fmt.Errorf("monster %q: name must not be empty", m.ID)
	}
	if m.HP < 1 {
		return fmt.Errorf("monster %q: hp must be >= 1", m.ID)
	}
	if m.Size < 1 || m.Size > MaxSize {
		return fmt.Errorf("monster %q: size must be in [1, %d], got %d", m.ID, MaxSize, m.Size)
	}
	if m.Speed <= 0 || m.Speed%grid.FeetPerCell != 0 {
		return fmt.Errorf("monster %q: speed must be a positive multiple of %d", m.ID, grid.FeetPerCell)
	}
	return nil
}

// DexMod returns the dexterity modifier used for initiative.
func (m *Monster) DexMod() int {
	return Modifier(m.Stats.Dex)
}

// Modifier converts an ability score into its modifier, rounding down.
func Modifier(score int) int {
	d := score - 10
	if d < 0 {
		return (d - 1) / 2
	}
	return d / 2
}

// Fits reports whether m's footprint can be placed on board.
func (m *Monster) Fits(board grid.Map) bool {
	return grid.Fits(m.Size, board)
}

// Token builds an unsaved enemy token for m at c, clamped onto board.
//
// Precondition: m.Fits(board).
// Postcondition: The token has no id, full HP and a full movement budget.
func (m *Monster) Token(c grid.Cell, board grid.Map) token.Token {
	c = grid.ClampToBounds(c, m.Size, board)
	return token.Token{
		Name:              m.Name,
		X:                 c.X,
		Y:                 c.Y,
		Size:              m.Size,
		Kind:              token.KindEnemy,
		Color:             EnemyColor,
		HP:                m.HP,
		MaxHP:             m.HP,
		AC:                m.AC,
		Speed:             m.Speed,
		RemainingMovement: m.Speed,
		Status:            token.NewStatusSet(),
		AvatarURL:         m.AvatarURL,
	}
}

// Parse decodes one monster from YAML, filling Size and Speed defaults.
//
// Postcondition: Returns a validated *Monster or an error.
func Parse(data []byte) (*Monster, error) {
	m := Monster{Size: token.DefaultSize, Speed: token.DefaultSpeed}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing monster YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Bestiary is an immutable index of monsters by id.
type Bestiary struct {
	byID map[string]*Monster
}

// New indexes monsters.
//
// Postcondition: Returns an error if two monsters share an id.
func New(monsters []*Monster) (*Bestiary, error) {
	b := &Bestiary{byID: make(map[string]*Monster, len(monsters))}
	for _, m := range monsters {
		if _, dup := b.byID[m.ID]; dup {
			return nil, fmt.Errorf("monster %q defined twice", m.ID)
		}
		b.byID[m.ID] = m
	}
	return b, nil
}

// Load reads every *.yaml file in dir. An empty dir argument yields an empty
// Bestiary.
//
// Postcondition: Returns the full Bestiary or the first read, parse or
// validation error.
func Load(dir string) (*Bestiary, error) {
	if dir == "" {
		return New(nil)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading bestiary dir %q: %w", dir, err)
	}
	var monsters []*Monster
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		m, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		monsters = append(monsters, m)
	}
	return New(monsters)
}

// Get returns the monster with id.
func (b *Bestiary) Get(id string) (*Monster, bool) {
	m, ok := b.byID[id]
	return m, ok
}

// All returns every monster sorted by name.
func (b *Bestiary) All() []*Monster {
	out := make([]*Monster, 0, len(b.byID))
	for _, m := range b.byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of monsters.
func (b *Bestiary) Len() int {
	return len(b.byID)
}
