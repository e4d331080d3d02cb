// Package grid provides the pure geometry of the battle map: cell occupancy,
// movement cost, reachable area and bounds clamping for tokens of any
// footprint size.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// FeetPerCell is the distance in feet covered by moving one cell in any
// direction, including diagonally.
const FeetPerCell = 5

// ErrFootprintTooLarge is returned by CheckFits for a footprint that cannot
// lie fully on the map.
var ErrFootprintTooLarge = errors.New("footprint does not fit the map")

// Cell is an integer grid coordinate.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns "(x,y)".
func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Point is a pixel coordinate on the map surface.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Map describes the shared battle surface in pixels.
type Map struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	GridSize int    `json:"grid_size"`
	ImageURL string `json:"image_url"`
}

// Validate checks that the map has a positive size and cell size.
//
// Postcondition: Returns nil iff Width, Height and GridSize are all > 0.
// A Width or Height that is not a multiple of GridSize is accepted; the
// trailing partial cells are simply not addressable.
func (m Map) Validate() error {
	if m.GridSize <= 0 {
		return fmt.Errorf("grid: grid size must be > 0, got %d", m.GridSize)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("grid: map dimensions must be > 0, got %dx%d", m.Width, m.Height)
	}
	return nil
}

// Columns returns the number of whole cells across the map.
func (m Map) Columns() int {
	if m.GridSize <= 0 {
		return 0
	}
	return m.Width / m.GridSize
}

// Rows returns the number of whole cells down the map.
func (m Map) Rows() int {
	if m.GridSize <= 0 {
		return 0
	}
	return m.Height / m.GridSize
}

// FootprintCenter returns the pixel center of a size×size footprint whose
// top-left cell is c.
//
// Postcondition: Returns (c.X*g + size*g/2, c.Y*g + size*g/2).
func FootprintCenter(c Cell, size, gridSize int) Point {
	half := float64(size*gridSize) / 2
	return Point{
		X: float64(c.X*gridSize) + half,
		Y: float64(c.Y*gridSize) + half,
	}
}

// MovementCost returns the cost in feet of moving from one cell to another.
// Diagonal steps cost the same as orthogonal ones (Chebyshev distance).
//
// Postcondition: Returns max(|dx|, |dy|) * FeetPerCell, always >= 0.
func MovementCost(from, to Cell) int {
	return max(abs(to.X-from.X), abs(to.Y-from.Y)) * FeetPerCell
}

// RangeCells converts a movement budget in feet into whole cells.
// Partial increments cannot be spent.
//
// Postcondition: Returns floor(remaining/FeetPerCell), or 0 when remaining <= 0.
func RangeCells(remaining int) int {
	if remaining <= 0 {
		return 0
	}
	return remaining / FeetPerCell
}

// Rect is an inclusive rectangle of cells.
type Rect struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Contains reports whether c lies inside r.
func (r Rect) Contains(c Cell) bool {
	return c.X >= r.MinX && c.X <= r.MaxX && c.Y >= r.MinY && c.Y <= r.MaxY
}

// ReachableArea returns the cells a token of the given size at c could cover
// with remaining feet of movement, clipped to the map.
//
// Postcondition: Each axis spans [pos-range, pos+range+size-1] intersected
// with [0, cells-1], where range = RangeCells(remaining).
func ReachableArea(c Cell, size, remaining int, m Map) Rect {
	r := RangeCells(remaining)
	return Rect{
		MinX: clampInt(c.X-r, 0, m.Columns()-1),
		MinY: clampInt(c.Y-r, 0, m.Rows()-1),
		MaxX: clampInt(c.X+r+size-1, 0, m.Columns()-1),
		MaxY: clampInt(c.Y+r+size-1, 0, m.Rows()-1),
	}
}

// ClampToBounds moves c so that a size×size footprint lies fully on the map.
// A footprint larger than the map is pinned to the origin; callers reject
// such sizes with CheckFits first.
//
// Postcondition: 0 <= X <= max(0, Columns-size) and 0 <= Y <= max(0, Rows-size).
func ClampToBounds(c Cell, size int, m Map) Cell {
	return Cell{
		X: clampInt(c.X, 0, m.Columns()-size),
		Y: clampInt(c.Y, 0, m.Rows()-size),
	}
}

// Fits reports whether a size×size footprint can lie fully on m somewhere.
//
// Postcondition: Returns true iff 1 <= size <= min(Columns, Rows).
func Fits(size int, m Map) bool {
	return size >= 1 && size <= min(m.Columns(), m.Rows())
}

// CheckFits returns an error wrapping ErrFootprintTooLarge when size does not
// Fit m.
func CheckFits(size int, m Map) error {
	if !Fits(size, m) {
		return fmt.Errorf("%w: size %d on a %dx%d grid", ErrFootprintTooLarge, size, m.Columns(), m.Rows())
	}
	return nil
}

// InBounds reports whether the whole footprint of size at c is on the map.
func InBounds(c Cell, size int, m Map) bool {
	return c.X >= 0 && c.Y >= 0 && c.X+size <= m.Columns() && c.Y+size <= m.Rows()
}

// CellAt returns the cell containing pixel p.
func CellAt(p Point, gridSize int) Cell {
	g := float64(gridSize)
	return Cell{X: int(math.Floor(p.X / g)), Y: int(math.Floor(p.Y / g))}
}

// CellFromCenter converts the pixel center of a size×size footprint back to
// its top-left cell, rounding half up.
//
// Postcondition: Returns round((p - size*g/2) / g) per axis.
func CellFromCenter(p Point, size, gridSize int) Cell {
	g := float64(gridSize)
	half := float64(size*gridSize) / 2
	return Cell{
		X: int(math.Floor((p.X-half)/g + 0.5)),
		Y: int(math.Floor((p.Y-half)/g + 0.5)),
	}
}

// FootprintContains reports whether pixel p falls inside the footprint of a
// size×size token at c.
func FootprintContains(c Cell, size, gridSize int, p Point) bool {
	x0 := float64(c.X * gridSize)
	y0 := float64(c.Y * gridSize)
	span := float64(size * gridSize)
	return p.X >= x0 && p.X < x0+span && p.Y >= y0 && p.Y < y0+span
}

// Box is an inclusive pixel rectangle.
type Box struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Unbounded is a Box that clamps nothing.
var Unbounded = Box{
	MinX: math.Inf(-1),
	MinY: math.Inf(-1),
	MaxX: math.Inf(1),
	MaxY: math.Inf(1),
}

// CenterBox returns the box of footprint centers reachable from center when
// moving at most rangeCells cells in each axis.
func CenterBox(center Point, rangeCells, gridSize int) Box {
	d := float64(rangeCells * gridSize)
	return Box{
		MinX: center.X - d,
		MinY: center.Y - d,
		MaxX: center.X + d,
		MaxY: center.Y + d,
	}
}

// Clamp pins p componentwise into b.
func (b Box) Clamp(p Point) Point {
	return Point{
		X: math.Max(b.MinX, math.Min(p.X, b.MaxX)),
		Y: math.Max(b.MinY, math.Min(p.Y, b.MaxY)),
	}
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
