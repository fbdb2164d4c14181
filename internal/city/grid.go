package city

import (
	"errors"
	"fmt"
	"sort"
)

// TileClass classifies a single grid cell.
type TileClass uint8

const (
	Empty TileClass = iota
	Road
	Residence
	Workplace
	Leisure
	Eatery
)

var tileClassNames = [...]string{
	Empty:     "EMPTY",
	Road:      "ROAD",
	Residence: "RESIDENCE",
	Workplace: "WORKPLACE",
	Leisure:   "LEISURE",
	Eatery:    "EATERY",
}

func (c TileClass) String() string {
	if int(c) < len(tileClassNames) {
		return tileClassNames[c]
	}
	return fmt.Sprintf("TILE(%d)", uint8(c))
}

// ParseTileClass is the inverse of String.
func ParseTileClass(s string) (TileClass, bool) {
	for i, n := range tileClassNames {
		if n == s {
			return TileClass(i), true
		}
	}
	return Empty, false
}

func (c TileClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *TileClass) UnmarshalText(b []byte) error {
	v, ok := ParseTileClass(string(b))
	if !ok {
		return fmt.Errorf("unknown tile class %q", b)
	}
	*c = v
	return nil
}

// IsBuilding reports whether the class is one of the four building kinds.
func (c TileClass) IsBuilding() bool {
	return c == Residence || c == Workplace || c == Leisure || c == Eatery
}

var ErrOutOfBounds = errors.New("cell out of bounds")

type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Chebyshev returns the king-move distance between two cells.
func Chebyshev(a, b Cell) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// Grid is immutable once built. All methods are safe for concurrent readers.
type Grid struct {
	width  int
	height int
	tiles  []TileClass
	names  map[Cell]string

	residences []Cell
	workplaces []Cell
	leisure    []Cell
	eateries   []Cell
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

func (g *Grid) InBounds(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.width && c.Y < g.height
}

// TileAt returns Empty for out-of-bounds cells.
func (g *Grid) TileAt(c Cell) TileClass {
	if !g.InBounds(c) {
		return Empty
	}
	return g.tiles[c.Y*g.width+c.X]
}

func (g *Grid) NameAt(c Cell) (string, bool) {
	n, ok := g.names[c]
	return n, ok
}

// Tiles returns a row-major copy of the tile classes.
func (g *Grid) Tiles() []TileClass {
	out := make([]TileClass, len(g.tiles))
	copy(out, g.tiles)
	return out
}

// Names returns a copy of the name table.
func (g *Grid) Names() map[Cell]string {
	out := make(map[Cell]string, len(g.names))
	for k, v := range g.names {
		out[k] = v
	}
	return out
}

func (g *Grid) Residences() []Cell   { return g.residences }
func (g *Grid) Workplaces() []Cell   { return g.workplaces }
func (g *Grid) LeisureSites() []Cell { return g.leisure }
func (g *Grid) Eateries() []Cell     { return g.eateries }

// Registry returns the building registry for a class (nil for Road/Empty).
func (g *Grid) Registry(class TileClass) []Cell {
	switch class {
	case Residence:
		return g.residences
	case Workplace:
		return g.workplaces
	case Leisure:
		return g.leisure
	case Eatery:
		return g.eateries
	default:
		return nil
	}
}

// Builder assembles a Grid. It is not safe for concurrent use.
type Builder struct {
	width  int
	height int
	tiles  []TileClass
	names  map[Cell]string
}

func NewBuilder(width, height int) *Builder {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &Builder{
		width:  width,
		height: height,
		tiles:  make([]TileClass, width*height),
		names:  map[Cell]string{},
	}
}

func (b *Builder) inBounds(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < b.width && c.Y < b.height
}

func (b *Builder) At(c Cell) TileClass {
	if !b.inBounds(c) {
		return Empty
	}
	return b.tiles[c.Y*b.width+c.X]
}

// Set classifies a cell. An empty name clears any previous name.
func (b *Builder) Set(c Cell, class TileClass, name string) error {
	if !b.inBounds(c) {
		return fmt.Errorf("set %s: %w", c, ErrOutOfBounds)
	}
	b.tiles[c.Y*b.width+c.X] = class
	if name == "" {
		delete(b.names, c)
	} else {
		b.names[c] = name
	}
	return nil
}

// Road paints a straight horizontal or vertical road segment, inclusive.
func (b *Builder) Road(from, to Cell) error {
	if from.X != to.X && from.Y != to.Y {
		return fmt.Errorf("road %s-%s: not axis aligned", from, to)
	}
	dx, dy := sign(to.X-from.X), sign(to.Y-from.Y)
	c := from
	for {
		if err := b.Set(c, Road, ""); err != nil {
			return err
		}
		if c == to {
			return nil
		}
		c = Cell{X: c.X + dx, Y: c.Y + dy}
	}
}

func (b *Builder) Build() *Grid {
	g := &Grid{
		width:  b.width,
		height: b.height,
		tiles:  make([]TileClass, len(b.tiles)),
		names:  make(map[Cell]string, len(b.names)),
	}
	copy(g.tiles, b.tiles)
	for k, v := range b.names {
		g.names[k] = v
	}
	// Row-major scan keeps registries in a stable order.
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			c := Cell{X: x, Y: y}
			switch g.tiles[y*g.width+x] {
			case Residence:
				g.residences = append(g.residences, c)
			case Workplace:
				g.workplaces = append(g.workplaces, c)
			case Leisure:
				g.leisure = append(g.leisure, c)
			case Eatery:
				g.eateries = append(g.eateries, c)
			}
		}
	}
	return g
}

// FromTiles rebuilds a grid from a row-major tile slice and a name table.
func FromTiles(width, height int, tiles []TileClass, names map[Cell]string) (*Grid, error) {
	if width <= 0 || height <= 0 || len(tiles) != width*height {
		return nil, fmt.Errorf("tiles: want %dx%d=%d cells, got %d", width, height, width*height, len(tiles))
	}
	b := NewBuilder(width, height)
	copy(b.tiles, tiles)
	keys := make([]Cell, 0, len(names))
	for c := range names {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
	for _, c := range keys {
		if !b.inBounds(c) {
			return nil, fmt.Errorf("name at %s: %w", c, ErrOutOfBounds)
		}
		b.names[c] = names[c]
	}
	return b.Build(), nil
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
