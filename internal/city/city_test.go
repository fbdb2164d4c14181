package city

import (
	"errors"
	"math/rand"
	"testing"

	"citysim/internal/sim/catalogs"
)

func TestBuilder_RoadAndRegistries(t *testing.T) {
	b := NewBuilder(5, 3)
	if err := b.Road(Cell{X: 0, Y: 1}, Cell{X: 4, Y: 1}); err != nil {
		t.Fatalf("Road: %v", err)
	}
	_ = b.Set(Cell{X: 3, Y: 0}, Workplace, "Atlas Works")
	_ = b.Set(Cell{X: 1, Y: 0}, Residence, "1 Oak Street")
	_ = b.Set(Cell{X: 0, Y: 2}, Eatery, "Corner Noodles")
	g := b.Build()

	for x := 0; x < 5; x++ {
		if got := g.TileAt(Cell{X: x, Y: 1}); got != Road {
			t.Fatalf("TileAt(%d,1)=%s want ROAD", x, got)
		}
	}
	if got := g.TileAt(Cell{X: -1, Y: 0}); got != Empty {
		t.Fatalf("out of bounds tile=%s", got)
	}
	if n, ok := g.NameAt(Cell{X: 3, Y: 0}); !ok || n != "Atlas Works" {
		t.Fatalf("NameAt workplace=%q,%v", n, ok)
	}
	if _, ok := g.NameAt(Cell{X: 2, Y: 1}); ok {
		t.Fatalf("road should be unnamed")
	}
	if len(g.Residences()) != 1 || len(g.Workplaces()) != 1 || len(g.Eateries()) != 1 || len(g.LeisureSites()) != 0 {
		t.Fatalf("registries: r=%v w=%v e=%v l=%v", g.Residences(), g.Workplaces(), g.Eateries(), g.LeisureSites())
	}

	// Builder mutations after Build must not leak into the grid.
	_ = b.Set(Cell{X: 0, Y: 1}, Empty, "")
	if g.TileAt(Cell{X: 0, Y: 1}) != Road {
		t.Fatalf("grid aliased builder storage")
	}
}

func TestBuilder_Errors(t *testing.T) {
	b := NewBuilder(3, 3)
	if err := b.Set(Cell{X: 3, Y: 0}, Road, ""); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Set out of bounds err=%v", err)
	}
	if err := b.Road(Cell{X: 0, Y: 0}, Cell{X: 1, Y: 1}); err == nil {
		t.Fatalf("diagonal road should fail")
	}
}

func TestChebyshev(t *testing.T) {
	cases := []struct {
		a, b Cell
		want int
	}{
		{Cell{0, 0}, Cell{0, 0}, 0},
		{Cell{0, 0}, Cell{10, 0}, 10},
		{Cell{0, 10}, Cell{10, 0}, 10},
		{Cell{-2, 3}, Cell{4, -1}, 6},
	}
	for _, tc := range cases {
		if got := Chebyshev(tc.a, tc.b); got != tc.want {
			t.Fatalf("Chebyshev(%v,%v)=%d want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestFromTiles_RoundTrip(t *testing.T) {
	g := Generate(GenConfig{Width: 20, Height: 14, RoadSpacing: 5}, NewNameGenerator(catalogs.Defaults().Names), rand.New(rand.NewSource(3)))
	g2, err := FromTiles(g.Width(), g.Height(), g.Tiles(), g.Names())
	if err != nil {
		t.Fatalf("FromTiles: %v", err)
	}
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			c := Cell{X: x, Y: y}
			if g.TileAt(c) != g2.TileAt(c) {
				t.Fatalf("tile mismatch at %s", c)
			}
		}
	}
	if len(g2.Residences()) != len(g.Residences()) {
		t.Fatalf("residences mismatch")
	}
	if _, err := FromTiles(2, 2, make([]TileClass, 3), nil); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestGenerate_DeterministicAndNamed(t *testing.T) {
	gen := func() *Grid {
		return Generate(GenConfig{Width: 40, Height: 30}, NewNameGenerator(catalogs.Defaults().Names), rand.New(rand.NewSource(42)))
	}
	g1, g2 := gen(), gen()
	t1, t2 := g1.Tiles(), g2.Tiles()
	for i := range t1 {
		if t1[i] != t2[i] {
			t.Fatalf("tile %d differs between identical seeds", i)
		}
	}

	seen := map[string]Cell{}
	for y := 0; y < g1.Height(); y++ {
		for x := 0; x < g1.Width(); x++ {
			c := Cell{X: x, Y: y}
			class := g1.TileAt(c)
			name, ok := g1.NameAt(c)
			if class.IsBuilding() != ok {
				t.Fatalf("cell %s class=%s named=%v", c, class, ok)
			}
			if !ok {
				continue
			}
			if prev, dup := seen[name]; dup {
				t.Fatalf("duplicate name %q at %s and %s", name, prev, c)
			}
			seen[name] = c
		}
	}
	if len(g1.Residences()) == 0 || len(g1.Workplaces()) == 0 {
		t.Fatalf("generator produced no residences or workplaces")
	}
}

func TestNameGenerator_ScopedPerInstance(t *testing.T) {
	names := catalogs.NameCatalog{Streets: []string{"Oak Street"}, Workplaces: []string{"Atlas Works"}}
	rng := rand.New(rand.NewSource(1))

	a := NewNameGenerator(names)
	if got := a.Next(Workplace, rng); got != "Atlas Works" {
		t.Fatalf("first workplace=%q", got)
	}
	if got := a.Next(Workplace, rng); got != "Atlas Works 2" {
		t.Fatalf("second workplace=%q", got)
	}
	if got := a.Next(Residence, rng); got != "1 Oak Street" {
		t.Fatalf("first residence=%q", got)
	}
	if got := a.Next(Residence, rng); got != "3 Oak Street" {
		t.Fatalf("second residence=%q", got)
	}
	if a.Used() != 4 {
		t.Fatalf("Used=%d", a.Used())
	}

	b := NewNameGenerator(names)
	if got := b.Next(Workplace, rng); got != "Atlas Works" {
		t.Fatalf("fresh generator should not see names from another instance, got %q", got)
	}
}
