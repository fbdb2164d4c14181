package route

import (
	"testing"

	"citysim/internal/city"
)

// ladder: two horizontal roads joined by two vertical roads, plus an isolated road island.
//
//	y=0  R R R R R . R
//	y=1  R . . . R . R
//	y=2  R R R R R . R
func ladder(t *testing.T) *city.Grid {
	t.Helper()
	b := city.NewBuilder(7, 3)
	must := func(err error) {
		if err != nil {
			t.Fatalf("builder: %v", err)
		}
	}
	must(b.Road(city.Cell{X: 0, Y: 0}, city.Cell{X: 4, Y: 0}))
	must(b.Road(city.Cell{X: 0, Y: 2}, city.Cell{X: 4, Y: 2}))
	must(b.Road(city.Cell{X: 0, Y: 0}, city.Cell{X: 0, Y: 2}))
	must(b.Road(city.Cell{X: 4, Y: 0}, city.Cell{X: 4, Y: 2}))
	must(b.Road(city.Cell{X: 6, Y: 0}, city.Cell{X: 6, Y: 2}))
	must(b.Set(city.Cell{X: 2, Y: 1}, city.Workplace, "Atlas Works"))
	return b.Build()
}

func checkPath(t *testing.T, g *city.Grid, path []city.Cell, start, end city.Cell) {
	t.Helper()
	if len(path) == 0 || path[0] != start || path[len(path)-1] != end {
		t.Fatalf("path endpoints: %v want %v..%v", path, start, end)
	}
	for i := 1; i < len(path); i++ {
		if city.Chebyshev(path[i-1], path[i]) != 1 || (path[i-1].X != path[i].X && path[i-1].Y != path[i].Y) {
			t.Fatalf("non 4-adjacent step %v -> %v", path[i-1], path[i])
		}
		if i < len(path)-1 && g.TileAt(path[i]) != city.Road {
			t.Fatalf("intermediate cell %v is %s", path[i], g.TileAt(path[i]))
		}
	}
}

func TestFind_SameCell(t *testing.T) {
	g := ladder(t)
	p, ok := Find(g, city.Cell{X: 2, Y: 1}, city.Cell{X: 2, Y: 1})
	if !ok || len(p) != 1 || Hops(p) != 0 {
		t.Fatalf("same cell: ok=%v path=%v", ok, p)
	}
}

func TestFind_ShortestAndDeterministic(t *testing.T) {
	g := ladder(t)
	start, end := city.Cell{X: 0, Y: 0}, city.Cell{X: 4, Y: 2}
	p1, ok := Find(g, start, end)
	if !ok {
		t.Fatalf("expected route")
	}
	checkPath(t, g, p1, start, end)
	if Hops(p1) != 6 {
		t.Fatalf("hops=%d want 6", Hops(p1))
	}
	// N,E,S,W order: from (0,0) east is expanded before south, so the top road wins.
	if p1[1] != (city.Cell{X: 1, Y: 0}) {
		t.Fatalf("tie-break first step=%v want (1,0)", p1[1])
	}
	for i := 0; i < 5; i++ {
		p2, _ := Find(g, start, end)
		if len(p2) != len(p1) {
			t.Fatalf("non deterministic length")
		}
		for j := range p1 {
			if p1[j] != p2[j] {
				t.Fatalf("non deterministic path at %d: %v vs %v", j, p1, p2)
			}
		}
	}
}

func TestFind_BuildingEndpoints(t *testing.T) {
	g := ladder(t)
	work := city.Cell{X: 2, Y: 1}

	in, ok := Find(g, city.Cell{X: 0, Y: 1}, work)
	if !ok {
		t.Fatalf("road -> building should route")
	}
	checkPath(t, g, in, city.Cell{X: 0, Y: 1}, work)

	out, ok := Find(g, work, city.Cell{X: 4, Y: 1})
	if !ok {
		t.Fatalf("building -> road should route")
	}
	checkPath(t, g, out, work, city.Cell{X: 4, Y: 1})
}

func TestFind_SymmetricHops(t *testing.T) {
	g := ladder(t)
	cells := []city.Cell{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 2}, {X: 3, Y: 2}, {X: 2, Y: 1}, {X: 4, Y: 1}}
	for _, a := range cells {
		for _, b := range cells {
			ab, ok1 := Find(g, a, b)
			ba, ok2 := Find(g, b, a)
			if ok1 != ok2 {
				t.Fatalf("reachability asymmetric %v<->%v", a, b)
			}
			if ok1 && Hops(ab) != Hops(ba) {
				t.Fatalf("hops asymmetric %v->%v=%d %v->%v=%d", a, b, Hops(ab), b, a, Hops(ba))
			}
		}
	}
}

func TestFind_Disconnected(t *testing.T) {
	g := ladder(t)
	if p, ok := Find(g, city.Cell{X: 0, Y: 0}, city.Cell{X: 6, Y: 1}); ok {
		t.Fatalf("expected not found, got %v", p)
	}
	if _, ok := Find(g, city.Cell{X: 0, Y: 0}, city.Cell{X: 9, Y: 9}); ok {
		t.Fatalf("out of bounds target should not route")
	}
}
