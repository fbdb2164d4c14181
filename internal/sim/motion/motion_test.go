package motion

import (
	"math"
	"testing"

	"citysim/internal/city"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMover_Interpolates(t *testing.T) {
	var m Mover
	if m.Active() || m.Advance(1) {
		t.Fatalf("zero mover should be idle")
	}
	m.Start([]city.Cell{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}})

	if m.Advance(0.5) {
		t.Fatalf("arrived too early")
	}
	if p := m.Pos(); !near(p.X, 0.5) || !near(p.Y, 0) {
		t.Fatalf("pos after 0.5 = %+v", p)
	}
	if c, _ := m.CurrentCell(); c != (city.Cell{X: 0, Y: 0}) {
		t.Fatalf("current cell=%v", c)
	}
	if m.Advance(1.0) {
		t.Fatalf("arrived too early at 1.5")
	}
	if p := m.Pos(); !near(p.X, 1) || !near(p.Y, 0.5) {
		t.Fatalf("pos after 1.5 = %+v", p)
	}
	if !near(m.Remaining(), 0.5) {
		t.Fatalf("remaining=%v", m.Remaining())
	}
	if !m.Advance(5) {
		t.Fatalf("expected arrival")
	}
	if p := m.Pos(); !near(p.X, 1) || !near(p.Y, 1) {
		t.Fatalf("pos at end = %+v", p)
	}
}

func TestMover_SingleCellArrivesImmediately(t *testing.T) {
	var m Mover
	m.Start([]city.Cell{{X: 3, Y: 4}})
	if !m.Advance(0) {
		t.Fatalf("single-cell path should arrive without moving")
	}
	if p := m.Pos(); p != (Vec2{X: 3, Y: 4}) {
		t.Fatalf("pos=%+v", p)
	}
}

func TestTravelHours(t *testing.T) {
	if got := TravelHours(20, 5, 0.1); !near(got, 0.4) {
		t.Fatalf("TravelHours=%v", got)
	}
	if got := TravelHours(0, 5, 0.1); got != 0 {
		t.Fatalf("zero hops=%v", got)
	}
}

func TestVec2Cell(t *testing.T) {
	if c := (Vec2{X: 2.4, Y: 2.6}).Cell(); c != (city.Cell{X: 2, Y: 3}) {
		t.Fatalf("Cell=%v", c)
	}
}
