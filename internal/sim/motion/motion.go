// Package motion follows a computed route at constant speed.
package motion

import (
	"math"

	"citysim/internal/city"
)

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func At(c city.Cell) Vec2 { return Vec2{X: float64(c.X), Y: float64(c.Y)} }

// Cell returns the nearest grid cell.
func (v Vec2) Cell() city.Cell {
	return city.Cell{X: int(math.Round(v.X)), Y: int(math.Round(v.Y))}
}

// Mover tracks progress (in tiles) along one path. The zero value is idle.
type Mover struct {
	path     []city.Cell
	progress float64
}

func (m *Mover) Start(path []city.Cell) {
	m.path = path
	m.progress = 0
}

func (m *Mover) Stop() {
	m.path = nil
	m.progress = 0
}

func (m *Mover) Active() bool { return len(m.path) > 0 }

func (m *Mover) Path() []city.Cell { return m.path }

func (m *Mover) Progress() float64 { return m.progress }

func (m *Mover) length() float64 {
	if len(m.path) == 0 {
		return 0
	}
	return float64(len(m.path) - 1)
}

// Remaining tiles until the end of the path.
func (m *Mover) Remaining() float64 {
	return m.length() - m.progress
}

// Advance moves forward by tiles and reports whether the path is fully consumed.
// A single-cell path arrives on the first call.
func (m *Mover) Advance(tiles float64) (arrived bool) {
	if len(m.path) == 0 {
		return false
	}
	if tiles > 0 {
		m.progress += tiles
	}
	if m.progress >= m.length() {
		m.progress = m.length()
		return true
	}
	return false
}

// Pos interpolates linearly between the two cells around the current progress.
func (m *Mover) Pos() Vec2 {
	switch len(m.path) {
	case 0:
		return Vec2{}
	case 1:
		return At(m.path[0])
	}
	i := int(math.Floor(m.progress))
	if i >= len(m.path)-1 {
		return At(m.path[len(m.path)-1])
	}
	f := m.progress - float64(i)
	a, b := m.path[i], m.path[i+1]
	return Vec2{
		X: float64(a.X) + f*float64(b.X-a.X),
		Y: float64(a.Y) + f*float64(b.Y-a.Y),
	}
}

// CurrentCell is the last path cell reached (not the next one being walked toward).
func (m *Mover) CurrentCell() (city.Cell, bool) {
	if len(m.path) == 0 {
		return city.Cell{}, false
	}
	i := int(math.Floor(m.progress))
	if i >= len(m.path) {
		i = len(m.path) - 1
	}
	return m.path[i], true
}

// TravelHours converts a path length into simulated hours for a walker moving at
// speed tiles per real second, given how many simulated hours pass per real second.
func TravelHours(hops int, speed, hoursPerSecond float64) float64 {
	if hops <= 0 || speed <= 0 {
		return 0
	}
	return float64(hops) / speed * hoursPerSecond
}
