// Package route computes shortest-hop paths over the city road network.
package route

import "citysim/internal/city"

// Grid is the read-only view the router needs.
type Grid interface {
	InBounds(c city.Cell) bool
	TileAt(c city.Cell) city.TileClass
}

// Fixed expansion order: N, E, S, W. Equal-length ties resolve to the path
// whose first divergent step comes earliest in this order.
var dirs = [4]city.Cell{{X: 0, Y: -1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}}

// Find returns a shortest 4-connected path from start to end, inclusive of both.
// Intermediate cells must be roads; the end cell is accepted whatever its class,
// and the start cell is always expanded so trips can begin inside a building.
// ok is false when end is unreachable or either endpoint is out of bounds.
func Find(g Grid, start, end city.Cell) (path []city.Cell, ok bool) {
	if !g.InBounds(start) || !g.InBounds(end) {
		return nil, false
	}
	if start == end {
		return []city.Cell{start}, true
	}

	prev := map[city.Cell]city.Cell{start: start}
	queue := make([]city.Cell, 0, 64)
	queue = append(queue, start)

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, d := range dirs {
			next := city.Cell{X: cur.X + d.X, Y: cur.Y + d.Y}
			if _, seen := prev[next]; seen {
				continue
			}
			if !g.InBounds(next) {
				continue
			}
			if next != end && g.TileAt(next) != city.Road {
				continue
			}
			prev[next] = cur
			if next == end {
				return unwind(prev, start, end), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func unwind(prev map[city.Cell]city.Cell, start, end city.Cell) []city.Cell {
	var rev []city.Cell
	for c := end; c != start; c = prev[c] {
		rev = append(rev, c)
	}
	rev = append(rev, start)
	out := make([]city.Cell, len(rev))
	for i, c := range rev {
		out[len(rev)-1-i] = c
	}
	return out
}

// Hops is the number of steps along a path.
func Hops(path []city.Cell) int {
	if len(path) == 0 {
		return 0
	}
	return len(path) - 1
}
