package clock

import "fmt"

// Rendered is one drawable entity of a replayed frame.
type Rendered struct {
	Kind  string  `json:"kind"` // "actor" or "courier"
	ID    int     `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	State string  `json:"state"`
}

// Player steps through a private copy of recorded frames. It never touches the
// router or the live actors.
type Player struct {
	frames []Frame
	next   int
}

func NewPlayer(frames []Frame) *Player {
	cp := make([]Frame, len(frames))
	for i, f := range frames {
		cp[i] = f.clone()
	}
	return &Player{frames: cp}
}

func (p *Player) Len() int { return len(p.frames) }

func (p *Player) At(i int) (Frame, bool) {
	if i < 0 || i >= len(p.frames) {
		return Frame{}, false
	}
	return p.frames[i].clone(), true
}

// Next returns the next frame, or false after the last one.
func (p *Player) Next() (Frame, bool) {
	f, ok := p.At(p.next)
	if ok {
		p.next++
	}
	return f, ok
}

func (p *Player) Rewind() { p.next = 0 }

// Render flattens a frame into drawables, actors first, each in recorded order.
func Render(f Frame) []Rendered {
	out := make([]Rendered, 0, len(f.Actors)+len(f.Couriers))
	for _, a := range f.Actors {
		out = append(out, Rendered{Kind: "actor", ID: int(a.ID), X: a.Pos.X, Y: a.Pos.Y, State: string(a.State)})
	}
	for _, c := range f.Couriers {
		out = append(out, Rendered{Kind: "courier", ID: c.ID, X: c.Pos.X, Y: c.Pos.Y, State: c.Phase.String()})
	}
	return out
}

// PlayAll rewinds and renders every frame in order.
func (p *Player) PlayAll() [][]Rendered {
	p.Rewind()
	out := make([][]Rendered, 0, p.Len())
	for {
		f, ok := p.Next()
		if !ok {
			return out
		}
		out = append(out, Render(f))
	}
}

// VerifyDigests checks sequence continuity and that every stored digest matches its content.
func VerifyDigests(frames []Frame) error {
	for i, f := range frames {
		if i > 0 && f.Seq != frames[i-1].Seq+1 {
			return fmt.Errorf("frame %d: seq %d follows %d", i, f.Seq, frames[i-1].Seq)
		}
		if i > 0 && f.Hour < frames[i-1].Hour {
			return fmt.Errorf("frame %d: hour %.4f before %.4f", i, f.Hour, frames[i-1].Hour)
		}
		if got := f.ComputeDigest(); got != f.Digest {
			return fmt.Errorf("frame %d (seq %d): digest mismatch: stored %s computed %s", i, f.Seq, f.Digest, got)
		}
	}
	return nil
}
