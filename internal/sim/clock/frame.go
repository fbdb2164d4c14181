package clock

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"citysim/internal/sim/actor"
	"citysim/internal/sim/courier"
	"citysim/internal/sim/motion"
)

type ActorFrame struct {
	ID    actor.ID           `json:"id"`
	Pos   motion.Vec2        `json:"pos"`
	State actor.VisibleState `json:"state"`
	Phase actor.Phase        `json:"phase"`
}

type CourierFrame struct {
	ID    int           `json:"id"`
	Owner actor.ID      `json:"owner"`
	Pos   motion.Vec2   `json:"pos"`
	Phase courier.Phase `json:"phase"`
}

// Frame is the recorded state of one tick. Frames are immutable once appended.
type Frame struct {
	Seq         uint64         `json:"seq"`
	RealElapsed float64        `json:"real_elapsed"` // seconds, paused time excluded
	Hour        float64        `json:"hour"`
	Actors      []ActorFrame   `json:"actors"`
	Couriers    []CourierFrame `json:"couriers"`
	Digest      string         `json:"digest"`
}

// ComputeDigest hashes every field except Digest itself.
func (f Frame) ComputeDigest() string {
	h := sha256.New()
	var tmp [8]byte
	writeU64(h, &tmp, f.Seq)
	writeF64(h, &tmp, f.RealElapsed)
	writeF64(h, &tmp, f.Hour)
	writeU64(h, &tmp, uint64(len(f.Actors)))
	for _, a := range f.Actors {
		writeU64(h, &tmp, uint64(a.ID))
		writeF64(h, &tmp, a.Pos.X)
		writeF64(h, &tmp, a.Pos.Y)
		writeU64(h, &tmp, uint64(a.Phase))
	}
	writeU64(h, &tmp, uint64(len(f.Couriers)))
	for _, c := range f.Couriers {
		writeU64(h, &tmp, uint64(c.ID))
		writeU64(h, &tmp, uint64(c.Owner))
		writeF64(h, &tmp, c.Pos.X)
		writeF64(h, &tmp, c.Pos.Y)
		writeU64(h, &tmp, uint64(c.Phase))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func writeF64(h hash.Hash, tmp *[8]byte, v float64) {
	writeU64(h, tmp, math.Float64bits(v))
}

func (f Frame) clone() Frame {
	out := f
	out.Actors = append([]ActorFrame(nil), f.Actors...)
	out.Couriers = append([]CourierFrame(nil), f.Couriers...)
	return out
}

func capture(seq uint64, elapsed, hour float64, reg *actor.Registry, couriers []*courier.Courier) Frame {
	f := Frame{
		Seq:         seq,
		RealElapsed: elapsed,
		Hour:        hour,
		Actors:      make([]ActorFrame, 0, reg.Len()),
		Couriers:    make([]CourierFrame, 0, len(couriers)),
	}
	for _, a := range reg.All() {
		f.Actors = append(f.Actors, ActorFrame{ID: a.ID, Pos: a.Pos, State: a.Visible(), Phase: a.Phase})
	}
	for _, c := range couriers {
		f.Couriers = append(f.Couriers, CourierFrame{ID: c.ID, Owner: c.Owner, Pos: c.Pos, Phase: c.Phase})
	}
	f.Digest = f.ComputeDigest()
	return f
}
