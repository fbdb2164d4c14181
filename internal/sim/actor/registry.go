package actor

import (
	"errors"
	"fmt"

	"citysim/internal/sim/schedule"
)

var ErrUnknownActor = errors.New("unknown actor")

// Registry owns every actor of a run, indexed by ID. Other state machines
// refer to actors by ID and go through the registry for reads and log appends.
type Registry struct {
	actors []*Actor
}

// NewRegistry takes ownership of actors; actors[i].ID must equal i.
func NewRegistry(actors []*Actor) (*Registry, error) {
	for i, a := range actors {
		if a == nil || int(a.ID) != i {
			return nil, fmt.Errorf("actor at index %d has id %v", i, idOf(a))
		}
	}
	return &Registry{actors: actors}, nil
}

func idOf(a *Actor) any {
	if a == nil {
		return nil
	}
	return a.ID
}

func (r *Registry) Len() int { return len(r.actors) }

func (r *Registry) Get(id ID) (*Actor, bool) {
	if id < 0 || int(id) >= len(r.actors) {
		return nil, false
	}
	return r.actors[id], true
}

// All returns actors in creation order. The slice is shared; do not modify it.
func (r *Registry) All() []*Actor { return r.actors }

// Schedule returns a copy of the actor's schedule.
func (r *Registry) Schedule(id ID) (schedule.Schedule, bool) {
	a, ok := r.Get(id)
	if !ok {
		return schedule.Schedule{}, false
	}
	return a.Schedule, true
}

func (r *Registry) AppendEvent(id ID, ev Event) error {
	a, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("append %s: %w: %d", ev.Kind, ErrUnknownActor, id)
	}
	a.Log = append(a.Log, ev)
	return nil
}

func (r *Registry) HasEvent(id ID, kind EventKind) bool {
	a, ok := r.Get(id)
	if !ok {
		return false
	}
	for _, ev := range a.Log {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// Advance steps every actor once, in creation order.
func (r *Registry) Advance(env *Env, hour, dtSeconds float64) {
	for _, a := range r.actors {
		a.Advance(env, hour, dtSeconds)
	}
}

// Census counts actors per visible state.
func (r *Registry) Census() map[VisibleState]int {
	out := make(map[VisibleState]int, len(VisibleStates))
	for _, v := range VisibleStates {
		out[v] = 0
	}
	for _, a := range r.actors {
		out[a.Visible()]++
	}
	return out
}
