// Package actor implements the resident state machine and the registry that owns all residents of a run.
package actor

import (
	"math"
	"math/rand"

	"citysim/internal/city"
	"citysim/internal/sim/motion"
	"citysim/internal/sim/route"
	"citysim/internal/sim/schedule"
	"citysim/internal/sim/tuning"
)

type ID int

// Grid is the read-only city view the state machines consume.
type Grid interface {
	route.Grid
	NameAt(c city.Cell) (string, bool)
}

// Env carries everything Advance needs besides the actor itself. It is shared
// read-only by all actors and couriers of a run.
type Env struct {
	Grid           Grid
	HoursPerSecond float64

	RestMin      float64
	RestBuffer   float64
	TravelBuffer float64

	CourierSpeed float64
	DwellHours   float64
}

func NewEnv(g Grid, t tuning.Tuning) *Env {
	return &Env{
		Grid:           g,
		HoursPerSecond: t.HoursPerSecond(),
		RestMin:        t.Leisure.RestMin,
		RestBuffer:     t.Leisure.RestBuffer,
		TravelBuffer:   t.Leisure.TravelBuffer,
		CourierSpeed:   t.Delivery.CourierSpeed,
		DwellHours:     t.Delivery.DwellMinutes / 60,
	}
}

func (e *Env) name(c city.Cell) string {
	n, _ := e.Grid.NameAt(c)
	return n
}

// Profile holds the fixed per-resident inputs chosen at population time.
type Profile struct {
	Home, Work, Eatery city.Cell
	Leisure            city.Cell
	HasLeisure         bool
	Speed              float64 // tiles per real second
	Schedule           schedule.Schedule
	Seed               int64
}

type Actor struct {
	ID         ID                `json:"id"`
	Home       city.Cell         `json:"home"`
	Work       city.Cell         `json:"work"`
	Eatery     city.Cell         `json:"eatery"`
	Leisure    city.Cell         `json:"leisure"`
	HasLeisure bool              `json:"has_leisure"`
	Speed      float64           `json:"speed"`
	Schedule   schedule.Schedule `json:"schedule"`

	Phase Phase         `json:"phase"`
	Pos   motion.Vec2   `json:"pos"`
	Log   []Event       `json:"log"`
	Paths []PathSegment `json:"paths"`

	cell         city.Cell
	mover        motion.Mover
	dest         city.Cell
	ordered      bool
	lunchDone    bool
	restUntil    float64
	leisureUntil float64
	rng          *rand.Rand
}

func New(id ID, p Profile) *Actor {
	return &Actor{
		ID:         id,
		Home:       p.Home,
		Work:       p.Work,
		Eatery:     p.Eatery,
		Leisure:    p.Leisure,
		HasLeisure: p.HasLeisure,
		Speed:      p.Speed,
		Schedule:   p.Schedule,
		Phase:      Asleep,
		Pos:        motion.At(p.Home),
		cell:       p.Home,
		rng:        rand.New(rand.NewSource(p.Seed)),
	}
}

func (a *Actor) Visible() VisibleState { return a.Phase.Visible() }

// Cell is where the actor stands, or the last route cell it passed while moving.
func (a *Actor) Cell() city.Cell {
	if c, ok := a.mover.CurrentCell(); ok {
		return c
	}
	return a.cell
}

// Ordered reports whether the delivery order event has fired.
func (a *Actor) Ordered() bool { return a.ordered }

// Advance performs at most one phase transition for the given simulated hour,
// consuming dtSeconds of real time along the current route if moving.
// It reports whether the phase changed.
func (a *Actor) Advance(env *Env, hour, dtSeconds float64) bool {
	before := a.Phase
	if !a.escapeLunch(env, hour) {
		a.step(env, hour, dtSeconds)
	}
	if a.mover.Active() {
		a.Pos = a.mover.Pos()
	} else {
		a.Pos = motion.At(a.cell)
	}
	return a.Phase != before
}

// escapeLunch abandons any lunch errand still underway once the working day is over.
func (a *Actor) escapeLunch(env *Env, hour float64) bool {
	switch a.Phase {
	case CommutingToLunch, AtLunch, ReturningFromLunch:
	default:
		return false
	}
	if hour < a.Schedule.WorkEnd {
		return false
	}
	from := a.Cell()
	switch a.Phase {
	case AtLunch:
		a.emit(EventLeftLunch, hour, env.name(a.Eatery))
	case CommutingToLunch:
		a.emit(EventLunchAbandoned, hour, env.name(a.Work))
	case ReturningFromLunch:
		a.emit(EventLunchAbandoned, hour, env.name(a.Eatery))
	}
	a.mover.Stop()
	a.cell = from
	a.goHome(env, hour, from, PurposeHome)
	return true
}

func (a *Actor) step(env *Env, hour, dt float64) {
	s := a.Schedule
	switch a.Phase {
	case Asleep:
		if hour >= s.Wake {
			a.emit(EventWake, hour, env.name(a.Home))
			a.Phase = WaitingForDeparture
		}

	case WaitingForDeparture:
		if hour >= s.WorkEnd {
			// never reached work; the day is written off
			a.Phase = EveningAtHome
			return
		}
		if hour < s.WorkStart {
			return
		}
		path, ok := route.Find(env.Grid, a.Home, a.Work)
		if !ok {
			return
		}
		a.emit(EventLeftHome, hour, env.name(a.Home))
		a.travel(env, hour, path, PurposeWork)
		a.Phase = CommutingToWork

	case CommutingToWork:
		if a.walk(dt) {
			a.emit(EventArrivedWork, hour, env.name(a.Work))
			a.Phase = AtWork
		}

	case AtWork:
		switch {
		case hour >= s.WorkEnd:
			a.emit(EventLeftWork, hour, env.name(a.Work))
			a.goHome(env, hour, a.Work, PurposeHome)
		case s.OrdersDelivery && s.LunchInsideWork() && !a.ordered && hour >= s.OrderTime:
			a.ordered = true
			a.emit(EventOrderedDelivery, hour, env.name(a.Eatery))
		case s.LunchInsideWork() && !a.lunchDone && !a.ordered && hour >= s.LunchStart:
			a.lunchDone = true
			a.emit(EventLeftForLunch, hour, env.name(a.Work))
			if path, ok := route.Find(env.Grid, a.Work, a.Eatery); ok {
				a.travel(env, hour, path, PurposeLunch)
				a.Phase = CommutingToLunch
				return
			}
			a.emit(EventArrivedLunch, hour, env.name(a.Eatery))
			a.Phase = AtLunch
		}

	case CommutingToLunch:
		if a.walk(dt) {
			a.emit(EventArrivedLunch, hour, env.name(a.Eatery))
			a.Phase = AtLunch
		}

	case AtLunch:
		if hour < s.LunchEnd {
			return
		}
		a.emit(EventLeftLunch, hour, env.name(a.Eatery))
		// lunch without a route was eaten at the desk
		if a.cell != a.Work {
			if path, ok := route.Find(env.Grid, a.cell, a.Work); ok {
				a.travel(env, hour, path, PurposeBackToWork)
				a.Phase = ReturningFromLunch
				return
			}
		}
		a.emit(EventArrivedWork, hour, env.name(a.Work))
		a.Phase = AtWork

	case ReturningFromLunch:
		if a.walk(dt) {
			a.emit(EventArrivedWork, hour, env.name(a.Work))
			a.Phase = AtWork
		}

	case CommutingHome:
		if a.walk(dt) {
			a.emit(EventArrivedHome, hour, env.name(a.Home))
			a.Phase = AtHomeJustArrived
		}

	case AtHomeJustArrived:
		if a.leisureFits(env, hour) {
			a.restUntil = hour + uniform(a.rng, env.RestMin, env.RestBuffer)
			a.Phase = ConsideringLeisure
			return
		}
		a.Phase = EveningAtHome

	case ConsideringLeisure:
		if hour < a.restUntil {
			return
		}
		a.emit(EventLeftHome, hour, env.name(a.Home))
		if path, ok := route.Find(env.Grid, a.Home, a.Leisure); ok {
			a.travel(env, hour, path, PurposeLeisure)
			a.Phase = CommutingToLeisure
			return
		}
		a.arriveLeisure(env, hour)

	case CommutingToLeisure:
		if a.walk(dt) {
			a.arriveLeisure(env, hour)
		}

	case AtLeisure:
		if hour < a.leisureUntil {
			return
		}
		a.emit(EventLeftLeisure, hour, env.name(a.Leisure))
		if a.cell != a.Home {
			if path, ok := route.Find(env.Grid, a.cell, a.Home); ok {
				a.travel(env, hour, path, PurposeLeisureHome)
				a.Phase = CommutingHomeFromLeisure
				return
			}
		}
		a.emit(EventArrivedHome, hour, env.name(a.Home))
		a.Phase = EveningAtHome

	case CommutingHomeFromLeisure:
		if a.walk(dt) {
			a.emit(EventArrivedHome, hour, env.name(a.Home))
			a.Phase = EveningAtHome
		}

	case EveningAtHome:
		if hour >= s.Bedtime {
			a.emit(EventSleep, hour, env.name(a.Home))
			a.Phase = Slept
		}

	case Slept:
	}
}

// leisureFits applies the curfew gate: the worst-case rest, stay and travel must end by curfew.
func (a *Actor) leisureFits(env *Env, hour float64) bool {
	s := a.Schedule
	if !a.HasLeisure || !s.LeisureEligible {
		return false
	}
	return hour+env.RestBuffer+s.LeisureDuration+env.TravelBuffer <= s.Curfew
}

func (a *Actor) arriveLeisure(env *Env, hour float64) {
	a.emit(EventArrivedLeisure, hour, env.name(a.Leisure))
	a.leisureUntil = math.Min(hour+a.Schedule.LeisureDuration, a.Schedule.Curfew)
	a.Phase = AtLeisure
}

func (a *Actor) goHome(env *Env, hour float64, from city.Cell, purpose Purpose) {
	if path, ok := route.Find(env.Grid, from, a.Home); ok {
		a.travel(env, hour, path, purpose)
		a.Phase = CommutingHome
		return
	}
	a.emit(EventArrivedHome, hour, env.name(a.Home))
	a.Phase = AtHomeJustArrived
}

func (a *Actor) travel(env *Env, hour float64, path []city.Cell, purpose Purpose) {
	a.Paths = append(a.Paths, PathSegment{
		Cells:   path,
		Origin:  env.Grid.TileAt(path[0]),
		Purpose: purpose,
		Hour:    hour,
	})
	a.dest = path[len(path)-1]
	a.mover.Start(path)
}

// walk consumes dt seconds of movement and settles on the destination once the route is used up.
func (a *Actor) walk(dt float64) bool {
	if !a.mover.Active() {
		return true
	}
	if !a.mover.Advance(dt * a.Speed) {
		return false
	}
	a.cell = a.dest
	a.mover.Stop()
	return true
}

func (a *Actor) emit(kind EventKind, hour float64, location string) {
	a.Log = append(a.Log, Event{Kind: kind, Hour: hour, Location: location})
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}
