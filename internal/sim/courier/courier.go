// Package courier runs the lunch delivery errands spawned on behalf of residents.
package courier

import (
	"errors"
	"fmt"
	"math"

	"citysim/internal/city"
	"citysim/internal/sim/actor"
	"citysim/internal/sim/motion"
	"citysim/internal/sim/route"
	"citysim/internal/sim/schedule"
)

type Phase uint8

const (
	Idle Phase = iota
	EnRoute
	AtDropOff
	Returning
	Finished
)

var phaseNames = [...]string{
	Idle:      "idle",
	EnRoute:   "en_route",
	AtDropOff: "at_drop_off",
	Returning: "returning",
	Finished:  "finished",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for i, n := range phaseNames {
		if n == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown courier phase %q", b)
}

// Owners is the courier's only view of the actors: schedule reads by value and log appends by ID.
type Owners interface {
	Schedule(id actor.ID) (schedule.Schedule, bool)
	HasEvent(id actor.ID, kind actor.EventKind) bool
	AppendEvent(id actor.ID, ev actor.Event) error
}

var ErrUnknownOwner = errors.New("courier owner not found")

type Courier struct {
	ID      int         `json:"id"`
	Owner   actor.ID    `json:"owner"`
	Spawn   city.Cell   `json:"spawn"`
	DropOff city.Cell   `json:"drop_off"`
	Phase   Phase       `json:"phase"`
	Pos     motion.Vec2 `json:"pos"`
	Speed   float64     `json:"speed"`

	Departure   float64 `json:"departure"`
	TravelHours float64 `json:"travel_hours"`
	DwellUntil  float64 `json:"dwell_until,omitempty"`

	outbound   []city.Cell
	mover      motion.Mover
	departedAt float64
	cell       city.Cell
}

// Spawn prepares the errand for owner: the eatery to workplace route is computed
// once and departure is set so that arrival lands on lunch start. A courier with
// no outbound route starts out Finished.
func Spawn(id int, owner *actor.Actor, env *actor.Env) *Courier {
	c := &Courier{
		ID:      id,
		Owner:   owner.ID,
		Spawn:   owner.Eatery,
		DropOff: owner.Work,
		Speed:   env.CourierSpeed,
		Pos:     motion.At(owner.Eatery),
		cell:    owner.Eatery,
	}
	path, ok := route.Find(env.Grid, c.Spawn, c.DropOff)
	if !ok {
		c.Phase = Finished
		return c
	}
	c.outbound = path
	c.TravelHours = motion.TravelHours(route.Hops(path), c.Speed, env.HoursPerSecond)
	c.Departure = owner.Schedule.LunchStart - c.TravelHours
	return c
}

// SpawnAll creates one courier per actor that orders delivery for a lunch taken
// during working hours, in actor order.
func SpawnAll(reg *actor.Registry, env *actor.Env) []*Courier {
	var out []*Courier
	for _, a := range reg.All() {
		if a.Schedule.OrdersDelivery && a.Schedule.LunchInsideWork() {
			out = append(out, Spawn(len(out), a, env))
		}
	}
	return out
}

func (c *Courier) Active() bool { return c.Phase != Finished }

// Advance performs at most one phase transition. Errors come only from the
// owner lookup; the courier is finished in that case.
func (c *Courier) Advance(env *actor.Env, owners Owners, hour, dtSeconds float64) error {
	err := c.step(env, owners, hour, dtSeconds)
	if c.mover.Active() {
		c.Pos = c.mover.Pos()
	} else {
		c.Pos = motion.At(c.cell)
	}
	return err
}

func (c *Courier) step(env *actor.Env, owners Owners, hour, dt float64) error {
	switch c.Phase {
	case Idle:
		sched, ok := owners.Schedule(c.Owner)
		if !ok {
			c.Phase = Finished
			return fmt.Errorf("courier %d: %w: %d", c.ID, ErrUnknownOwner, c.Owner)
		}
		if hour < c.Departure {
			return nil
		}
		ordered := owners.HasEvent(c.Owner, actor.EventOrderedDelivery)
		if hour+c.TravelHours > sched.LunchEnd {
			// cannot arrive before lunch is over
			c.Phase = Finished
			if ordered {
				return owners.AppendEvent(c.Owner, actor.Event{
					Kind:     actor.EventDeliveryCancelled,
					Hour:     hour,
					Location: name(env, c.Spawn),
				})
			}
			return nil
		}
		if !ordered {
			return nil
		}
		c.departedAt = hour
		c.mover.Start(c.outbound)
		c.Phase = EnRoute

	case EnRoute:
		if !c.walk(dt, c.DropOff) {
			return nil
		}
		// stamp with the interpolated arrival, which can fall between ticks
		at := math.Min(hour, c.departedAt+c.TravelHours)
		c.DwellUntil = at + env.DwellHours
		c.Phase = AtDropOff
		return owners.AppendEvent(c.Owner, actor.Event{
			Kind:     actor.EventDeliveryReceived,
			Hour:     at,
			Location: name(env, c.DropOff),
		})

	case AtDropOff:
		if hour < c.DwellUntil {
			return nil
		}
		path, ok := route.Find(env.Grid, c.DropOff, c.Spawn)
		if !ok {
			c.Phase = Finished
			return nil
		}
		c.mover.Start(path)
		c.Phase = Returning

	case Returning:
		if c.walk(dt, c.Spawn) {
			c.Phase = Finished
		}

	case Finished:
	}
	return nil
}

func (c *Courier) walk(dt float64, dest city.Cell) bool {
	if !c.mover.Active() {
		return true
	}
	if !c.mover.Advance(dt * c.Speed) {
		return false
	}
	c.mover.Stop()
	c.cell = dest
	return true
}

// AdvanceAll steps every courier once, in order. A failing courier never stops the others.
func AdvanceAll(couriers []*Courier, env *actor.Env, owners Owners, hour, dtSeconds float64) error {
	var errs []error
	for _, c := range couriers {
		if err := c.Advance(env, owners, hour, dtSeconds); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func name(env *actor.Env, c city.Cell) string {
	n, _ := env.Grid.NameAt(c)
	return n
}
