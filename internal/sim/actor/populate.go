package actor

import (
	"errors"
	"math/rand"

	"citysim/internal/city"
	"citysim/internal/sim/schedule"
	"citysim/internal/sim/tuning"
)

var ErrInsufficientBuildings = errors.New("insufficient buildings: need at least one residence, workplace and eatery")

// Populate creates one actor per residence, capped at t.Actors.Max and never
// more than tuning.MaxActors.
// Residences are visited in a seed-shuffled order; workplace, eatery and
// leisure site are uniform random picks from the grid registries.
func Populate(g *city.Grid, t tuning.Tuning, seed int64) (*Registry, error) {
	homes, works, eats, fun := g.Residences(), g.Workplaces(), g.Eateries(), g.LeisureSites()
	if len(homes) == 0 || len(works) == 0 || len(eats) == 0 {
		return nil, ErrInsufficientBuildings
	}
	rng := rand.New(rand.NewSource(seed))
	params := t.ScheduleParams()

	limit := tuning.MaxActors
	if t.Actors.Max > 0 && t.Actors.Max < limit {
		limit = t.Actors.Max
	}
	n := min(len(homes), limit)
	order := rng.Perm(len(homes))[:n]

	actors := make([]*Actor, 0, n)
	for i, hi := range order {
		p := Profile{
			Home:   homes[hi],
			Work:   works[rng.Intn(len(works))],
			Eatery: eats[rng.Intn(len(eats))],
		}
		if len(fun) > 0 {
			p.Leisure = fun[rng.Intn(len(fun))]
			p.HasLeisure = true
		}
		p.Speed = uniform(rng, t.Actors.SpeedMin, t.Actors.SpeedMax)
		p.Seed = rng.Int63()

		own := rand.New(rand.NewSource(p.Seed))
		p.Schedule = schedule.New(own, params, NeedsDelivery(p.Work, p.Eatery, t.Delivery.DistanceThreshold))
		// the actor's own rng continues after the schedule draws
		a := New(ID(i), p)
		a.rng = own
		actors = append(actors, a)
	}
	return NewRegistry(actors)
}

// NeedsDelivery reports whether the eatery is too far from work to walk to at lunch.
func NeedsDelivery(work, eatery city.Cell, threshold int) bool {
	return city.Chebyshev(work, eatery) > threshold
}
