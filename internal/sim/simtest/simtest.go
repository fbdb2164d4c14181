// Package simtest holds small hand-built cities and helpers shared by simulation tests.
package simtest

import (
	"math"
	"testing"

	"citysim/internal/city"
	"citysim/internal/sim/schedule"
	"citysim/internal/sim/tuning"
)

// DeliveryCity is a 12x12 grid:
//
//	(0,0) residence, (10,0) workplace, both above a road on row 1 (x=0..10);
//	a road column at x=0 (y=1..9) leads to the eatery at (0,10);
//	a leisure site at (5,2) sits below the row-1 road.
func DeliveryCity(tb testing.TB) *city.Grid {
	tb.Helper()
	b := city.NewBuilder(12, 12)
	must(tb, b.Road(city.Cell{X: 0, Y: 1}, city.Cell{X: 10, Y: 1}))
	must(tb, b.Road(city.Cell{X: 0, Y: 1}, city.Cell{X: 0, Y: 9}))
	must(tb, b.Set(Home, city.Residence, "1 Ash Street"))
	must(tb, b.Set(Work, city.Workplace, "Atlas Works"))
	must(tb, b.Set(Eatery, city.Eatery, "Corner Noodles"))
	must(tb, b.Set(Park, city.Leisure, "Central Park"))
	return b.Build()
}

var (
	Home   = city.Cell{X: 0, Y: 0}
	Work   = city.Cell{X: 10, Y: 0}
	Eatery = city.Cell{X: 0, Y: 10}
	Park   = city.Cell{X: 5, Y: 2}
)

// SplitCity has two road islands with no connection between them:
// a residence at (0,0) over road x=0..3 and a workplace at (8,0) over road x=6..9.
func SplitCity(tb testing.TB) *city.Grid {
	tb.Helper()
	b := city.NewBuilder(10, 3)
	must(tb, b.Road(city.Cell{X: 0, Y: 1}, city.Cell{X: 3, Y: 1}))
	must(tb, b.Road(city.Cell{X: 6, Y: 1}, city.Cell{X: 9, Y: 1}))
	must(tb, b.Set(city.Cell{X: 0, Y: 0}, city.Residence, "3 Oak Street"))
	must(tb, b.Set(city.Cell{X: 8, Y: 0}, city.Workplace, "Lumen Labs"))
	must(tb, b.Set(city.Cell{X: 2, Y: 2}, city.Eatery, "Green Bowl"))
	return b.Build()
}

func must(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatalf("build city: %v", err)
	}
}

// Schedule is an office day: wake 7, work 8-16, lunch 12-12:45, bed 22:30, no leisure.
func Schedule() schedule.Schedule {
	return schedule.Schedule{
		Wake:         7,
		WorkStart:    8,
		WorkDuration: 8,
		WorkEnd:      16,
		TakesLunch:   true,
		LunchStart:   12,
		LunchEnd:     12.75,
		Bedtime:      22.5,
		Curfew:       21.5,
	}
}

// Tuning is the default tuning with the delivery threshold lowered so the
// 10-tile workplace/eatery gap in DeliveryCity counts as too far.
func Tuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Delivery.DistanceThreshold = 9
	return t
}

// Day calls step once per tick from the first tick after midnight to hour 24,
// using a fixed real-time delta. Hours are computed from the tick index so they
// do not drift.
func Day(t tuning.Tuning, dtSeconds float64, step func(hour, dt float64)) {
	hps := t.HoursPerSecond()
	for i := 1; ; i++ {
		hour := math.Min(float64(i)*dtSeconds*hps, 24)
		step(hour, dtSeconds)
		if hour >= 24 {
			return
		}
	}
}
