// Package schedule derives each resident's fixed daily timetable.
package schedule

import (
	"fmt"
	"math"
	"math/rand"
)

// Params bounds the randomized schedule. All values are simulated hours
// unless named as a probability or fraction.
type Params struct {
	WakeMin, WakeMax       float64
	CommuteMin, CommuteMax float64 // gap between waking and leaving for work
	WorkMin, WorkMax       float64

	LunchChance   float64
	LunchFraction float64 // position of lunch within the working day, before rounding
	LunchMin      float64
	LunchMax      float64
	OrderLead     float64 // delivery is ordered this long before lunch starts

	LeisureChance float64
	LeisureMin    float64
	LeisureMax    float64

	BedMin, BedMax float64
}

func DefaultParams() Params {
	return Params{
		WakeMin: 5.5, WakeMax: 8.0,
		CommuteMin: 0.5, CommuteMax: 1.5,
		WorkMin: 7.5, WorkMax: 9.5,
		LunchChance:   0.8,
		LunchFraction: 0.45,
		LunchMin:      0.5,
		LunchMax:      1.0,
		OrderLead:     1.0,
		LeisureChance: 0.6,
		LeisureMin:    1.0,
		LeisureMax:    2.5,
		BedMin:        21.5, BedMax: 23.5,
	}
}

// Schedule is immutable after New.
type Schedule struct {
	Wake         float64 `json:"wake"`
	WorkStart    float64 `json:"work_start"`
	WorkDuration float64 `json:"work_duration"`
	WorkEnd      float64 `json:"work_end"`

	TakesLunch bool    `json:"takes_lunch"`
	LunchStart float64 `json:"lunch_start,omitempty"`
	LunchEnd   float64 `json:"lunch_end,omitempty"`

	OrdersDelivery bool    `json:"orders_delivery"`
	OrderTime      float64 `json:"order_time,omitempty"`

	LeisureEligible bool    `json:"leisure_eligible"`
	LeisureDuration float64 `json:"leisure_duration,omitempty"`

	Bedtime float64 `json:"bedtime"`
	Curfew  float64 `json:"curfew"`
}

// New draws a schedule. deliveryEligible is true when the resident's eatery is too far
// from the workplace to walk to at lunch; delivery only applies to a lunch that
// starts inside working hours.
// Draw order is fixed so a given rng state always yields the same schedule.
func New(rng *rand.Rand, p Params, deliveryEligible bool) Schedule {
	var s Schedule
	s.Wake = uniform(rng, p.WakeMin, p.WakeMax)
	s.WorkStart = s.Wake + uniform(rng, p.CommuteMin, p.CommuteMax)
	s.WorkDuration = uniform(rng, p.WorkMin, p.WorkMax)
	s.WorkEnd = s.WorkStart + s.WorkDuration

	lunchRoll := rng.Float64()
	lunchLen := uniform(rng, p.LunchMin, p.LunchMax)
	if lunchRoll < p.LunchChance {
		s.TakesLunch = true
		s.LunchStart = RoundHalfHour(s.WorkStart + s.WorkDuration*p.LunchFraction)
		s.LunchEnd = s.LunchStart + lunchLen
	}

	if deliveryEligible && s.LunchInsideWork() {
		s.OrdersDelivery = true
		s.OrderTime = math.Max(s.WorkStart, s.LunchStart-p.OrderLead)
	}

	leisureRoll := rng.Float64()
	leisureLen := uniform(rng, p.LeisureMin, p.LeisureMax)
	if leisureRoll < p.LeisureChance {
		s.LeisureEligible = true
		s.LeisureDuration = leisureLen
	}

	s.Bedtime = uniform(rng, p.BedMin, p.BedMax)
	if s.Bedtime >= 24 {
		s.Bedtime = math.Nextafter(24, 0)
	}
	s.Curfew = s.Bedtime - 1
	return s
}

// LunchInsideWork reports whether lunch starts before the working day ends.
// Half-hour rounding can push lunch to or past WorkEnd; such a lunch is never taken.
func (s Schedule) LunchInsideWork() bool {
	return s.TakesLunch && s.LunchStart < s.WorkEnd
}

// Validate checks the hard ordering invariants.
func (s Schedule) Validate() error {
	for _, v := range []struct {
		name string
		h    float64
	}{{"wake", s.Wake}, {"work_start", s.WorkStart}, {"bedtime", s.Bedtime}} {
		if v.h < 0 || v.h >= 24 || math.IsNaN(v.h) {
			return fmt.Errorf("%s=%.3f outside [0,24)", v.name, v.h)
		}
	}
	if s.Wake > s.WorkStart {
		return fmt.Errorf("wake %.3f after work start %.3f", s.Wake, s.WorkStart)
	}
	if s.WorkStart > s.WorkEnd {
		return fmt.Errorf("work start %.3f after work end %.3f", s.WorkStart, s.WorkEnd)
	}
	if s.TakesLunch && s.LunchEnd < s.LunchStart {
		return fmt.Errorf("lunch end %.3f before start %.3f", s.LunchEnd, s.LunchStart)
	}
	if s.OrdersDelivery && !s.LunchInsideWork() {
		return fmt.Errorf("delivery ordered without a lunch inside work hours")
	}
	if s.Curfew != s.Bedtime-1 {
		return fmt.Errorf("curfew %.3f != bedtime-1", s.Curfew)
	}
	return nil
}

// RoundHalfHour rounds to the nearest 0.5h, halves rounding up.
func RoundHalfHour(h float64) float64 {
	return math.Floor(h*2+0.5) / 2
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

// FormatHour renders fractional hours as HH:MM.
func FormatHour(h float64) string {
	if h < 0 {
		h = 0
	}
	total := int(math.Round(h * 60))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
