package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"citysim/internal/city"
	"citysim/internal/sim/schedule"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz     int     `yaml:"tick_rate_hz"`
	RealDaySeconds float64 `yaml:"real_day_seconds"`
	Seed           int64   `yaml:"seed"`

	City     CityGen        `yaml:"city"`
	Actors   Actors         `yaml:"actors"`
	Delivery Delivery       `yaml:"delivery"`
	Leisure  Leisure        `yaml:"leisure"`
	Schedule ScheduleRanges `yaml:"schedule"`
}

type CityGen struct {
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	RoadSpacing    int     `yaml:"road_spacing"`
	BuildingChance float64 `yaml:"building_chance"`
	Weights        struct {
		Residence int `yaml:"residence"`
		Workplace int `yaml:"workplace"`
		Leisure   int `yaml:"leisure"`
		Eatery    int `yaml:"eatery"`
	} `yaml:"weights"`
}

// MaxActors caps the population regardless of how many residences exist.
const MaxActors = 150

type Actors struct {
	Max      int     `yaml:"max"`
	SpeedMin float64 `yaml:"speed_min"` // tiles per real second
	SpeedMax float64 `yaml:"speed_max"`
}

type Delivery struct {
	DistanceThreshold int     `yaml:"distance_threshold"` // Chebyshev tiles, strictly greater triggers delivery
	CourierSpeed      float64 `yaml:"courier_speed"`
	DwellMinutes      float64 `yaml:"dwell_minutes"`
}

type Leisure struct {
	RestMin      float64 `yaml:"rest_min"`
	RestBuffer   float64 `yaml:"rest_buffer"`
	TravelBuffer float64 `yaml:"travel_buffer"`
}

// ScheduleRanges mirrors schedule.Params in yaml form; ranges are [min, max].
type ScheduleRanges struct {
	Wake          [2]float64 `yaml:"wake"`
	Commute       [2]float64 `yaml:"commute"`
	Work          [2]float64 `yaml:"work"`
	LunchChance   float64    `yaml:"lunch_chance"`
	LunchFraction float64    `yaml:"lunch_fraction"`
	Lunch         [2]float64 `yaml:"lunch"`
	OrderLead     float64    `yaml:"order_lead"`
	LeisureChance float64    `yaml:"leisure_chance"`
	LeisureLen    [2]float64 `yaml:"leisure"`
	Bedtime       [2]float64 `yaml:"bedtime"`
}

func Defaults() Tuning {
	p := schedule.DefaultParams()
	t := Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		RealDaySeconds:  240,
		Seed:            1337,
		Actors:          Actors{Max: 150, SpeedMin: 6, SpeedMax: 10},
		Delivery:        Delivery{DistanceThreshold: 20, CourierSpeed: 9, DwellMinutes: 10},
		Leisure:         Leisure{RestMin: 0.25, RestBuffer: 0.5, TravelBuffer: 1.0},
	}
	t.City = CityGen{Width: 64, Height: 48, RoadSpacing: 6, BuildingChance: 0.55}
	t.City.Weights.Residence = 6
	t.City.Weights.Workplace = 3
	t.City.Weights.Leisure = 1
	t.City.Weights.Eatery = 2
	t.Schedule = fromParams(p)
	return t
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.RealDaySeconds <= 0 {
		return fmt.Errorf("real_day_seconds must be > 0")
	}
	if t.Actors.Max <= 0 || t.Actors.Max > MaxActors {
		return fmt.Errorf("actors.max must be in [1,%d], got %d", MaxActors, t.Actors.Max)
	}
	if t.Actors.SpeedMin <= 0 || t.Actors.SpeedMax < t.Actors.SpeedMin {
		return fmt.Errorf("actors speed range [%v,%v] invalid", t.Actors.SpeedMin, t.Actors.SpeedMax)
	}
	if t.Delivery.CourierSpeed <= 0 {
		return fmt.Errorf("delivery.courier_speed must be > 0")
	}
	if t.Leisure.RestMin < 0 || t.Leisure.RestBuffer < t.Leisure.RestMin {
		return fmt.Errorf("leisure rest range [%v,%v] invalid", t.Leisure.RestMin, t.Leisure.RestBuffer)
	}
	for name, r := range map[string][2]float64{
		"wake": t.Schedule.Wake, "commute": t.Schedule.Commute, "work": t.Schedule.Work,
		"lunch": t.Schedule.Lunch, "leisure": t.Schedule.LeisureLen, "bedtime": t.Schedule.Bedtime,
	} {
		if r[1] < r[0] {
			return fmt.Errorf("schedule.%s: max %v < min %v", name, r[1], r[0])
		}
	}
	return nil
}

// HoursPerSecond is the simulated hours that pass per real second.
func (t Tuning) HoursPerSecond() float64 {
	return 24 / t.RealDaySeconds
}

func (t Tuning) ScheduleParams() schedule.Params {
	s := t.Schedule
	return schedule.Params{
		WakeMin: s.Wake[0], WakeMax: s.Wake[1],
		CommuteMin: s.Commute[0], CommuteMax: s.Commute[1],
		WorkMin: s.Work[0], WorkMax: s.Work[1],
		LunchChance:   s.LunchChance,
		LunchFraction: s.LunchFraction,
		LunchMin:      s.Lunch[0],
		LunchMax:      s.Lunch[1],
		OrderLead:     s.OrderLead,
		LeisureChance: s.LeisureChance,
		LeisureMin:    s.LeisureLen[0],
		LeisureMax:    s.LeisureLen[1],
		BedMin:        s.Bedtime[0], BedMax: s.Bedtime[1],
	}
}

func (t Tuning) GenConfig() city.GenConfig {
	return city.GenConfig{
		Width:           t.City.Width,
		Height:          t.City.Height,
		RoadSpacing:     t.City.RoadSpacing,
		BuildingChance:  t.City.BuildingChance,
		ResidenceWeight: t.City.Weights.Residence,
		WorkplaceWeight: t.City.Weights.Workplace,
		LeisureWeight:   t.City.Weights.Leisure,
		EateryWeight:    t.City.Weights.Eatery,
	}
}

func fromParams(p schedule.Params) ScheduleRanges {
	return ScheduleRanges{
		Wake:          [2]float64{p.WakeMin, p.WakeMax},
		Commute:       [2]float64{p.CommuteMin, p.CommuteMax},
		Work:          [2]float64{p.WorkMin, p.WorkMax},
		LunchChance:   p.LunchChance,
		LunchFraction: p.LunchFraction,
		Lunch:         [2]float64{p.LunchMin, p.LunchMax},
		OrderLead:     p.OrderLead,
		LeisureChance: p.LeisureChance,
		LeisureLen:    [2]float64{p.LeisureMin, p.LeisureMax},
		Bedtime:       [2]float64{p.BedMin, p.BedMax},
	}
}
