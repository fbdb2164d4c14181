package city

import "math/rand"

type GenConfig struct {
	Width          int
	Height         int
	RoadSpacing    int
	BuildingChance float64

	// Relative weights of building classes for lots next to a road.
	ResidenceWeight int
	WorkplaceWeight int
	LeisureWeight   int
	EateryWeight    int
}

func (c *GenConfig) applyDefaults() {
	if c.Width <= 0 {
		c.Width = 64
	}
	if c.Height <= 0 {
		c.Height = 48
	}
	if c.RoadSpacing < 2 {
		c.RoadSpacing = 6
	}
	if c.BuildingChance <= 0 || c.BuildingChance > 1 {
		c.BuildingChance = 0.55
	}
	if c.ResidenceWeight+c.WorkplaceWeight+c.LeisureWeight+c.EateryWeight <= 0 {
		c.ResidenceWeight = 6
		c.WorkplaceWeight = 3
		c.LeisureWeight = 1
		c.EateryWeight = 2
	}
}

// Generate lays out a road lattice and places named buildings on lots that touch a road.
// The output depends only on cfg, the name pools and the rng state.
func Generate(cfg GenConfig, names *NameGenerator, rng *rand.Rand) *Grid {
	cfg.applyDefaults()
	b := NewBuilder(cfg.Width, cfg.Height)

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			if x%cfg.RoadSpacing == 0 || y%cfg.RoadSpacing == 0 {
				_ = b.Set(Cell{X: x, Y: y}, Road, "")
			}
		}
	}

	total := cfg.ResidenceWeight + cfg.WorkplaceWeight + cfg.LeisureWeight + cfg.EateryWeight
	pick := func() TileClass {
		r := rng.Intn(total)
		switch {
		case r < cfg.ResidenceWeight:
			return Residence
		case r < cfg.ResidenceWeight+cfg.WorkplaceWeight:
			return Workplace
		case r < cfg.ResidenceWeight+cfg.WorkplaceWeight+cfg.LeisureWeight:
			return Leisure
		default:
			return Eatery
		}
	}

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			c := Cell{X: x, Y: y}
			if b.At(c) != Empty || !touchesRoad(b, c) {
				continue
			}
			if rng.Float64() >= cfg.BuildingChance {
				continue
			}
			class := pick()
			_ = b.Set(c, class, names.Next(class, rng))
		}
	}
	return b.Build()
}

func touchesRoad(b *Builder, c Cell) bool {
	for _, d := range [...]Cell{{X: 0, Y: -1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}} {
		if b.At(Cell{X: c.X + d.X, Y: c.Y + d.Y}) == Road {
			return true
		}
	}
	return false
}
