package city

import (
	"fmt"
	"math/rand"

	"citysim/internal/sim/catalogs"
)

// NameGenerator hands out display names that are unique within one generator.
// Construct a new generator for every city; there is no shared state between instances.
type NameGenerator struct {
	pools     map[TileClass][]string
	used      map[string]struct{}
	nextHouse map[string]int
}

func NewNameGenerator(names catalogs.NameCatalog) *NameGenerator {
	return &NameGenerator{
		pools: map[TileClass][]string{
			Residence: names.Streets,
			Workplace: names.Workplaces,
			Leisure:   names.Leisure,
			Eatery:    names.Eateries,
		},
		used:      map[string]struct{}{},
		nextHouse: map[string]int{},
	}
}

// Next returns a fresh name for a building of the given class.
// Residences get a street address; other classes draw from their pool and are
// suffixed with a branch number once the plain name is taken.
func (n *NameGenerator) Next(class TileClass, rng *rand.Rand) string {
	pool := n.pools[class]
	if len(pool) == 0 {
		return n.claim(fmt.Sprintf("%s #%d", class, len(n.used)+1))
	}
	base := pool[rng.Intn(len(pool))]
	if class == Residence {
		num := n.nextHouse[base]
		if num == 0 {
			num = 1
		}
		for {
			name := fmt.Sprintf("%d %s", num, base)
			num += 2
			if _, taken := n.used[name]; !taken {
				n.nextHouse[base] = num
				return n.claim(name)
			}
		}
	}
	if _, taken := n.used[base]; !taken {
		return n.claim(base)
	}
	for branch := 2; ; branch++ {
		name := fmt.Sprintf("%s %d", base, branch)
		if _, taken := n.used[name]; !taken {
			return n.claim(name)
		}
	}
}

// Used reports how many names this generator has handed out.
func (n *NameGenerator) Used() int { return len(n.used) }

func (n *NameGenerator) claim(name string) string {
	n.used[name] = struct{}{}
	return name
}
