package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Catalogs struct {
	Names NameCatalog
}

// NameCatalog holds the display-name pools used when naming generated buildings.
type NameCatalog struct {
	Streets    []string `json:"streets"`
	Workplaces []string `json:"workplaces"`
	Leisure    []string `json:"leisure"`
	Eateries   []string `json:"eateries"`

	Digest string `json:"-"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadNames(filepath.Join(configDir, "names.json"), &c.Names); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadNames(path string, out *NameCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("names.json: %w", err)
	}
	for _, pool := range []struct {
		name string
		list *[]string
	}{
		{"streets", &out.Streets},
		{"workplaces", &out.Workplaces},
		{"leisure", &out.Leisure},
		{"eateries", &out.Eateries},
	} {
		cleaned, err := normalizePool(*pool.list)
		if err != nil {
			return fmt.Errorf("names.json: %s: %w", pool.name, err)
		}
		if len(cleaned) == 0 {
			return fmt.Errorf("names.json: empty pool %q", pool.name)
		}
		*pool.list = cleaned
	}
	return nil
}

// normalizePool trims, rejects blanks and sorts so generation is independent of file order.
func normalizePool(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("blank entry")
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// Defaults returns a small built-in catalog, used by tests and when no config dir is present.
func Defaults() *Catalogs {
	c := &Catalogs{Names: NameCatalog{
		Streets:    []string{"Ash Street", "Birch Lane", "Cedar Road", "Elm Avenue", "Maple Row", "Oak Street"},
		Workplaces: []string{"Atlas Works", "Copperline Office", "Harbor Logistics", "Northgate Labs"},
		Leisure:    []string{"Central Park", "Riverside Gym", "Starlight Cinema"},
		Eateries:   []string{"Blue Door Diner", "Corner Noodles", "Sunny Side Cafe"},
	}}
	b, _ := json.Marshal(c.Names)
	c.Names.Digest = sha256Hex(b)
	return c
}
