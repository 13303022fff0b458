// Package presets holds named placements ("mask areas") for the overlay.
package presets

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"pin-ad-studio/internal/compositor"
)

type Preset struct {
	Name  string  `toml:"name" json:"name"`
	X     int     `toml:"x" json:"x"`
	Y     int     `toml:"y" json:"y"`
	Scale float64 `toml:"scale" json:"scale"`
}

func (p Preset) Placement() compositor.Placement {
	return compositor.Placement{X: p.X, Y: p.Y, Scale: p.Scale}
}

type file struct {
	Presets []Preset `toml:"preset"`
}

// Builtin is always present unless a file overrides it by name.
func Builtin() []Preset {
	return []Preset{
		{Name: "Dog image", X: 100, Y: 0, Scale: 1.2},
	}
}

// Load reads a TOML file of [[preset]] tables. A missing file yields the
// built-in presets only.
func Load(path string) ([]Preset, error) {
	list := Builtin()
	if strings.TrimSpace(path) == "" {
		return list, nil
	}

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return list, nil
	}
	if err != nil {
		return nil, err
	}

	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("parsing presets %s: %w", path, err)
	}

	for i, p := range f.Presets {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return nil, fmt.Errorf("preset #%d: name is required", i+1)
		}
		if math.IsNaN(p.Scale) || p.Scale <= 0 {
			return nil, fmt.Errorf("preset %q: scale must be positive", p.Name)
		}
		list = upsert(list, p)
	}

	return list, nil
}

func upsert(list []Preset, p Preset) []Preset {
	for i := range list {
		if strings.EqualFold(list[i].Name, p.Name) {
			list[i] = p
			return list
		}
	}
	return append(list, p)
}

type Catalog struct {
	mu      sync.RWMutex
	presets []Preset
}

func NewCatalog(list []Preset) *Catalog {
	c := &Catalog{}
	c.Replace(list)
	return c
}

func (c *Catalog) Replace(list []Preset) {
	cp := append([]Preset(nil), list...)
	sort.SliceStable(cp, func(i, j int) bool {
		return strings.ToLower(cp[i].Name) < strings.ToLower(cp[j].Name)
	})

	c.mu.Lock()
	c.presets = cp
	c.mu.Unlock()
}

// Get matches names case-insensitively, also accepting "_" or "-" for spaces.
func (c *Catalog) Get(name string) (Preset, bool) {
	want := normalize(name)
	if want == "" {
		return Preset{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.presets {
		if normalize(p.Name) == want {
			return p, true
		}
	}
	return Preset{}, false
}

func (c *Catalog) List() []Preset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Preset(nil), c.presets...)
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
