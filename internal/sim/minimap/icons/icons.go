// Package icons holds the marker icons a server offers, keyed by name.
package icons

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"vanillaminimaps.ai/internal/sim/minimap"
)

const maxSide = 32

// Registry implements minimap.IconProvider. It is immutable once built.
type Registry struct {
	icons map[string]*minimap.Icon
}

// Def is an icon drawn as text rows; each rune maps to a palette byte and '.' is transparent.
type Def struct {
	Key     string          `yaml:"key"`
	Rows    []string        `yaml:"rows"`
	Palette map[string]byte `yaml:"palette"`
}

type file struct {
	Icons []Def `yaml:"icons"`
}

func New(defs ...Def) (*Registry, error) {
	r := &Registry{icons: map[string]*minimap.Icon{}}
	for _, d := range defs {
		ic, err := d.build()
		if err != nil {
			return nil, err
		}
		if _, dup := r.icons[ic.Key]; dup {
			return nil, fmt.Errorf("icon %q defined twice", ic.Key)
		}
		r.icons[ic.Key] = ic
	}
	for _, key := range []string{minimap.IconPlayer, minimap.IconDeath} {
		if r.icons[key] == nil {
			return nil, fmt.Errorf("required icon %q missing", key)
		}
	}
	return r, nil
}

// Load reads extra icon definitions from a YAML file and merges them over the built-ins.
// An empty path returns the built-ins alone.
func Load(path string) (*Registry, error) {
	defs := Builtin()
	if strings.TrimSpace(path) == "" {
		return New(defs...)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	byKey := map[string]int{}
	for i, d := range defs {
		byKey[d.Key] = i
	}
	for _, d := range f.Icons {
		if i, ok := byKey[d.Key]; ok {
			defs[i] = d
			continue
		}
		byKey[d.Key] = len(defs)
		defs = append(defs, d)
	}
	return New(defs...)
}

func (r *Registry) Icon(key string) *minimap.Icon { return r.icons[key] }

// IsSpecial reports icons reserved for the player and death markers.
func (r *Registry) IsSpecial(key string) bool {
	return key == minimap.IconPlayer || key == minimap.IconDeath
}

// Keys lists the icons players may pick for custom markers.
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.icons))
	for k := range r.icons {
		if !r.IsSpecial(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (d Def) build() (*minimap.Icon, error) {
	if d.Key == "" {
		return nil, fmt.Errorf("icon without key")
	}
	h := len(d.Rows)
	if h == 0 || h > maxSide {
		return nil, fmt.Errorf("icon %q: height %d out of range", d.Key, h)
	}
	w := len(d.Rows[0])
	if w == 0 || w > maxSide {
		return nil, fmt.Errorf("icon %q: width %d out of range", d.Key, w)
	}
	ic := &minimap.Icon{Key: d.Key, Width: w, Height: h, Pixels: make([]byte, w*h)}
	for y, row := range d.Rows {
		if len(row) != w {
			return nil, fmt.Errorf("icon %q: row %d has width %d, want %d", d.Key, y, len(row), w)
		}
		for x, c := range row {
			if c == '.' {
				continue
			}
			v, ok := d.Palette[string(c)]
			if !ok {
				return nil, fmt.Errorf("icon %q: no palette entry for %q", d.Key, c)
			}
			ic.Pixels[y*w+x] = v
		}
	}
	return ic, nil
}

// Builtin returns the icons every server ships with.
func Builtin() []Def {
	return []Def{
		{
			Key: minimap.IconPlayer,
			Rows: []string{
				"...#...",
				"..###..",
				".#####.",
				"#######",
				"...#...",
				"...#...",
				"...#...",
			},
			Palette: map[string]byte{"#": 34},
		},
		{
			Key: minimap.IconDeath,
			Rows: []string{
				"#.....#",
				".#...#.",
				"..#.#..",
				"...#...",
				"..#.#..",
				".#...#.",
				"#.....#",
			},
			Palette: map[string]byte{"#": 114},
		},
		{
			Key: "flag",
			Rows: []string{
				"#####",
				"#ooo#",
				"#####",
				"#....",
				"#....",
			},
			Palette: map[string]byte{"#": 46, "o": 18},
		},
		{
			Key: "house",
			Rows: []string{
				"..#..",
				".###.",
				"#####",
				"#o.o#",
				"#o.o#",
			},
			Palette: map[string]byte{"#": 42, "o": 106},
		},
		{
			Key: "dot",
			Rows: []string{
				".##.",
				"####",
				"####",
				".##.",
			},
			Palette: map[string]byte{"#": 122},
		},
	}
}
