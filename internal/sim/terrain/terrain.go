// Package terrain renders deterministic demo terrain into minimap map-color tiles.
package terrain

import (
	"errors"
	"fmt"

	"vanillaminimaps.ai/internal/sim/mathx"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

var ErrUnknownWorld = errors.New("unknown world")

// Map color bases; a palette byte is base*4 + shade.
const (
	colorGrass   = 1
	colorSand    = 2
	colorSnow    = 8
	colorFoliage = 7
	colorDirt    = 10
	colorStone   = 11
	colorWater   = 12
)

const (
	shadeDark   = 0
	shadeNormal = 1
	shadeLight  = 2

	cellSize        = 16 // height lattice spacing in blocks
	biomeRegionSize = 256
	maxHeight       = 128
	snowLine        = 100
)

type World struct {
	ID       tilecache.WorldID
	Seed     int64
	SeaLevel int
}

// Generator implements tilecache.Renderer for a fixed set of worlds.
type Generator struct {
	worlds map[tilecache.WorldID]World
}

func New(worlds ...World) (*Generator, error) {
	g := &Generator{worlds: make(map[tilecache.WorldID]World, len(worlds))}
	for _, w := range worlds {
		if w.ID == "" {
			return nil, fmt.Errorf("terrain: empty world id")
		}
		if _, dup := g.worlds[w.ID]; dup {
			return nil, fmt.Errorf("terrain: duplicate world %q", w.ID)
		}
		g.worlds[w.ID] = w
	}
	return g, nil
}

func (g *Generator) RenderTile(world tilecache.WorldID, alignedX, alignedZ int) ([]byte, error) {
	w, ok := g.worlds[world]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorld, world)
	}
	out := make([]byte, tilecache.TileLen)
	originX := alignedX - tilecache.TileSize/2
	originZ := alignedZ - tilecache.TileSize/2
	for dz := 0; dz < tilecache.TileSize; dz++ {
		for dx := 0; dx < tilecache.TileSize; dx++ {
			idx := (tilecache.TileSize-1-dz)*tilecache.TileSize + (tilecache.TileSize - 1 - dx)
			out[idx] = w.colorAt(originX+dx, originZ+dz)
		}
	}
	return out, nil
}

// ColorAt is the palette byte of block (x, z).
func (g *Generator) ColorAt(world tilecache.WorldID, x, z int) (byte, error) {
	w, ok := g.worlds[world]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownWorld, world)
	}
	return w.colorAt(x, z), nil
}

func (w World) colorAt(x, z int) byte {
	h := w.heightAt(x, z)
	if h < w.SeaLevel {
		depth := w.SeaLevel - h
		switch {
		case depth > 12:
			return colorWater*4 + shadeDark
		case depth > 4:
			return colorWater*4 + shadeNormal
		default:
			return colorWater*4 + shadeLight
		}
	}

	// Vanilla maps shade a block by comparing it with its northern neighbour.
	shade := byte(shadeNormal)
	if north := w.heightAt(x, z-1); h > north {
		shade = shadeLight
	} else if h < north {
		shade = shadeDark
	}

	var base byte
	switch {
	case h >= snowLine:
		base = colorSnow
	case h >= snowLine-20:
		base = colorStone
	case h <= w.SeaLevel+1:
		base = colorSand
	default:
		base = w.biomeColor(x, z)
	}
	return base*4 + shade
}

func (w World) biomeColor(x, z int) byte {
	rx := mathx.FloorDiv(x, biomeRegionSize)
	rz := mathx.FloorDiv(z, biomeRegionSize)
	switch mathx.Hash2(w.Seed^0x5bd1e995, rx, rz) % 3 {
	case 0:
		return colorGrass
	case 1:
		return colorFoliage
	default:
		return colorDirt
	}
}

// heightAt bilinearly interpolates hashed lattice heights, two octaves.
func (w World) heightAt(x, z int) int {
	h := 0.7*w.octave(x, z, cellSize*4, 0) + 0.3*w.octave(x, z, cellSize, 1)
	return int(h * maxHeight)
}

func (w World) octave(x, z, cell int, salt int64) float64 {
	cx := mathx.FloorDiv(x, cell)
	cz := mathx.FloorDiv(z, cell)
	fx := float64(mathx.Mod(x, cell)) / float64(cell)
	fz := float64(mathx.Mod(z, cell)) / float64(cell)

	seed := w.Seed + salt*0x632be59bd9b4e019
	v00 := unit(mathx.Hash2(seed, cx, cz))
	v10 := unit(mathx.Hash2(seed, cx+1, cz))
	v01 := unit(mathx.Hash2(seed, cx, cz+1))
	v11 := unit(mathx.Hash2(seed, cx+1, cz+1))

	fx, fz = smooth(fx), smooth(fz)
	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fz
}

func unit(h uint64) float64 {
	return float64(h>>11) / float64(1<<53)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}
