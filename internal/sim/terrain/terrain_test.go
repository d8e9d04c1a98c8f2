package terrain

import (
	"errors"
	"testing"

	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

func TestRenderTile_MatchesColorAt(t *testing.T) {
	g, err := New(World{ID: "overworld", Seed: 1337, SeaLevel: 40})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tile, err := g.RenderTile("overworld", 128, -256)
	if err != nil {
		t.Fatalf("RenderTile: %v", err)
	}
	if len(tile) != tilecache.TileLen {
		t.Fatalf("len=%d", len(tile))
	}
	for _, p := range [][2]int{{0, 0}, {127, 127}, {5, 90}, {64, 64}, {100, 3}} {
		dx, dz := p[0], p[1]
		want, _ := g.ColorAt("overworld", 128-64+dx, -256-64+dz)
		if got := tile[(127-dz)*128+(127-dx)]; got != want {
			t.Fatalf("block (%d,%d): got %d want %d", dx, dz, got, want)
		}
	}
}

func TestRenderTile_Deterministic(t *testing.T) {
	a, _ := New(World{ID: "w", Seed: 1, SeaLevel: 40})
	b, _ := New(World{ID: "w", Seed: 1, SeaLevel: 40})
	c, _ := New(World{ID: "w", Seed: 2, SeaLevel: 40})
	ta, _ := a.RenderTile("w", 0, 0)
	tb, _ := b.RenderTile("w", 0, 0)
	tc, _ := c.RenderTile("w", 0, 0)
	if string(ta) != string(tb) {
		t.Fatalf("same seed produced different tiles")
	}
	if string(ta) == string(tc) {
		t.Fatalf("different seeds produced identical tiles")
	}
}

func TestRenderTile_PaletteRange(t *testing.T) {
	g, _ := New(World{ID: "w", Seed: 99, SeaLevel: 60})
	tile, _ := g.RenderTile("w", -128, 512)
	for i, v := range tile {
		if v < colorGrass*4 || v > colorWater*4+shadeLight || v%4 > shadeLight {
			t.Fatalf("pixel %d has palette byte %d", i, v)
		}
	}
}

func TestRenderTile_UnknownWorld(t *testing.T) {
	g, _ := New(World{ID: "w", Seed: 1})
	if _, err := g.RenderTile("nether", 0, 0); !errors.Is(err, ErrUnknownWorld) {
		t.Fatalf("err=%v", err)
	}
	if _, err := New(World{ID: "w"}, World{ID: "w"}); err == nil {
		t.Fatalf("duplicate world accepted")
	}
}
