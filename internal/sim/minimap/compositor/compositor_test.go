package compositor

import (
	"bytes"
	"errors"
	"testing"

	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

// worldValue is the terrain "colour" of a block in the test world.
func worldValue(wx, wz int) byte {
	return byte(wx*7 + wz*13)
}

// renderWorld lays out worldValue in tile storage order.
func renderWorld(_ tilecache.WorldID, ax, az int) ([]byte, error) {
	b := make([]byte, tilecache.TileLen)
	for dz := 0; dz < Size; dz++ {
		for dx := 0; dx < Size; dx++ {
			b[(Size-1-dz)*Size+(Size-1-dx)] = worldValue(ax-half+dx, az-half+dz)
		}
	}
	return b, nil
}

type recordingSource struct {
	*tilecache.Cache
	fetched [][2]int
	fail    map[[2]int]bool
}

func (s *recordingSource) Get(world tilecache.WorldID, x, z int) ([]byte, error) {
	s.fetched = append(s.fetched, [2]int{x, z})
	if s.fail[[2]int{x, z}] {
		return nil, tilecache.ErrRenderFailed
	}
	return s.Cache.Get(world, x, z)
}

func newSource(t *testing.T, r tilecache.RendererFunc) *recordingSource {
	t.Helper()
	c, err := tilecache.New(r, tilecache.Config{}, nil)
	if err != nil {
		t.Fatalf("tilecache.New: %v", err)
	}
	t.Cleanup(c.Close)
	return &recordingSource{Cache: c}
}

func checkAgainstWorld(t *testing.T, f Frame, startX, startZ, scale int) {
	t.Helper()
	for z := 0; z < Size; z++ {
		for x := 0; x < Size; x++ {
			got := f.Pixels[(Size-1-z)*Size+(Size-1-x)]
			want := worldValue(startX+x*scale, startZ+z*scale)
			if got != want {
				t.Fatalf("pixel (%d,%d): got %d want %d", x, z, got, want)
			}
		}
	}
}

func TestComposite_AnchorEqualsTile(t *testing.T) {
	src := newSource(t, renderWorld)
	f, err := Composite(src, "w", 0.3, 0.9, 1)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	tile, _ := renderWorld("w", 0, 0)
	if !bytes.Equal(f.Pixels, tile) {
		t.Fatalf("offset (0,0) must reproduce the tile")
	}
	if len(src.fetched) != 1 || len(f.Keys) != 1 || f.Keys[0] != src.KeyOf("w", 0, 0) {
		t.Fatalf("fetched %v keys %v", src.fetched, f.Keys)
	}
}

func TestComposite_BoundaryCases(t *testing.T) {
	cases := []struct {
		name  string
		x, z  float64
		tiles [][2]int
	}{
		{"none", 128, 256, [][2]int{{128, 256}}},
		{"x", 133, 256, [][2]int{{128, 256}, {256, 256}}},
		{"z", 128, 300, [][2]int{{128, 256}, {128, 384}}},
		{"xz", 250, 300, [][2]int{{128, 256}, {256, 256}, {128, 384}, {256, 384}}},
		{"negative", -1, -1, [][2]int{{-128, -128}, {0, -128}, {-128, 0}, {0, 0}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := newSource(t, renderWorld)
			f, err := Composite(src, "w", c.x, c.z, 1)
			if err != nil {
				t.Fatalf("Composite: %v", err)
			}
			if len(src.fetched) != len(c.tiles) {
				t.Fatalf("fetched %v want %v", src.fetched, c.tiles)
			}
			for i, want := range c.tiles {
				if src.fetched[i] != want {
					t.Fatalf("fetched %v want %v", src.fetched, c.tiles)
				}
				if f.Keys[i] != src.KeyOf("w", want[0], want[1]) {
					t.Fatalf("key %d mismatch", i)
				}
			}
			bx, bz := int(c.x), int(c.z)
			if c.x < 0 {
				bx, bz = -1, -1
			}
			checkAgainstWorld(t, f, bx-half, bz-half, 1)
		})
	}
}

func TestComposite_UnscaledMatchesPerPixelPath(t *testing.T) {
	src := newSource(t, renderWorld)
	for _, p := range [][2]int{{5, 0}, {0, 77}, {127, 127}, {-300, 41}, {1000, -1000}} {
		a, err := compositeUnscaled(src, "w", p[0], p[1])
		if err != nil {
			t.Fatalf("unscaled: %v", err)
		}
		b, err := compositeScaled(src, "w", float64(p[0]), float64(p[1]), 1)
		if err != nil {
			t.Fatalf("scaled: %v", err)
		}
		if !bytes.Equal(a.Pixels, b.Pixels) {
			t.Fatalf("paths disagree at %v", p)
		}
	}
}

func TestComposite_Scaled(t *testing.T) {
	src := newSource(t, renderWorld)
	scale := 4
	f, err := Composite(src, "w", 10.5, -3, scale)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	centerX, centerZ := 8, -4
	startX, startZ := centerX-half*scale, centerZ-half*scale
	checkAgainstWorld(t, f, startX, startZ, scale)

	// 512 blocks per axis span anchors -256..256, five tiles each way.
	if len(f.Keys) != 25 {
		t.Fatalf("got %d keys want 25", len(f.Keys))
	}
	seen := map[tilecache.Key]bool{}
	for _, k := range f.Keys {
		if seen[k] {
			t.Fatalf("duplicate key %v", k)
		}
		seen[k] = true
	}
}

func TestComposite_FailedTileIsBlank(t *testing.T) {
	src := newSource(t, renderWorld)
	src.fail = map[[2]int]bool{{128, 0}: true}
	f, err := Composite(src, "w", 64, 0, 1)
	if !errors.Is(err, tilecache.ErrRenderFailed) {
		t.Fatalf("expected ErrRenderFailed, got %v", err)
	}
	// Offset 64: output columns C < 64 come from the failed +X tile.
	for row := 0; row < Size; row++ {
		for col := 0; col < 64; col++ {
			if f.Pixels[row*Size+col] != 0 {
				t.Fatalf("failed tile area not blank at (%d,%d)", col, row)
			}
		}
	}
	if f.Pixels[64] != worldValue(63, 63) {
		t.Fatalf("healthy tile area lost")
	}
	if len(f.Keys) != 2 {
		t.Fatalf("interest must still include the failed tile, got %d keys", len(f.Keys))
	}
}
