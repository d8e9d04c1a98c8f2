package tilecache

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type countingRenderer struct {
	calls atomic.Int64
	fail  map[[2]int]bool
}

func (r *countingRenderer) RenderTile(world WorldID, x, z int) ([]byte, error) {
	r.calls.Add(1)
	if r.fail[[2]int{x, z}] {
		return nil, errors.New("region not generated")
	}
	b := make([]byte, TileLen)
	for i := range b {
		b[i] = byte(x/TileSize + 3*(z/TileSize) + len(world))
	}
	return b, nil
}

func newTestCache(t *testing.T, r Renderer, cfg Config) *Cache {
	t.Helper()
	c, err := New(r, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPackKey_DeterministicAndInjective(t *testing.T) {
	seen := map[Key][3]int{}
	for w := 0; w < 3; w++ {
		for x := -20; x <= 20; x++ {
			for z := -20; z <= 20; z++ {
				ax, az := x*TileSize, z*TileSize
				k := PackKey(uint16(w), ax, az)
				if k != PackKey(uint16(w), ax, az) {
					t.Fatalf("PackKey not deterministic")
				}
				if prev, ok := seen[k]; ok {
					t.Fatalf("collision: %v and %v", prev, [3]int{w, ax, az})
				}
				seen[k] = [3]int{w, ax, az}
				gw, gx, gz := UnpackKey(k)
				if int(gw) != w || gx != ax || gz != az {
					t.Fatalf("UnpackKey(%v) = %d,%d,%d", k, gw, gx, gz)
				}
			}
		}
	}
	// extremes of the supported range
	far := (1<<23 - 1) * TileSize
	if _, gx, gz := UnpackKey(PackKey(1, far, -far-TileSize)); gx != far || gz != -far-TileSize {
		t.Fatalf("extreme coordinates did not round-trip: %d,%d", gx, gz)
	}
}

func TestKeyOf_StableWorldIndex(t *testing.T) {
	c := newTestCache(t, &countingRenderer{}, Config{})
	a := c.KeyOf("overworld", 128, -256)
	b := c.KeyOf("nether", 128, -256)
	if a == b {
		t.Fatalf("different worlds share a key")
	}
	if c.KeyOf("overworld", 128, -256) != a {
		t.Fatalf("KeyOf not deterministic")
	}
}

func TestKeyOf_FullRegistryNeverCollides(t *testing.T) {
	c := newTestCache(t, &countingRenderer{}, Config{})
	for i := 0; i < maxWorlds; i++ {
		c.KeyOf(WorldID(strconv.Itoa(i)), 0, 0)
	}
	if _, err := c.Get("0", 0, 0); err != nil {
		t.Fatalf("Get registered world: %v", err)
	}

	extra := c.KeyOf("one-too-many", 0, 0)
	if extra == c.KeyOf("0", 0, 0) {
		t.Fatalf("overflow world shares a key with world 0")
	}
	if idx, _, _ := UnpackKey(extra); idx != overflowWorld {
		t.Fatalf("overflow index=%d want %d", idx, overflowWorld)
	}
	if _, err := c.Get("one-too-many", 0, 0); !errors.Is(err, ErrTooManyWorld) {
		t.Fatalf("Get overflow world err=%v", err)
	}
	if c.Contains(extra) || c.Len() != 1 {
		t.Fatalf("overflow world published a tile: len=%d", c.Len())
	}
}

func TestGet_CachesAndShares(t *testing.T) {
	r := &countingRenderer{}
	c := newTestCache(t, r, Config{})
	t1, err := c.Get("w", 0, 128)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	t2, err := c.Get("w", 0, 128)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if &t1[0] != &t2[0] {
		t.Fatalf("second Get should return the cached buffer")
	}
	if r.calls.Load() != 1 {
		t.Fatalf("renderer called %d times", r.calls.Load())
	}
	if _, err := c.Get("w", 1, 0); !errors.Is(err, ErrUnaligned) {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
}

func TestGet_ConcurrentMissRendersOnce(t *testing.T) {
	r := &countingRenderer{}
	c := newTestCache(t, r, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get("w", 256, 256); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()
	if r.calls.Load() != 1 {
		t.Fatalf("renderer called %d times", r.calls.Load())
	}
}

func TestGet_RenderFailureNotCached(t *testing.T) {
	r := &countingRenderer{fail: map[[2]int]bool{{0, 0}: true}}
	c := newTestCache(t, r, Config{})
	if _, err := c.Get("w", 0, 0); !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("expected ErrRenderFailed, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed tile must not be cached")
	}
	delete(r.fail, [2]int{0, 0})
	if _, err := c.Get("w", 0, 0); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if r.calls.Load() != 2 {
		t.Fatalf("expected a retry render, calls=%d", r.calls.Load())
	}
}

func TestGet_ShortTileRejected(t *testing.T) {
	r := RendererFunc(func(WorldID, int, int) ([]byte, error) { return make([]byte, 10), nil })
	c := newTestCache(t, r, Config{})
	if _, err := c.Get("w", 0, 0); !errors.Is(err, ErrRenderFailed) {
		t.Fatalf("expected ErrRenderFailed, got %v", err)
	}
}

func TestSetViewerInterest_Eviction(t *testing.T) {
	c := newTestCache(t, &countingRenderer{}, Config{})
	v1, v2 := uuid.New(), uuid.New()
	kA := c.KeyOf("w", 0, 0)
	kB := c.KeyOf("w", 128, 0)
	kC := c.KeyOf("w", 256, 0)
	for _, x := range []int{0, 128, 256} {
		if _, err := c.Get("w", x, 0); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}

	c.SetViewerInterest(v1, []Key{kA, kB})
	c.SetViewerInterest(v2, []Key{kB, kC})
	if c.Referenced(kB) != 2 {
		t.Fatalf("kB refs=%d", c.Referenced(kB))
	}

	// v1 moves on: kA is held by nobody, kB still by v2.
	c.SetViewerInterest(v1, []Key{kC})
	if c.Contains(kA) {
		t.Fatalf("kA should be evicted")
	}
	if !c.Contains(kB) || !c.Contains(kC) {
		t.Fatalf("tiles still in view were evicted")
	}

	c.RemoveViewer(v2)
	if c.Contains(kB) {
		t.Fatalf("kB should be evicted after v2 left")
	}
	if !c.Contains(kC) {
		t.Fatalf("kC still held by v1")
	}
	c.RemoveViewer(v1)
	if c.Len() != 0 || c.Viewers() != 0 {
		t.Fatalf("cache not empty: tiles=%d viewers=%d", c.Len(), c.Viewers())
	}
}

func TestSetViewerInterest_DuplicateKeys(t *testing.T) {
	c := newTestCache(t, &countingRenderer{}, Config{})
	v := uuid.New()
	k := c.KeyOf("w", 0, 0)
	if _, err := c.Get("w", 0, 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.SetViewerInterest(v, []Key{k, k, k})
	if c.Referenced(k) != 1 {
		t.Fatalf("duplicate keys counted %d times", c.Referenced(k))
	}
	c.SetViewerInterest(v, []Key{k})
	if !c.Contains(k) {
		t.Fatalf("re-submitting the same set must not evict")
	}
}

func TestSweep_EvictsUnreferenced(t *testing.T) {
	c := newTestCache(t, &countingRenderer{}, Config{})
	v := uuid.New()
	held := c.KeyOf("w", 0, 0)
	for _, x := range []int{0, 128} {
		if _, err := c.Get("w", x, 0); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	c.SetViewerInterest(v, []Key{held})
	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep evicted %d tiles, want 1", n)
	}
	if !c.Contains(held) {
		t.Fatalf("referenced tile swept")
	}
}

func TestEvictedBufferStaysValid(t *testing.T) {
	c := newTestCache(t, &countingRenderer{}, Config{})
	tile, err := c.Get("w", 128, 128)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := tile[100]
	c.Sweep()
	if tile[100] != want || len(tile) != TileLen {
		t.Fatalf("evicted buffer changed under the reader")
	}
}

func TestColdTier_AvoidsRerender(t *testing.T) {
	r := &countingRenderer{}
	c := newTestCache(t, r, Config{ColdMaxCost: 64 * TileLen, ColdTTL: time.Minute})
	v := uuid.New()
	k := c.KeyOf("w", 0, 0)
	if _, err := c.Get("w", 0, 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.SetViewerInterest(v, []Key{k})
	c.RemoveViewer(v)
	if c.Contains(k) {
		t.Fatalf("tile should leave the hot tier")
	}
	if _, err := c.Get("w", 0, 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("cold tier miss: renderer called %d times", r.calls.Load())
	}
	if c.Stats().ColdHits != 1 {
		t.Fatalf("stats: %+v", c.Stats())
	}
}

func TestExportPrewarm(t *testing.T) {
	r := &countingRenderer{}
	src := newTestCache(t, r, Config{})
	for _, x := range []int{-128, 0, 128} {
		if _, err := src.Get("w", x, 0); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	recs := src.Export()
	if len(recs) != 3 || recs[0].X != -128 || recs[2].X != 128 {
		t.Fatalf("unexpected export: %d records", len(recs))
	}

	r2 := &countingRenderer{}
	dst := newTestCache(t, r2, Config{ColdMaxCost: 64 * TileLen, ColdTTL: time.Minute})
	if n := dst.Prewarm(recs); n != 3 {
		t.Fatalf("Prewarm accepted %d", n)
	}
	if _, err := dst.Get("w", 0, 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r2.calls.Load() != 0 {
		t.Fatalf("prewarmed tile rendered again")
	}
}
