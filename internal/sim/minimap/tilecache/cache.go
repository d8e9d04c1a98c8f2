package tilecache

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	maxWorlds     = 0xffff
	overflowWorld = uint16(maxWorlds)
)

var (
	ErrRenderFailed = errors.New("tile render failed")
	ErrUnaligned    = errors.New("tile coordinates not aligned")
	ErrTooManyWorld = errors.New("too many worlds")
)

// Renderer produces the 128x128 palette bytes of the tile anchored at (alignedX, alignedZ).
// The tile covers world blocks [aligned-64, aligned+64) on both axes, stored mirrored:
// index (127-dz)*128 + (127-dx) holds block (aligned-64+dx, aligned-64+dz).
type Renderer interface {
	RenderTile(world WorldID, alignedX, alignedZ int) ([]byte, error)
}

type RendererFunc func(world WorldID, alignedX, alignedZ int) ([]byte, error)

func (f RendererFunc) RenderTile(world WorldID, alignedX, alignedZ int) ([]byte, error) {
	return f(world, alignedX, alignedZ)
}

type Config struct {
	// ColdMaxCost bounds the bytes kept for recently evicted tiles. <= 0 disables the cold tier.
	ColdMaxCost int64
	ColdTTL     time.Duration
}

type Stats struct {
	Hits      uint64
	ColdHits  uint64
	Renders   uint64
	Failures  uint64
	Evictions uint64
}

// Cache holds rendered tiles shared by every viewer standing in the same region. A tile lives
// while some viewer's interest set references it; published buffers are never mutated.
type Cache struct {
	renderer Renderer
	log      logrus.FieldLogger

	mu         sync.RWMutex
	worldIndex map[WorldID]uint16
	worldNames []WorldID
	tiles      map[Key][]byte
	refs       map[Key]int
	viewers    map[uuid.UUID][]Key

	group   singleflight.Group
	cold    *ristretto.Cache[uint64, []byte]
	coldTTL time.Duration

	hits, coldHits, renders, failures, evictions atomic.Uint64
}

func New(r Renderer, cfg Config, logger logrus.FieldLogger) (*Cache, error) {
	if r == nil {
		return nil, fmt.Errorf("nil tile renderer")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Cache{
		renderer:   r,
		log:        logger.WithField("component", "tilecache"),
		worldIndex: map[WorldID]uint16{},
		tiles:      map[Key][]byte{},
		refs:       map[Key]int{},
		viewers:    map[uuid.UUID][]Key{},
	}
	if cfg.ColdMaxCost > 0 {
		ttl := cfg.ColdTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		counters := cfg.ColdMaxCost / TileLen * 10
		if counters < 1000 {
			counters = 1000
		}
		cold, err := ristretto.NewCache[uint64, []byte](&ristretto.Config[uint64, []byte]{
			NumCounters:        counters,
			MaxCost:            cfg.ColdMaxCost,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("cold tier: %w", err)
		}
		c.cold = cold
		c.coldTTL = ttl
	}
	return c, nil
}

func (c *Cache) Close() {
	if c.cold != nil {
		c.cold.Close()
	}
}

// KeyOf maps (world, alignedX, alignedZ) to its cache key. Worlds get a stable index on first use.
// Once the registry is full, unregistered worlds map to overflowWorld, an index no tile is ever
// published under because Get rejects those worlds.
func (c *Cache) KeyOf(world WorldID, alignedX, alignedZ int) Key {
	k, err := c.keyOf(world, alignedX, alignedZ)
	if err != nil {
		return PackKey(overflowWorld, alignedX, alignedZ)
	}
	return k
}

func (c *Cache) keyOf(world WorldID, alignedX, alignedZ int) (Key, error) {
	c.mu.RLock()
	idx, ok := c.worldIndex[world]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		idx, ok = c.worldIndex[world]
		if !ok {
			if len(c.worldNames) >= maxWorlds {
				c.mu.Unlock()
				return 0, ErrTooManyWorld
			}
			idx = uint16(len(c.worldNames))
			c.worldIndex[world] = idx
			c.worldNames = append(c.worldNames, world)
		}
		c.mu.Unlock()
	}
	return PackKey(idx, alignedX, alignedZ), nil
}

// Get returns the tile bytes, rendering them synchronously on a miss. The returned slice is
// shared and must not be modified; it stays valid after the tile is evicted.
func (c *Cache) Get(world WorldID, alignedX, alignedZ int) ([]byte, error) {
	if !Aligned(alignedX) || !Aligned(alignedZ) {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrUnaligned, alignedX, alignedZ)
	}
	key, err := c.keyOf(world, alignedX, alignedZ)
	if err != nil {
		return nil, err
	}
	if t, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return t, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(uint64(key), 16), func() (any, error) {
		if t, ok := c.lookup(key); ok {
			return t, nil
		}
		if t, ok := c.coldGet(key); ok {
			c.coldHits.Add(1)
			c.publish(key, t)
			return t, nil
		}
		raw, err := c.renderer.RenderTile(world, alignedX, alignedZ)
		if err != nil {
			c.failures.Add(1)
			return nil, fmt.Errorf("%w: %s (%d,%d): %w", ErrRenderFailed, world, alignedX, alignedZ, err)
		}
		if len(raw) != TileLen {
			c.failures.Add(1)
			return nil, fmt.Errorf("%w: %s (%d,%d): got %d bytes", ErrRenderFailed, world, alignedX, alignedZ, len(raw))
		}
		c.renders.Add(1)
		c.log.WithFields(logrus.Fields{"world": world, "x": alignedX, "z": alignedZ}).Debug("rendered tile")
		t := make([]byte, TileLen)
		copy(t, raw)
		c.publish(key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) lookup(key Key) ([]byte, bool) {
	c.mu.RLock()
	t, ok := c.tiles[key]
	c.mu.RUnlock()
	return t, ok
}

func (c *Cache) publish(key Key, t []byte) {
	c.mu.Lock()
	c.tiles[key] = t
	c.mu.Unlock()
}

// SetViewerInterest replaces the viewer's interest set. Tiles no viewer references any more
// are evicted before it returns.
func (c *Cache) SetViewerInterest(viewer uuid.UUID, keys []Key) {
	next := dedupe(keys)

	c.mu.Lock()
	prev := c.viewers[viewer]
	for _, k := range next {
		c.refs[k]++
	}
	if len(next) == 0 {
		delete(c.viewers, viewer)
	} else {
		c.viewers[viewer] = next
	}
	evicted := c.releaseLocked(prev)
	c.mu.Unlock()

	c.park(evicted)
}

// RemoveViewer drops the viewer's interest set entirely.
func (c *Cache) RemoveViewer(viewer uuid.UUID) {
	c.mu.Lock()
	prev, ok := c.viewers[viewer]
	delete(c.viewers, viewer)
	var evicted []evictedTile
	if ok {
		evicted = c.releaseLocked(prev)
	}
	c.mu.Unlock()

	c.park(evicted)
}

// Sweep evicts published tiles no viewer references, e.g. tiles fetched for a frame whose
// interest set was never submitted. It returns the number of evicted tiles.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	var evicted []evictedTile
	for k, t := range c.tiles {
		if c.refs[k] > 0 {
			continue
		}
		delete(c.tiles, k)
		evicted = append(evicted, evictedTile{key: k, data: t})
	}
	c.mu.Unlock()

	c.park(evicted)
	if len(evicted) > 0 {
		c.log.WithField("evicted", len(evicted)).Debug("swept unreferenced tiles")
	}
	return len(evicted)
}

type evictedTile struct {
	key  Key
	data []byte
}

func (c *Cache) releaseLocked(keys []Key) []evictedTile {
	var out []evictedTile
	for _, k := range keys {
		n := c.refs[k] - 1
		if n > 0 {
			c.refs[k] = n
			continue
		}
		delete(c.refs, k)
		if t, ok := c.tiles[k]; ok {
			delete(c.tiles, k)
			out = append(out, evictedTile{key: k, data: t})
		}
	}
	return out
}

func (c *Cache) park(evicted []evictedTile) {
	if len(evicted) == 0 {
		return
	}
	c.evictions.Add(uint64(len(evicted)))
	if c.cold == nil {
		return
	}
	for _, e := range evicted {
		c.cold.SetWithTTL(uint64(e.key), e.data, TileLen, c.coldTTL)
	}
	c.cold.Wait()
}

func (c *Cache) coldGet(key Key) ([]byte, bool) {
	if c.cold == nil {
		return nil, false
	}
	t, ok := c.cold.Get(uint64(key))
	if !ok || len(t) != TileLen {
		return nil, false
	}
	c.cold.Del(uint64(key))
	return t, true
}

func dedupe(keys []Key) []Key {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tiles)
}

func (c *Cache) Contains(key Key) bool {
	_, ok := c.lookup(key)
	return ok
}

// Referenced returns how many viewers currently hold key in their interest set.
func (c *Cache) Referenced(key Key) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refs[key]
}

func (c *Cache) Viewers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.viewers)
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		ColdHits:  c.coldHits.Load(),
		Renders:   c.renders.Load(),
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
	}
}
