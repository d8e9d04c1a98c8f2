package tilecache

import "sort"

// TileRecord is a published tile in a form that survives restarts.
type TileRecord struct {
	World WorldID
	X, Z  int
	Data  []byte
}

// Export copies out every published tile, ordered by world then coordinates.
func (c *Cache) Export() []TileRecord {
	c.mu.RLock()
	out := make([]TileRecord, 0, len(c.tiles))
	for k, t := range c.tiles {
		idx, x, z := UnpackKey(k)
		if int(idx) >= len(c.worldNames) {
			continue
		}
		out = append(out, TileRecord{World: c.worldNames[idx], X: x, Z: z, Data: t})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].World != out[j].World {
			return out[i].World < out[j].World
		}
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}

// Prewarm parks records in the cold tier so the first viewer to need them skips rendering.
// Records stay subject to the cold tier's TTL and cost bound. It returns the number accepted.
func (c *Cache) Prewarm(records []TileRecord) int {
	if c.cold == nil {
		return 0
	}
	n := 0
	for _, r := range records {
		if len(r.Data) != TileLen || !Aligned(r.X) || !Aligned(r.Z) {
			continue
		}
		key, err := c.keyOf(r.World, r.X, r.Z)
		if err != nil {
			continue
		}
		if c.cold.SetWithTTL(uint64(key), r.Data, TileLen, c.coldTTL) {
			n++
		}
	}
	c.cold.Wait()
	return n
}
