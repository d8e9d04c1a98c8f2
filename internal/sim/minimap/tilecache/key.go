package tilecache

import "fmt"

const (
	TileSize  = 128
	TileShift = 7
	TileLen   = TileSize * TileSize

	coordBits = 24
	coordMask = 1<<coordBits - 1
)

// WorldID identifies a world (dimension) of the host game.
type WorldID string

// Key is the composite cache key of one tile: world index in the top 16 bits, then the
// X and Z tile indices (aligned >> 7) as 24-bit two's complement.
type Key uint64

// PackKey is injective for tile indices in [-2^23, 2^23), i.e. roughly ±1e9 blocks.
func PackKey(worldIndex uint16, alignedX, alignedZ int) Key {
	tx := uint64(alignedX>>TileShift) & coordMask
	tz := uint64(alignedZ>>TileShift) & coordMask
	return Key(uint64(worldIndex)<<(2*coordBits) | tx<<coordBits | tz)
}

func UnpackKey(k Key) (worldIndex uint16, alignedX, alignedZ int) {
	worldIndex = uint16(uint64(k) >> (2 * coordBits))
	tx := signExtend(uint64(k) >> coordBits & coordMask)
	tz := signExtend(uint64(k) & coordMask)
	return worldIndex, tx << TileShift, tz << TileShift
}

func signExtend(v uint64) int {
	if v&(1<<(coordBits-1)) != 0 {
		return int(v) - (1 << coordBits)
	}
	return int(v)
}

func (k Key) String() string {
	w, x, z := UnpackKey(k)
	return fmt.Sprintf("%d:%d,%d", w, x, z)
}

// Aligned reports whether v is a multiple of the tile size.
func Aligned(v int) bool {
	return v&(TileSize-1) == 0
}
