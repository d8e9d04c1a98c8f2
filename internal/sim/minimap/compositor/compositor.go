// Package compositor builds the 128x128 primary minimap buffer from cached terrain tiles.
//
// Tiles and output share one storage convention: block (origin+dx, origin+dz) lives at index
// (127-dz)*128 + (127-dx). Both axes are mirrored relative to world order, which is what the
// client shader expects; copying between the two therefore shifts toward lower indices.
package compositor

import (
	"errors"
	"fmt"

	"vanillaminimaps.ai/internal/sim/mathx"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

const (
	Size   = tilecache.TileSize
	BufLen = tilecache.TileLen
	half   = Size / 2
)

// TileSource is the part of tilecache.Cache the compositor reads.
type TileSource interface {
	Get(world tilecache.WorldID, alignedX, alignedZ int) ([]byte, error)
	KeyOf(world tilecache.WorldID, alignedX, alignedZ int) tilecache.Key
}

// Frame is a composited primary buffer plus the tile keys it was built from.
type Frame struct {
	Pixels []byte
	Keys   []tilecache.Key
}

var blankTile = make([]byte, BufLen)

// Composite renders the viewport around (playerX, playerZ). A tile that cannot be fetched is
// drawn blank and reported in the returned error; the frame is usable either way.
func Composite(src TileSource, world tilecache.WorldID, playerX, playerZ float64, scale int) (Frame, error) {
	if scale <= 1 {
		return compositeUnscaled(src, world, mathx.FloorInt(playerX), mathx.FloorInt(playerZ))
	}
	return compositeScaled(src, world, playerX, playerZ, scale)
}

type fetcher struct {
	src   TileSource
	world tilecache.WorldID
	errs  []error
}

func (f *fetcher) get(alignedX, alignedZ int) []byte {
	t, err := f.src.Get(f.world, alignedX, alignedZ)
	if err != nil || len(t) != BufLen {
		if err == nil {
			err = fmt.Errorf("tile (%d,%d): short buffer", alignedX, alignedZ)
		}
		f.errs = append(f.errs, err)
		return blankTile
	}
	return t
}

func (f *fetcher) err() error {
	return errors.Join(f.errs...)
}

// compositeUnscaled stitches the tile containing the player with its +X, +Z and +X+Z
// neighbours, fetching only those the offset actually reaches.
func compositeUnscaled(src TileSource, world tilecache.WorldID, blockX, blockZ int) (Frame, error) {
	alignedX := mathx.Align(blockX, tilecache.TileShift)
	alignedZ := mathx.Align(blockZ, tilecache.TileShift)
	ox := mathx.Mod(blockX, Size)
	oz := mathx.Mod(blockZ, Size)

	f := &fetcher{src: src, world: world}
	out := Frame{Pixels: make([]byte, BufLen)}

	base := f.get(alignedX, alignedZ)
	out.Keys = append(out.Keys, src.KeyOf(world, alignedX, alignedZ))
	right, up, upRight := base, base, base
	if ox > 0 {
		right = f.get(alignedX+Size, alignedZ)
		out.Keys = append(out.Keys, src.KeyOf(world, alignedX+Size, alignedZ))
	}
	if oz > 0 {
		up = f.get(alignedX, alignedZ+Size)
		out.Keys = append(out.Keys, src.KeyOf(world, alignedX, alignedZ+Size))
	}
	if ox > 0 && oz > 0 {
		upRight = f.get(alignedX+Size, alignedZ+Size)
		out.Keys = append(out.Keys, src.KeyOf(world, alignedX+Size, alignedZ+Size))
	}

	// out[R][C] = T[R-oz][C-ox]; negative indices wrap into the neighbour.
	for row := 0; row < Size; row++ {
		near, far := base, right
		srcRow := row - oz
		if srcRow < 0 {
			near, far = up, upRight
			srcRow += Size
		}
		dst := out.Pixels[row*Size : (row+1)*Size]
		s := srcRow * Size
		copy(dst[ox:], near[s:s+Size-ox])
		copy(dst[:ox], far[s+Size-ox:s+Size])
	}
	return out, f.err()
}

// compositeScaled samples one source byte per output pixel, scale blocks apart.
func compositeScaled(src TileSource, world tilecache.WorldID, playerX, playerZ float64, scale int) (Frame, error) {
	centerX := mathx.FloorInt(playerX/float64(scale)) * scale
	centerZ := mathx.FloorInt(playerZ/float64(scale)) * scale
	startX := centerX - half*scale
	startZ := centerZ - half*scale
	endX := startX + Size*scale - 1
	endZ := startZ + Size*scale - 1

	f := &fetcher{src: src, world: world}
	out := Frame{Pixels: make([]byte, BufLen)}

	// Tiles repeat across long runs of pixels; remember the last one per row.
	var (
		lastX, lastZ int
		last         []byte
	)
	for z := 0; z < Size; z++ {
		worldZ := startZ + z*scale
		alignedZ := tileAnchor(worldZ)
		dataZ := worldZ - (alignedZ - half)
		for x := 0; x < Size; x++ {
			worldX := startX + x*scale
			alignedX := tileAnchor(worldX)
			dataX := worldX - (alignedX - half)
			if last == nil || alignedX != lastX || alignedZ != lastZ {
				last = f.get(alignedX, alignedZ)
				lastX, lastZ = alignedX, alignedZ
			}
			out.Pixels[(Size-1-z)*Size+(Size-1-x)] = last[(Size-1-dataZ)*Size+(Size-1-dataX)]
		}
	}

	for x := tileAnchor(startX); x <= tileAnchor(endX); x += Size {
		for z := tileAnchor(startZ); z <= tileAnchor(endZ); z += Size {
			out.Keys = append(out.Keys, src.KeyOf(world, x, z))
		}
	}
	return out, f.err()
}

// tileAnchor is the aligned anchor of the tile covering world coordinate w.
func tileAnchor(w int) int {
	return mathx.Align(w+half, tilecache.TileShift)
}
