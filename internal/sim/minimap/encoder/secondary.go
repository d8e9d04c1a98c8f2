package encoder

import (
	"math"

	"vanillaminimaps.ai/internal/sim/mathx"
	"vanillaminimaps.ai/internal/sim/minimap/geometry"
)

// Reserved cells of the marker section.
const (
	cellTracked      = 2 * Size
	cellKeepOnEdge   = 2*Size + 9
	secondarySection = FlagOn
)

// Marker is the part of a secondary layer the encoder needs.
type Marker struct {
	X, Z          float64
	Depth         float64
	TrackLocation bool
	KeepOnEdge    bool
}

type SecondaryInput struct {
	Primary PrimaryInput
	Marker  Marker
	// EdgeRadius bounds the marker vector when KeepOnEdge is set (see geometry.ClampRadius).
	EdgeRadius float64
}

// ScreenPosition converts the marker into map pixel coordinates.
//
// Tracked markers are relative to the player. The map is rotated relative to world axes, so
// the screen X comes from the world Z delta and the screen Z from the world X delta.
func ScreenPosition(in SecondaryInput) (x, z float64) {
	m := in.Marker
	if !m.TrackLocation {
		return m.X, m.Z
	}
	scale := max(in.Primary.Scale, 1)
	centerX := mathx.FloorInt(in.Primary.PlayerX/float64(scale)) * scale
	centerZ := mathx.FloorInt(in.Primary.PlayerZ/float64(scale)) * scale
	z = (float64(centerX) - m.X) / float64(scale)
	x = (float64(centerZ) - m.Z) / float64(scale)
	if m.KeepOnEdge {
		x, z = geometry.ClampToBorder(x, z, in.EdgeRadius)
	}
	return x + Size/2, z + Size/2
}

// Visible reports whether a marker should be drawn this frame before the pixel range check.
func Visible(in SecondaryInput) bool {
	m := in.Marker
	if !m.TrackLocation || m.KeepOnEdge {
		return true
	}
	maxDist := float64(Size/2) * float64(max(in.Primary.Scale, 1))
	dx := in.Primary.PlayerX - m.X
	dz := in.Primary.PlayerZ - m.Z
	return dx*dx+dz*dz < maxDist*maxDist
}

// EncodeSecondary restates the primary section, then writes the marker section.
// It returns true when the marker position was written.
func EncodeSecondary(buf []byte, in SecondaryInput) bool {
	sx, sz := ScreenPosition(in)
	EncodePrimary(buf, in.Primary)

	mapX := int(math.Round(sx))
	mapZ := int(math.Round(sz))
	written := false
	if Visible(in) && mapX >= 0 && mapX < Size && mapZ >= 0 && mapZ < Size {
		EncodeFixedPoint(buf, 1, 1, in.Marker.Depth)
		EncodeFixedPoint(buf, 9, 1, float64(mapX)/Size)
		buf[cellTracked] = FlagOn
		EncodeFixedPoint(buf, 1, 2, float64(mapZ)/Size)
		buf[cellKeepOnEdge] = flag(in.Marker.KeepOnEdge)
		written = true
	} else {
		buf[cellTracked] = FlagOff
	}
	buf[cellLayerKind] = secondarySection
	return written
}

// DecodeMarker reads back the marker pixel position. ok is false for a "not tracked" buffer.
func DecodeMarker(buf []byte) (x, z int, ok bool) {
	if buf[cellTracked] != FlagOn {
		return 0, 0, false
	}
	x = int(math.Round(DecodeFixedPoint(buf, 9, 1) * Size))
	z = int(math.Round(DecodeFixedPoint(buf, 1, 2) * Size))
	return x, z, true
}
