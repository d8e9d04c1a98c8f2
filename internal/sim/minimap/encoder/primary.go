package encoder

import (
	"vanillaminimaps.ai/internal/sim/mathx"
	"vanillaminimaps.ai/internal/sim/minimap/geometry"
)

// Reserved cells of the primary section.
const (
	cellFracXCol   = 1
	cellFracZCol   = 9
	cellSide       = 17
	cellShape      = 18
	cellLayerKind  = Size // row 1, column 0
	primarySection = FlagOff
)

type PrimaryInput struct {
	RightSide bool
	PlayerX   float64
	PlayerZ   float64
	Scale     int
	Shape     geometry.Shape
}

// EncodePrimary overwrites the primary metadata cells of buf.
func EncodePrimary(buf []byte, in PrimaryInput) {
	scale := float64(max(in.Scale, 1))
	MarkCorners(buf)
	EncodeFixedPoint(buf, cellFracXCol, 0, mathx.Frac(in.PlayerX/scale))
	EncodeFixedPoint(buf, cellFracZCol, 0, mathx.Frac(in.PlayerZ/scale))
	buf[cellSide] = flag(in.RightSide)
	buf[cellShape] = flag(in.Shape == geometry.ShapeSquare)
	buf[cellLayerKind] = primarySection
}

func flag(v bool) byte {
	if v {
		return FlagOn
	}
	return FlagOff
}
