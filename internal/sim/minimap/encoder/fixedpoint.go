// Package encoder writes the metadata cells the client shader reads out of a minimap buffer.
//
// Row 0 holds the primary section (player sub-block offset, screen side, shape); rows 1-2 hold
// the marker section of secondary layers. Cell 128 tells the shader which section applies.
package encoder

import "math"

const (
	Size    = 128
	BufLen  = Size * Size
	FlagOn  = byte(4)
	FlagOff = byte(0)

	// FixedPointCells is the number of cells (bits) of one fixed-point value.
	FixedPointCells = 8
	fixedPointScale = 1 << FixedPointCells
)

// Corner cells and the values stamped into them.
var corners = [4]struct {
	index int
	value byte
}{
	{0, 0x22},
	{Size - 1, 0x37},
	{BufLen - Size, 0x4c},
	{BufLen - 1, 0x61},
}

// MarkCorners stamps the pattern identifying an encoded minimap buffer.
func MarkCorners(buf []byte) {
	for _, c := range corners {
		buf[c.index] = c.value
	}
}

// HasCornerMarkers reports whether buf carries the corner pattern.
func HasCornerMarkers(buf []byte) bool {
	if len(buf) != BufLen {
		return false
	}
	for _, c := range corners {
		if buf[c.index] != c.value {
			return false
		}
	}
	return true
}

// Quantize maps v to the 8-bit fixed-point grid. Values outside [0,1) are clamped, NaN is 0.
func Quantize(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	q := math.Floor(v * fixedPointScale)
	if q >= fixedPointScale {
		return fixedPointScale - 1
	}
	return uint8(q)
}

// EncodeFixedPoint writes v MSB-first into cells (x..x+7, y).
func EncodeFixedPoint(buf []byte, x, y int, v float64) {
	q := Quantize(v)
	base := y*Size + x
	for i := 0; i < FixedPointCells; i++ {
		if q&(0x80>>i) != 0 {
			buf[base+i] = FlagOn
		} else {
			buf[base+i] = FlagOff
		}
	}
}

func DecodeFixedPoint(buf []byte, x, y int) float64 {
	var q int
	base := y*Size + x
	for i := 0; i < FixedPointCells; i++ {
		q <<= 1
		if buf[base+i] == FlagOn {
			q |= 1
		}
	}
	return float64(q) / fixedPointScale
}
