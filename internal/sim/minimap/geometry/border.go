package geometry

import (
	"fmt"
	"math"
	"strings"
)

type Shape int

const (
	ShapeCircle Shape = iota
	ShapeSquare
)

const (
	mapHalfSize = 64.0

	// Must match the border mask of the client shader.
	circleBorderOuter = 0.93
	squareBorderOuter = 0.97
)

func (s Shape) String() string {
	if s == ShapeSquare {
		return "square"
	}
	return "circle"
}

func ParseShape(v string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "circle":
		return ShapeCircle, nil
	case "square":
		return ShapeSquare, nil
	default:
		return ShapeCircle, fmt.Errorf("unknown minimap shape %q", v)
	}
}

// IconSize is the only icon metadata the border math needs.
type IconSize struct {
	Width  int
	Height int
}

// OuterRadius is the visible radius of the minimap, in map pixels from the center.
func OuterRadius(shape Shape) float64 {
	if shape == ShapeSquare {
		return squareBorderOuter * mapHalfSize
	}
	return math.Sqrt(circleBorderOuter) * mapHalfSize
}

// ClampRadius is the radius an icon center must stay within so the whole icon is visible.
func ClampRadius(shape Shape, icon *IconSize) float64 {
	half := 0
	if icon != nil {
		half = max(icon.Width, icon.Height) / 2
	}
	return math.Max(0, OuterRadius(shape)-float64(half))
}

// ClampToBorder shortens (x, z) to radius when it is longer.
func ClampToBorder(x, z, radius float64) (float64, float64) {
	lenSq := x*x + z*z
	if lenSq <= radius*radius || lenSq == 0 {
		return x, z
	}
	k := radius / math.Sqrt(lenSq)
	return x * k, z * k
}
