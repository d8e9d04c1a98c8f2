package mathx

import "math"

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Align rounds v down to a multiple of 1<<shift.
func Align(v int, shift uint) int {
	return (v >> shift) << shift
}

// FloorInt is math.Floor followed by a conversion, for block coordinates.
func FloorInt(v float64) int {
	return int(math.Floor(v))
}

func Frac(v float64) float64 {
	return v - math.Floor(v)
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
