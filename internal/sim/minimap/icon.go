package minimap

import "vanillaminimaps.ai/internal/sim/minimap/geometry"

// Icon is a small palette-indexed image. Pixels are row-major; 0 is transparent.
type Icon struct {
	Key    string
	Width  int
	Height int
	Pixels []byte
}

func (ic *Icon) Size() *geometry.IconSize {
	if ic == nil {
		return nil
	}
	return &geometry.IconSize{Width: ic.Width, Height: ic.Height}
}

// IconRenderer draws its icon centred in the layer buffer. The client shader moves the
// layer to the encoded marker position.
type IconRenderer struct {
	Icon *Icon
}

func (r IconRenderer) Render(_ *Minimap, _ *Layer, buf []byte) {
	ic := r.Icon
	if ic == nil || ic.Width <= 0 || ic.Height <= 0 || len(ic.Pixels) < ic.Width*ic.Height {
		return
	}
	x0 := Size/2 - ic.Width/2
	y0 := Size/2 - ic.Height/2
	for y := 0; y < ic.Height; y++ {
		row := y0 + y
		if row < 0 || row >= Size {
			continue
		}
		for x := 0; x < ic.Width; x++ {
			col := x0 + x
			if col < 0 || col >= Size {
				continue
			}
			if p := ic.Pixels[y*ic.Width+x]; p != 0 {
				buf[row*Size+col] = p
			}
		}
	}
}
