// Package postprocess turns rendered layer tensors into viewable images:
// tonemapped 8-bit previews and linear OpenEXR frames.
package postprocess

import "math"

// ACESTonemap applies ACES Filmic tone mapping to a linear value.
func ACESTonemap(x float64) float64 {
	return (x * (2.51*x + 0.03)) / (x*(2.43*x+0.59) + 0.14)
}

// Precomputed linear-to-sRGB table over [0,1] in 4096 steps.
var linearToSRGB [4097]uint8

func init() {
	for i := range linearToSRGB {
		linearToSRGB[i] = clamp8(math.Pow(float64(i)/4096.0, 1/2.2) * 255)
	}
}

// encode maps a linear value to an 8-bit sRGB code after exposure and
// optional tone mapping.
func encode(v, exposure float64, tonemap bool) uint8 {
	v *= exposure
	if tonemap {
		v = ACESTonemap(v)
	}
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return linearToSRGB[int(v*4096+0.5)]
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
