package envmap

import "math"

// texel is one bilinear footprint in a [C,H,W] texture.
type texel struct {
	i00, i10, i01, i11 int // plane offsets of the four taps
	w00, w10, w01, w11 float32
	fx, fy             float32
	clampedY           bool
}

// footprint computes the bilinear taps around continuous texel coordinate
// (tx, ty). Texel centres sit at integer coordinates. X wraps around the
// azimuth seam; Y clamps at the poles.
func footprint(tx, ty float64, w, h int) texel {
	x0f := math.Floor(tx)
	fx := tx - x0f
	x0 := int(x0f) % w
	if x0 < 0 {
		x0 += w
	}
	x1 := (x0 + 1) % w

	var t texel
	if ty <= 0 {
		ty = 0
		t.clampedY = true
	} else if ty >= float64(h-1) {
		ty = float64(h - 1)
		t.clampedY = true
	}
	y0 := int(ty)
	fy := ty - float64(y0)
	y1 := y0 + 1
	if y1 >= h {
		y1 = h - 1
	}

	t.i00 = y0*w + x0
	t.i10 = y0*w + x1
	t.i01 = y1*w + x0
	t.i11 = y1*w + x1
	t.fx, t.fy = float32(fx), float32(fy)
	t.w00 = (1 - t.fx) * (1 - t.fy)
	t.w10 = t.fx * (1 - t.fy)
	t.w01 = (1 - t.fx) * t.fy
	t.w11 = t.fx * t.fy
	return t
}

// sample returns the bilinear value of one channel plane.
func (t *texel) sample(plane []float32) float32 {
	return plane[t.i00]*t.w00 + plane[t.i10]*t.w10 + plane[t.i01]*t.w01 + plane[t.i11]*t.w11
}

// scatter adds g into the gradient plane with the bilinear weights.
func (t *texel) scatter(plane []float32, g float32) {
	plane[t.i00] += g * t.w00
	plane[t.i10] += g * t.w10
	plane[t.i01] += g * t.w01
	plane[t.i11] += g * t.w11
}

// slopes returns d(sample)/d(tx) and d(sample)/d(ty) for one plane.
func (t *texel) slopes(plane []float32) (float32, float32) {
	dx := (1-t.fy)*(plane[t.i10]-plane[t.i00]) + t.fy*(plane[t.i11]-plane[t.i01])
	if t.clampedY {
		return dx, 0
	}
	dy := (1-t.fx)*(plane[t.i01]-plane[t.i00]) + t.fx*(plane[t.i11]-plane[t.i10])
	return dx, dy
}
