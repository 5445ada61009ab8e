package tensor

import "fmt"

// Cat concatenates tensors along dim. All other dimensions must match.
func Cat(dim int, ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: Cat of nothing")
	}
	first := ts[0]
	if dim < 0 || dim >= first.Dim() {
		panic(fmt.Sprintf("tensor: Cat dim %d out of range for %v", dim, first.shape))
	}
	shape := first.Shape()
	shape[dim] = 0
	for _, t := range ts {
		if t.Dim() != first.Dim() {
			panic(fmt.Sprintf("tensor: Cat rank mismatch %v vs %v", first.shape, t.shape))
		}
		for i := range t.shape {
			if i != dim && t.shape[i] != first.shape[i] {
				panic(fmt.Sprintf("tensor: Cat shape mismatch %v vs %v on dim %d", first.shape, t.shape, dim))
			}
		}
		shape[dim] += t.shape[dim]
	}

	outer := Numel(shape[:dim])
	inner := Numel(shape[dim+1:])
	out := Zeros(shape...)

	// chunk[i] is the contiguous run each input contributes per outer index.
	chunk := make([]int, len(ts))
	for i, t := range ts {
		chunk[i] = t.shape[dim] * inner
	}
	row := shape[dim] * inner
	for o := 0; o < outer; o++ {
		off := o * row
		for i, t := range ts {
			copy(out.data[off:off+chunk[i]], t.data[o*chunk[i]:(o+1)*chunk[i]])
			off += chunk[i]
		}
	}

	return Op(out, ts, func(g []float32) {
		for o := 0; o < outer; o++ {
			off := o * row
			for i, t := range ts {
				if tg := t.GradBuffer(); tg != nil {
					dst := tg[o*chunk[i] : (o+1)*chunk[i]]
					for k, v := range g[off : off+chunk[i]] {
						dst[k] += v
					}
				}
				off += chunk[i]
			}
		}
	})
}

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) *Tensor {
	if !SameShape(a, b) {
		panic(fmt.Sprintf("tensor: Add shape mismatch %v vs %v", a.shape, b.shape))
	}
	out := Zeros(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return Op(out, []*Tensor{a, b}, func(g []float32) {
		for _, p := range []*Tensor{a, b} {
			if pg := p.GradBuffer(); pg != nil {
				for i, v := range g {
					pg[i] += v
				}
			}
		}
	})
}

// OneMinus returns 1 - t.
func OneMinus(t *Tensor) *Tensor {
	out := Zeros(t.shape...)
	for i, v := range t.data {
		out.data[i] = 1 - v
	}
	return Op(out, []*Tensor{t}, func(g []float32) {
		if tg := t.GradBuffer(); tg != nil {
			for i, v := range g {
				tg[i] -= v
			}
		}
	})
}

// MulBroadcast multiplies a [B,C,H,W] tensor by a [B,1,H,W] tensor,
// broadcasting m over the channel dimension.
func MulBroadcast(a, m *Tensor) *Tensor {
	if a.Dim() != 4 || m.Dim() != 4 || m.shape[1] != 1 ||
		a.shape[0] != m.shape[0] || a.shape[2] != m.shape[2] || a.shape[3] != m.shape[3] {
		panic(fmt.Sprintf("tensor: MulBroadcast shape mismatch %v vs %v", a.shape, m.shape))
	}
	b, c, hw := a.shape[0], a.shape[1], a.shape[2]*a.shape[3]
	out := Zeros(a.shape...)
	for bi := 0; bi < b; bi++ {
		mrow := m.data[bi*hw : (bi+1)*hw]
		for ci := 0; ci < c; ci++ {
			off := (bi*c + ci) * hw
			for p := 0; p < hw; p++ {
				out.data[off+p] = a.data[off+p] * mrow[p]
			}
		}
	}
	return Op(out, []*Tensor{a, m}, func(g []float32) {
		ag, mg := a.GradBuffer(), m.GradBuffer()
		for bi := 0; bi < b; bi++ {
			for ci := 0; ci < c; ci++ {
				off := (bi*c + ci) * hw
				for p := 0; p < hw; p++ {
					if ag != nil {
						ag[off+p] += g[off+p] * m.data[bi*hw+p]
					}
					if mg != nil {
						mg[bi*hw+p] += g[off+p] * a.data[off+p]
					}
				}
			}
		}
	})
}

// AvgPool2 averages non-overlapping 2×2 windows of a [B,C,H,W] tensor.
// Odd trailing rows and columns are dropped.
func AvgPool2(t *Tensor) *Tensor {
	if t.Dim() != 4 {
		panic(fmt.Sprintf("tensor: AvgPool2 expects rank 4, got %v", t.shape))
	}
	b, c, h, w := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	oh, ow := h/2, w/2
	out := Zeros(b, c, oh, ow)
	planes := b * c
	for p := 0; p < planes; p++ {
		src := t.data[p*h*w : (p+1)*h*w]
		dst := out.data[p*oh*ow : (p+1)*oh*ow]
		for y := 0; y < oh; y++ {
			r0 := (2 * y) * w
			r1 := r0 + w
			for x := 0; x < ow; x++ {
				sum := src[r0+2*x] + src[r0+2*x+1] + src[r1+2*x] + src[r1+2*x+1]
				dst[y*ow+x] = sum * 0.25
			}
		}
	}
	return Op(out, []*Tensor{t}, func(g []float32) {
		tg := t.GradBuffer()
		if tg == nil {
			return
		}
		for p := 0; p < planes; p++ {
			src := g[p*oh*ow : (p+1)*oh*ow]
			dst := tg[p*h*w : (p+1)*h*w]
			for y := 0; y < oh; y++ {
				r0 := (2 * y) * w
				r1 := r0 + w
				for x := 0; x < ow; x++ {
					v := src[y*ow+x] * 0.25
					dst[r0+2*x] += v
					dst[r0+2*x+1] += v
					dst[r1+2*x] += v
					dst[r1+2*x+1] += v
				}
			}
		}
	})
}

// Sum returns the sum of all elements as a one-element tensor.
func Sum(t *Tensor) *Tensor {
	var s float64
	for _, v := range t.data {
		s += float64(v)
	}
	out := New([]float32{float32(s)}, 1)
	return Op(out, []*Tensor{t}, func(g []float32) {
		if tg := t.GradBuffer(); tg != nil {
			for i := range tg {
				tg[i] += g[0]
			}
		}
	})
}

// WeightedSum returns Σ t[i]*w[i] as a one-element tensor. w is a constant.
func WeightedSum(t *Tensor, w []float32) *Tensor {
	if len(w) != len(t.data) {
		panic(fmt.Sprintf("tensor: WeightedSum weights %d for %v", len(w), t.shape))
	}
	var s float64
	for i, v := range t.data {
		s += float64(v) * float64(w[i])
	}
	out := New([]float32{float32(s)}, 1)
	return Op(out, []*Tensor{t}, func(g []float32) {
		if tg := t.GradBuffer(); tg != nil {
			for i := range tg {
				tg[i] += g[0] * w[i]
			}
		}
	})
}

// MSE returns mean((a-target)²) as a one-element tensor. target is a constant.
func MSE(a, target *Tensor) *Tensor {
	if !SameShape(a, target) {
		panic(fmt.Sprintf("tensor: MSE shape mismatch %v vs %v", a.shape, target.shape))
	}
	n := len(a.data)
	var s float64
	for i, v := range a.data {
		d := float64(v - target.data[i])
		s += d * d
	}
	if n > 0 {
		s /= float64(n)
	}
	out := New([]float32{float32(s)}, 1)
	return Op(out, []*Tensor{a}, func(g []float32) {
		ag := a.GradBuffer()
		if ag == nil || n == 0 {
			return
		}
		k := 2 * g[0] / float32(n)
		for i, v := range a.data {
			ag[i] += k * (v - target.data[i])
		}
	})
}
