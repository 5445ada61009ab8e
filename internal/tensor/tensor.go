// Package tensor provides dense float32 tensors with reverse-mode
// differentiation, sized for the image and point buffers of the renderer.
//
// Images use the [batch, channels, height, width] layout. Tensors are not
// safe for concurrent mutation; concurrent reads are fine.
package tensor

import (
	"fmt"
	"strings"
)

// Tensor is a row-major float32 array with an optional gradient.
type Tensor struct {
	shape        []int
	data         []float32
	grad         []float32
	requiresGrad bool
	node         *node
}

// node links a computed tensor to the tensors it was derived from.
type node struct {
	parents  []*Tensor
	backward func(grad []float32)
}

// Numel returns the number of elements described by shape.
func Numel(shape []int) int {
	n := 1
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		n *= s
	}
	return n
}

// New wraps data in a tensor of the given shape. The slice is not copied.
func New(data []float32, shape ...int) *Tensor {
	if n := Numel(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: %d elements do not fit shape %v", len(data), shape))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}
}

// Zeros returns a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	return New(make([]float32, Numel(shape)), shape...)
}

// Full returns a tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Param returns a trainable leaf tensor.
func Param(data []float32, shape ...int) *Tensor {
	t := New(data, shape...)
	t.requiresGrad = true
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Dim returns the rank.
func (t *Tensor) Dim() int { return len(t.shape) }

// Size returns the extent of dimension i.
func (t *Tensor) Size(i int) int { return t.shape[i] }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data exposes the backing slice.
func (t *Tensor) Data() []float32 { return t.data }

// Grad returns the accumulated gradient, or nil if none has been computed.
// Only leaves keep a gradient after Backward returns.
func (t *Tensor) Grad() []float32 { return t.grad }

// RequiresGrad reports whether gradients flow into this tensor.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// IsLeaf reports whether the tensor was created directly rather than by an op.
func (t *Tensor) IsLeaf() bool { return t.node == nil }

// SetRequiresGrad toggles gradient tracking on a leaf tensor.
func (t *Tensor) SetRequiresGrad(v bool) {
	if t.node != nil {
		panic("tensor: SetRequiresGrad on a non-leaf tensor")
	}
	t.requiresGrad = v
	if !v {
		t.grad = nil
	}
}

// GradBuffer returns the gradient slice, allocating it on first use.
// It returns nil when the tensor does not require gradients, so backward
// rules can skip work for frozen inputs.
func (t *Tensor) GradBuffer() []float32 {
	if !t.requiresGrad {
		return nil
	}
	if t.grad == nil {
		t.grad = make([]float32, len(t.data))
	}
	return t.grad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	clear(t.grad)
}

// Detach returns a tensor sharing t's data that carries no gradient and
// no link to the graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{shape: t.Shape(), data: t.data}
}

// Clone returns a detached deep copy.
func (t *Tensor) Clone() *Tensor {
	return New(append([]float32(nil), t.data...), t.shape...)
}

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

// Set stores v at the given multi-index.
func (t *Tensor) Set(v float32, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v for shape %v", idx, t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor%v", t.shape)
	if t.requiresGrad {
		sb.WriteString("(grad)")
	}
	return sb.String()
}
