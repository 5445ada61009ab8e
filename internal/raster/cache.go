package raster

import (
	"neural-point-renderer/internal/camera"
)

// Cache is the scratch arena shared by a blending forward pass and its
// backward pass. One Cache serves one caller at a time; each call bumps
// the epoch and overwrites every buffer it reads.
type Cache struct {
	epoch uint64

	views []viewState
	// weight holds the per-pixel weight sums, laid out [B, L, H, W].
	weight []float32

	stats Stats
}

// viewState is the projection of every point into one image.
type viewState struct {
	view      camera.View
	near, far float64
	visible   int
	proj      []pointProj // indexed by global point index across clouds
}

// pointProj is one point in one view. layer is -1 when the point does not
// contribute to the view.
type pointProj struct {
	u, v  float32
	layer int32
}

// Stats summarises the last forward pass.
type Stats struct {
	Epoch   uint64
	Views   int
	Points  int
	Visible int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Epoch returns the number of forward passes served.
func (c *Cache) Epoch() uint64 { return c.epoch }

// Stats returns statistics of the last forward pass.
func (c *Cache) Stats() Stats { return c.stats }

// reset prepares the arena for a batch of b views over n points and
// l layers of w×h pixels.
func (c *Cache) reset(b, n, l, w, h int) {
	c.epoch++
	if cap(c.views) < b {
		c.views = append(c.views[:cap(c.views)], make([]viewState, b-cap(c.views))...)
	}
	c.views = c.views[:b]
	for i := range c.views {
		vs := &c.views[i]
		vs.proj = resize(vs.proj, n)
		vs.near, vs.far, vs.visible = 0, 0, 0
	}
	c.weight = resize(c.weight, b*l*w*h)
	c.stats = Stats{Epoch: c.epoch, Views: b, Points: n}
}

// weights returns the weight plane of view b, layer l.
func (c *Cache) weights(b, l, layers, plane int) []float32 {
	off := (b*layers + l) * plane
	return c.weight[off : off+plane]
}

// resize returns s with length n and every element zeroed, reusing the
// backing array when it is large enough.
func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	s = s[:n]
	clear(s)
	return s
}
