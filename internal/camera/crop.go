package camera

// CropTransform maps a camera's full-resolution pixel grid onto the window
// actually rendered: x' = ScaleX*x + OffsetX, y' = ScaleY*y + OffsetY.
type CropTransform struct {
	ScaleX, ScaleY   float64
	OffsetX, OffsetY float64
}

// Identity returns the transform that renders the full image unchanged.
func Identity() CropTransform {
	return CropTransform{ScaleX: 1, ScaleY: 1}
}

// Apply maps a full-resolution pixel coordinate into the rendered window.
func (c CropTransform) Apply(x, y float64) (float64, float64) {
	return c.ScaleX*x + c.OffsetX, c.ScaleY*y + c.OffsetY
}

// Unapply maps a rendered-window coordinate back to full resolution.
func (c CropTransform) Unapply(x, y float64) (float64, float64) {
	return (x - c.OffsetX) / c.ScaleX, (y - c.OffsetY) / c.ScaleY
}

// Scale scales the rendered window by s. Scale(2) is the super-sampling
// transform: every window pixel becomes a 2×2 block.
func (c CropTransform) Scale(s float64) CropTransform {
	return CropTransform{
		ScaleX:  c.ScaleX * s,
		ScaleY:  c.ScaleY * s,
		OffsetX: c.OffsetX * s,
		OffsetY: c.OffsetY * s,
	}
}

// Compose returns the transform applying inner first, then c.
func (c CropTransform) Compose(inner CropTransform) CropTransform {
	return CropTransform{
		ScaleX:  c.ScaleX * inner.ScaleX,
		ScaleY:  c.ScaleY * inner.ScaleY,
		OffsetX: c.ScaleX*inner.OffsetX + c.OffsetX,
		OffsetY: c.ScaleY*inner.OffsetY + c.OffsetY,
	}
}

// Inverse returns the transform undoing c.
func (c CropTransform) Inverse() CropTransform {
	return CropTransform{
		ScaleX:  1 / c.ScaleX,
		ScaleY:  1 / c.ScaleY,
		OffsetX: -c.OffsetX / c.ScaleX,
		OffsetY: -c.OffsetY / c.ScaleY,
	}
}

// Valid reports whether the transform is invertible.
func (c CropTransform) Valid() bool {
	return c.ScaleX != 0 && c.ScaleY != 0
}
