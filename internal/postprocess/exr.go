package postprocess

import (
	"image"

	"github.com/mrjoshuak/go-openexr/exr"

	"neural-point-renderer/internal/tensor"
)

// EXR converts image b of a [B,C,H,W] layer into a linear OpenEXR image.
// Colour stays premultiplied, which is the OpenEXR convention, and the
// mask becomes alpha (opaque when mask is nil).
func EXR(layer, mask *tensor.Tensor, b int) *exr.RGBAImage {
	c, h, w := layer.Size(1), layer.Size(2), layer.Size(3)
	plane := h * w
	data := layer.Data()[b*c*plane : (b+1)*c*plane]

	img := exr.NewRGBAImage(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			var rgb [3]float32
			for k := range rgb {
				rgb[k] = data[min(k, c-1)*plane+i]
			}
			a := float32(1)
			if mask != nil {
				a = mask.Data()[b*plane+i]
			}
			img.SetRGBA(x, y, rgb[0], rgb[1], rgb[2], a)
		}
	}
	return img
}
