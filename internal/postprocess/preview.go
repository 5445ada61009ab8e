package postprocess

import (
	"fmt"
	"image"

	"neural-point-renderer/internal/tensor"
)

// PreviewOptions control how a layer is turned into an 8-bit image.
type PreviewOptions struct {
	// Exposure scales linear values before tone mapping; 0 means 1.
	Exposure float64
	// Tonemap applies the ACES filmic curve.
	Tonemap bool
	// MinClusterRatio drops covered regions smaller than this fraction of
	// all covered pixels. 0 keeps everything.
	MinClusterRatio float64
}

// Preview converts image b of a [B,C,H,W] layer into an NRGBA picture.
// Channels 0..2 become RGB (fewer channels are repeated). The layer is
// premultiplied by mask ([B,1,H,W]), which becomes the alpha channel; a
// nil mask gives an opaque image.
func Preview(layer, mask *tensor.Tensor, b int, opts PreviewOptions) *image.NRGBA {
	c, h, w := layer.Size(1), layer.Size(2), layer.Size(3)
	if mask != nil && (mask.Size(2) != h || mask.Size(3) != w) {
		panic(fmt.Sprintf("postprocess: mask %v does not match layer %v", mask.Shape(), layer.Shape()))
	}
	plane := h * w
	data := layer.Data()[b*c*plane : (b+1)*c*plane]

	alpha := make([]float32, plane)
	if mask != nil {
		copy(alpha, mask.Data()[b*plane:(b+1)*plane])
		if opts.MinClusterRatio > 0 {
			Despeckle(alpha, w, h, opts.MinClusterRatio)
		}
	} else {
		for i := range alpha {
			alpha[i] = 1
		}
	}

	exposure := opts.Exposure
	if exposure == 0 {
		exposure = 1
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			a := float64(alpha[i])
			o := img.PixOffset(x, y)
			if a <= 0 {
				continue
			}
			for k := 0; k < 3; k++ {
				v := float64(data[min(k, c-1)*plane+i])
				if mask != nil {
					v /= a
				}
				img.Pix[o+k] = encode(v, exposure, opts.Tonemap)
			}
			img.Pix[o+3] = clamp8(a * 255)
		}
	}
	return img
}
