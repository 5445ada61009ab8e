package postprocess

import (
	"image"

	"golang.org/x/image/draw"
)

// Resize scales img to w×h with premultiplied-alpha CatmullRom filtering,
// which avoids dark halos at transparent edges. An image already at the
// target size is returned as is.
func Resize(img *image.NRGBA, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}

	// Premultiply alpha
	premul := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			si := img.PixOffset(x, y)
			di := premul.PixOffset(x, y)
			a := float64(img.Pix[si+3]) / 255.0
			for k := 0; k < 3; k++ {
				premul.Pix[di+k] = uint8(float64(img.Pix[si+k])*a + 0.5)
			}
			premul.Pix[di+3] = img.Pix[si+3]
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), premul, premul.Bounds(), draw.Src, nil)

	// Unpremultiply alpha
	result := image.NewNRGBA(dst.Bounds())
	for i := 0; i < len(dst.Pix); i += 4 {
		a := float64(dst.Pix[i+3])
		if a > 1 {
			inv := 255.0 / a
			for k := 0; k < 3; k++ {
				result.Pix[i+k] = clamp8(float64(dst.Pix[i+k]) * inv)
			}
		}
		result.Pix[i+3] = dst.Pix[i+3]
	}
	return result
}

// FitSize returns the largest size with the aspect ratio of w×h whose
// longer side is at most maxSide. A maxSide <= 0 keeps w×h.
func FitSize(w, h, maxSide int) (int, int) {
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return w, h
	}
	if w >= h {
		return maxSide, max(1, h*maxSide/w)
	}
	return max(1, w*maxSide/h), maxSide
}
