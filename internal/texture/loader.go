// Package texture finds and decodes environment maps on disk.
package texture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ftrvxmtrx/tga"
	"github.com/mrjoshuak/go-openexr/exr"
)

// Radiance is a decoded map in linear light, laid out [3, H, W].
type Radiance struct {
	Pix  []float32
	W, H int
}

// Precomputed sRGB-to-linear lookup table (256 entries).
var srgbToLinear [256]float32

func init() {
	for i := 0; i < 256; i++ {
		srgbToLinear[i] = float32(math.Pow(float64(i)/255.0, 2.2))
	}
}

// Load reads an environment map. EXR files are taken as linear radiance;
// TGA, PNG and JPEG are decoded from sRGB.
func Load(path string) (*Radiance, error) {
	if strings.ToLower(filepath.Ext(path)) == ".exr" {
		img, err := exr.DecodeFile(path)
		if err != nil {
			return nil, fmt.Errorf("texture: decode %s: %w", path, err)
		}
		return fromEXR(img), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("texture: read %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("texture: decode %s: %w", path, err)
	}
	return fromNRGBA(toNRGBA(img)), nil
}

func fromEXR(img *exr.RGBAImage) *Radiance {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &Radiance{Pix: make([]float32, 3*w*h), W: w, H: h}
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.RGBA(b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			out.Pix[i] = r
			out.Pix[plane+i] = g
			out.Pix[2*plane+i] = bl
		}
	}
	return out
}

func fromNRGBA(img *image.NRGBA) *Radiance {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &Radiance{Pix: make([]float32, 3*w*h), W: w, H: h}
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			for c := 0; c < 3; c++ {
				out.Pix[c*plane+i] = srgbToLinear[img.Pix[p+c]]
			}
		}
	}
	return out
}

// toNRGBA converts any image to NRGBA format.
func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	switch src.(type) {
	case *image.YCbCr, *image.Gray:
		// No alpha, draw and set alpha to 255
		draw.Draw(dst, b, src, b.Min, draw.Src)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Pix[dst.PixOffset(x, y)+3] = 255
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
				i := dst.PixOffset(x, y)
				dst.Pix[i] = c.R
				dst.Pix[i+1] = c.G
				dst.Pix[i+2] = c.B
				dst.Pix[i+3] = c.A
			}
		}
	}
	return dst
}
