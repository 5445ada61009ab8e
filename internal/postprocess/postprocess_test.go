package postprocess

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/mrjoshuak/go-openexr/exr"

	"neural-point-renderer/internal/tensor"
)

func TestPreviewUnpremultiplies(t *testing.T) {
	// One image, two channels, 1×2 pixels.
	layer := tensor.New([]float32{0.25, 0, 0.1, 0}, 1, 2, 1, 2)
	mask := tensor.New([]float32{0.5, 0}, 1, 1, 1, 2)
	img := Preview(layer, mask, 0, PreviewOptions{})

	got := img.NRGBAAt(0, 0)
	want := color.NRGBA{R: encode(0.5, 1, false), G: encode(0.2, 1, false), B: encode(0.2, 1, false), A: 128}
	if got != want {
		t.Fatalf("pixel = %v, want %v", got, want)
	}
	if got := img.NRGBAAt(1, 0); got != (color.NRGBA{}) {
		t.Fatalf("uncovered pixel = %v, want transparent", got)
	}
}

func TestPreviewOpaqueWithoutMask(t *testing.T) {
	layer := tensor.New([]float32{0, 0, 1, 2, 0.5, 0.5, 0.5, 0.5}, 2, 1, 2, 2)
	img := Preview(layer, nil, 1, PreviewOptions{Tonemap: true})
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			c := img.NRGBAAt(x, y)
			if c.A != 255 || c.R != c.G || c.G != c.B {
				t.Fatalf("pixel (%d,%d) = %v", x, y, c)
			}
		}
	}
	if img.NRGBAAt(0, 0).R == 0 {
		t.Fatal("batch index ignored")
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		v    float64
		want uint8
	}{
		{-1, 0}, {0, 0}, {1, 255}, {3, 255}, {0.5, 186},
	}
	for _, tt := range tests {
		if got := encode(tt.v, 1, false); got != tt.want {
			t.Errorf("encode(%v) = %d, want %d", tt.v, got, tt.want)
		}
	}
	if a, b := encode(0.2, 1, true), encode(0.4, 1, true); !(a < b) {
		t.Errorf("tonemapped encode not monotonic: %d, %d", a, b)
	}
}

func TestDespeckle(t *testing.T) {
	const w, h = 8, 8
	alpha := make([]float32, w*h)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			alpha[y*w+x] = 1
		}
	}
	alpha[7*w+7] = 0.5
	Despeckle(alpha, w, h, 0.2)
	if alpha[7*w+7] != 0 {
		t.Fatal("speckle kept")
	}
	if alpha[2*w+2] != 1 {
		t.Fatal("main region removed")
	}

	single := make([]float32, w*h)
	single[0] = 1
	Despeckle(single, w, h, 0.9)
	if single[0] != 1 {
		t.Fatal("sole region removed")
	}
}

func TestResize(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 200, 100, 50, 255
	}
	if Resize(src, 8, 4) != src {
		t.Fatal("same-size resize copied")
	}
	dst := Resize(src, 4, 2)
	if b := dst.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Fatalf("bounds %v", b)
	}
	c := dst.NRGBAAt(1, 1)
	for i, pair := range [][2]uint8{{c.R, 200}, {c.G, 100}, {c.B, 50}, {c.A, 255}} {
		if d := int(pair[0]) - int(pair[1]); d < -1 || d > 1 {
			t.Fatalf("component %d = %d, want %d", i, pair[0], pair[1])
		}
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h, max, ww, wh int
	}{
		{640, 480, 320, 320, 240},
		{480, 640, 320, 240, 320},
		{100, 50, 0, 100, 50},
		{100, 50, 200, 100, 50},
		{1000, 1, 10, 10, 1},
	}
	for _, tt := range tests {
		if w, h := FitSize(tt.w, tt.h, tt.max); w != tt.ww || h != tt.wh {
			t.Errorf("FitSize(%d,%d,%d) = %d,%d, want %d,%d", tt.w, tt.h, tt.max, w, h, tt.ww, tt.wh)
		}
	}
}

func TestEXRRoundTrip(t *testing.T) {
	layer := tensor.New([]float32{0.5, 2, 0.25, 0, 4, 8, 0.125, 1, 1, 1, 1, 1}, 1, 3, 2, 2)
	mask := tensor.New([]float32{0.5, 1, 1, 0.25}, 1, 1, 2, 2)
	path := filepath.Join(t.TempDir(), "layer.exr")
	if err := exr.EncodeFile(path, EXR(layer, mask, 0)); err != nil {
		t.Fatal(err)
	}
	img, err := exr.DecodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, a := img.RGBA(1, 0)
	if r != 2 || g != 8 || b != 1 || a != 1 {
		t.Fatalf("pixel (1,0) = %v %v %v %v", r, g, b, a)
	}
	if _, _, _, a := img.RGBA(1, 1); a != 0.25 {
		t.Fatalf("alpha (1,1) = %v", a)
	}
}
