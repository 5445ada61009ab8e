package raster

import (
	"math"
	"testing"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/tensor"
)

func tables(poseRows [][]float32, fx, cx, cy float32) (*tensor.Tensor, *tensor.Tensor) {
	var pose []float32
	for _, r := range poseRows {
		pose = append(pose, r...)
	}
	return tensor.Param(pose, len(poseRows), camera.PoseParams),
		tensor.Param([]float32{fx, fx, cx, cy}, 1, camera.IntrinsicsParams)
}

func identityRow() []float32 { return []float32{0, 0, 0, 1, 0, 0, 0} }

func frames(n, w, h int) []camera.ImageInfo {
	out := make([]camera.ImageInfo, n)
	for i := range out {
		out[i] = camera.ImageInfo{ImageIndex: i, W: w, H: h, Crop: camera.Identity()}
	}
	return out
}

func cloud(pos, feat []float32, c int) Cloud {
	n := len(pos) / 3
	return Cloud{
		Positions: tensor.Param(pos, n, 3),
		Features:  tensor.Param(feat, n, c),
	}
}

func singlePoint() *Request {
	poses, intr := tables([][]float32{identityRow()}, 10, 8, 8)
	return &Request{
		Clouds:     []Cloud{cloud([]float32{0, 0, 5}, []float32{0.2, 0.4, 0.6, 0.8}, 4)},
		Poses:      poses,
		Intrinsics: intr,
		Images:     frames(1, 16, 16),
		NumLayers:  1,
		Params:     Params{OutputMask: true, PointSigma: 1, ZNear: 0.01},
	}
}

func TestSinglePointAtCentre(t *testing.T) {
	out := BlendPointCloud(singlePoint())
	if len(out) != 2 {
		t.Fatalf("got %d outputs, want 2", len(out))
	}
	img, mask := out[0], out[1]
	if s := img.Shape(); s[0] != 1 || s[1] != 4 || s[2] != 16 || s[3] != 16 {
		t.Fatalf("image shape %v", s)
	}
	if s := mask.Shape(); s[1] != 1 || s[2] != 16 || s[3] != 16 {
		t.Fatalf("mask shape %v", s)
	}
	peak := mask.At(0, 0, 7, 7)
	if peak < 0.5 || peak > 1 {
		t.Fatalf("mask at centre = %v", peak)
	}
	if m := mask.At(0, 0, 0, 0); m != 0 {
		t.Fatalf("mask at corner = %v, want 0", m)
	}
	// Colour is premultiplied by coverage.
	for c, f := range []float32{0.2, 0.4, 0.6, 0.8} {
		got := img.At(0, c, 7, 7) / peak
		if math.Abs(float64(got-f)) > 1e-5 {
			t.Errorf("channel %d colour/mask = %v, want %v", c, got, f)
		}
	}
}

func TestMaskOmittedWhenDisabled(t *testing.T) {
	req := singlePoint()
	req.Params.OutputMask = false
	req.NumLayers = 3
	out := BlendPointCloud(req)
	if len(out) != 3 {
		t.Fatalf("got %d outputs, want 3", len(out))
	}
	for i, o := range out {
		if o.Size(1) != 4 {
			t.Fatalf("output %d has %d channels, want image channels only", i, o.Size(1))
		}
	}

	withMask := singlePoint()
	withMask.NumLayers = 3
	ref := BlendPointCloud(withMask)
	for l := range out {
		for i, v := range out[l].Data() {
			if v != ref[l].Data()[i] {
				t.Fatalf("layer %d differs from the masked render at %d", l, i)
			}
		}
	}

	tensor.Backward(tensor.Sum(out[0]), nil)
	if req.Clouds[0].Features.Grad() == nil {
		t.Error("no feature gradient without masks")
	}
}

func TestEmptyCloud(t *testing.T) {
	req := singlePoint()
	req.Clouds = []Cloud{{Positions: tensor.Zeros(0, 3), Features: tensor.Zeros(0, 4)}}
	req.NumLayers = 2
	out := BlendPointCloud(req)
	if len(out) != 4 {
		t.Fatalf("got %d outputs", len(out))
	}
	for i, o := range out {
		for _, v := range o.Data() {
			if v != 0 {
				t.Fatalf("output %d not zero", i)
			}
		}
	}
}

func TestEmptyBatch(t *testing.T) {
	req := singlePoint()
	req.Images = nil
	out := BlendPointCloud(req)
	if len(out) != 2 || out[0].Size(0) != 0 || out[1].Size(0) != 0 {
		t.Fatalf("unexpected outputs %v", out)
	}
}

func TestBehindCameraAndNearPlane(t *testing.T) {
	req := singlePoint()
	req.Clouds = []Cloud{cloud([]float32{0, 0, -5, 0, 0, 0.005}, make([]float32, 8), 4)}
	req.Cache = NewCache()
	out := BlendPointCloud(req)
	for _, v := range out[1].Data() {
		if v != 0 {
			t.Fatal("points behind the near plane contributed")
		}
	}
	if st := req.Cache.Stats(); st.Visible != 0 || st.Points != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func denseRequest(workers int) *Request {
	var pos, feat []float32
	for i := 0; i < 200; i++ {
		x := float32(i%20)*0.1 - 1
		y := float32(i/20)*0.2 - 1
		z := 4 + float32(i%7)*0.3
		pos = append(pos, x, y, z)
		feat = append(feat, float32(i%5)*0.25, float32(i%3)*0.5, 1)
	}
	poses, intr := tables([][]float32{identityRow(), {0, 0.1, 0, 1, 0.2, 0, 0}}, 12, 12, 12)
	return &Request{
		Clouds:     []Cloud{cloud(pos, feat, 3)},
		Poses:      poses,
		Intrinsics: intr,
		Images:     frames(2, 24, 24),
		NumLayers:  3,
		Params:     Params{OutputMask: true, PointSigma: 0.8, ZNear: 0.1, Workers: workers},
	}
}

func TestMaskRangeAndPremultipliedColour(t *testing.T) {
	out := BlendPointCloud(denseRequest(4))
	for l := 0; l < 3; l++ {
		img, mask := out[l], out[3+l]
		plane := 24 * 24
		for b := 0; b < 2; b++ {
			for pix := 0; pix < plane; pix++ {
				m := mask.Data()[b*plane+pix]
				if m < 0 || m > 1 {
					t.Fatalf("layer %d mask %v out of range", l, m)
				}
				for c := 0; c < 3; c++ {
					v := img.Data()[(b*3+c)*plane+pix]
					if v < 0 || v > m+1e-5 {
						t.Fatalf("layer %d colour %v exceeds coverage %v", l, v, m)
					}
				}
			}
		}
	}
}

func TestRepeatable(t *testing.T) {
	a := BlendPointCloud(denseRequest(1))
	b := BlendPointCloud(denseRequest(8))
	for i := range a {
		for j, v := range a[i].Data() {
			if b[i].Data()[j] != v {
				t.Fatalf("output %d differs at %d: %v vs %v", i, j, v, b[i].Data()[j])
			}
		}
	}
}

func TestDepthLayers(t *testing.T) {
	req := singlePoint()
	req.NumLayers = 2
	req.Clouds = []Cloud{cloud(
		[]float32{0, 0, 5, 0, 0, 10},
		[]float32{1, 0, 0, 0, 0, 1, 0, 0},
		4,
	)}
	out := BlendPointCloud(req)
	near, far := out[0], out[1]
	if near.At(0, 0, 7, 7) <= 0 || near.At(0, 1, 7, 7) != 0 {
		t.Errorf("near layer = %v, %v", near.At(0, 0, 7, 7), near.At(0, 1, 7, 7))
	}
	if far.At(0, 1, 7, 7) <= 0 || far.At(0, 0, 7, 7) != 0 {
		t.Errorf("far layer = %v, %v", far.At(0, 0, 7, 7), far.At(0, 1, 7, 7))
	}
}

func TestFullDropout(t *testing.T) {
	req := singlePoint()
	req.Params.Dropout = 1
	out := BlendPointCloud(req)
	for _, v := range out[1].Data() {
		if v != 0 {
			t.Fatal("dropped point contributed")
		}
	}
}

func TestCacheAcrossBatchSizes(t *testing.T) {
	cache := NewCache()
	req := denseRequest(2)
	req.Cache = cache
	BlendPointCloud(req)
	req.Images = req.Images[:1]
	out := BlendPointCloud(req)
	if out[0].Size(0) != 1 {
		t.Fatalf("batch = %d", out[0].Size(0))
	}
	st := cache.Stats()
	if st.Epoch != 2 || st.Views != 1 || st.Points != 200 || st.Visible == 0 {
		t.Fatalf("stats = %+v", st)
	}

	fresh := denseRequest(2)
	fresh.Images = fresh.Images[:1]
	want := BlendPointCloud(fresh)
	for i := range out {
		for j, v := range out[i].Data() {
			if want[i].Data()[j] != v {
				t.Fatalf("reused cache output %d differs at %d", i, j)
			}
		}
	}
}

func TestBackwardAfterReusePanics(t *testing.T) {
	req := singlePoint()
	req.Cache = NewCache()
	first := BlendPointCloud(req)
	BlendPointCloud(req)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	tensor.Backward(tensor.Sum(first[0]), nil)
}

func TestMixedResolutionPanics(t *testing.T) {
	req := denseRequest(1)
	req.Images[1].W = 12
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	BlendPointCloud(req)
}

// gradRequest spaces three points so no pixel saturates.
func gradRequest() *Request {
	poses, intr := tables([][]float32{{0.02, -0.01, 0.03, 1, 0.1, -0.05, 0.2}}, 20, 12, 12)
	c := cloud(
		[]float32{0, 0, 5, 2, 0.5, 5, -1.5, -2, 6},
		[]float32{0.3, 0.9, 0.5, 0.1, 0.7, 0.4},
		2,
	)
	c.Confidence = tensor.Param([]float32{0.6, 0.8, 0.7}, 3, 1)
	return &Request{
		Clouds:     []Cloud{c},
		Poses:      poses,
		Intrinsics: intr,
		Images:     frames(1, 24, 24),
		NumLayers:  1,
		Params:     Params{OutputMask: true, PointSigma: 1.2, ZNear: 0.1},
	}
}

func objective(outs []*tensor.Tensor) *tensor.Tensor {
	var total *tensor.Tensor
	for i, o := range outs {
		w := make([]float32, o.Len())
		for j := range w {
			w[j] = float32(math.Sin(float64(j)*0.37+float64(i))) + 0.5
		}
		s := tensor.WeightedSum(o, w)
		if total == nil {
			total = s
		} else {
			total = tensor.Add(total, s)
		}
	}
	return total
}

func checkGrad(t *testing.T, name string, req *Request, p *tensor.Tensor) {
	t.Helper()
	tensor.Backward(objective(BlendPointCloud(req)), nil)
	analytic := append([]float32(nil), p.Grad()...)

	const eps = 1e-3
	data := p.Data()
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		up := objective(BlendPointCloud(req)).Data()[0]
		data[i] = orig - eps
		down := objective(BlendPointCloud(req)).Data()[0]
		data[i] = orig
		numeric := float64(up-down) / (2 * eps)
		if d := math.Abs(numeric - float64(analytic[i])); d > 2e-2*math.Max(1, math.Abs(numeric)) {
			t.Errorf("%s grad[%d] = %v, numeric %v", name, i, analytic[i], numeric)
		}
	}
}

func TestGradients(t *testing.T) {
	cases := []struct {
		name  string
		param func(*Request) *tensor.Tensor
	}{
		{"features", func(r *Request) *tensor.Tensor { return r.Clouds[0].Features }},
		{"positions", func(r *Request) *tensor.Tensor { return r.Clouds[0].Positions }},
		{"confidence", func(r *Request) *tensor.Tensor { return r.Clouds[0].Confidence }},
		{"poses", func(r *Request) *tensor.Tensor { return r.Poses }},
		{"intrinsics", func(r *Request) *tensor.Tensor { return r.Intrinsics }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := gradRequest()
			checkGrad(t, tc.name, req, tc.param(req))
		})
	}
}

func TestFrozenInputsGetNoGradient(t *testing.T) {
	req := gradRequest()
	req.Poses.SetRequiresGrad(false)
	req.Intrinsics.SetRequiresGrad(false)
	req.Clouds[0].Positions.SetRequiresGrad(false)
	tensor.Backward(objective(BlendPointCloud(req)), nil)
	if req.Poses.Grad() != nil || req.Clouds[0].Positions.Grad() != nil {
		t.Fatal("frozen tensors received gradients")
	}
	if req.Clouds[0].Features.Grad() == nil {
		t.Fatal("features received no gradient")
	}
}
