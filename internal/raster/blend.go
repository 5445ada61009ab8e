// Package raster projects neural point clouds into camera views and blends
// them into layered feature images and coverage masks.
//
// Each point is splatted with an isotropic Gaussian footprint, shifted so it
// falls to zero at cutoffSigmas standard deviations. Within a
// layer a pixel accumulates W = Σw and F = Σw·f; its colour is F/max(W,1)
// and its coverage min(W,1). Colours are therefore premultiplied by
// coverage and a background composites with image + (1-mask)·background.
// Accumulation runs in point index order per (view, layer), so repeated
// calls are bit-identical.
package raster

import (
	"fmt"
	"math"
	"math/rand/v2"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/mathutil"
	"neural-point-renderer/internal/parallel"
	"neural-point-renderer/internal/tensor"
)

// cutoffSigmas bounds the splat footprint.
const cutoffSigmas = 3.0

// BlendPointCloud renders every cloud of req into every image. It returns
// NumLayers images of shape [B,C,H,W] followed, when Params.OutputMask is
// set, by NumLayers masks of shape [B,1,H,W].
//
// Points are assigned to layers by depth: per view the visible depth range
// is cut into NumLayers equal slabs, nearest first.
func BlendPointCloud(req *Request) []*tensor.Tensor {
	validate(req)

	b := len(req.Images)
	layers := req.NumLayers
	c := req.channels()
	w, h := req.resolution()
	n := 0
	for _, cl := range req.Clouds {
		n += cl.Len()
	}

	cache := req.Cache
	if cache == nil {
		cache = NewCache()
	}
	cache.reset(b, n, layers, w, h)
	epoch := cache.epoch
	k := newKernel(req, cache)

	images := make([]*tensor.Tensor, layers)
	var masks []*tensor.Tensor
	if req.Params.OutputMask {
		masks = make([]*tensor.Tensor, layers)
	}
	for l := range images {
		images[l] = tensor.Zeros(b, c, h, w)
	}
	for l := range masks {
		masks[l] = tensor.Zeros(b, 1, h, w)
	}

	parallel.For(b, req.Params.Workers, func(bi int) {
		k.project(bi, epoch)
	})
	parallel.For(b*layers, req.Params.Workers, func(t int) {
		bi, l := t/layers, t%layers
		var mask []float32
		if masks != nil {
			mask = masks[l].Data()
		}
		k.accumulate(bi, l, images[l].Data(), mask)
	})
	for i := range cache.views {
		cache.stats.Visible += cache.views[i].visible
	}

	parents := make([]*tensor.Tensor, 0, 3*len(req.Clouds)+2)
	for _, cl := range req.Clouds {
		parents = append(parents, cl.Positions, cl.Features)
		if cl.Confidence != nil {
			parents = append(parents, cl.Confidence)
		}
	}
	parents = append(parents, req.Poses, req.Intrinsics)

	for l := range images {
		color := images[l].Data()
		images[l] = tensor.Op(images[l], parents, func(g []float32) {
			k.backward(epoch, l, color, g, nil)
		})
		if masks != nil {
			masks[l] = tensor.Op(masks[l], parents, func(g []float32) {
				k.backward(epoch, l, color, nil, g)
			})
		}
	}
	return append(images, masks...)
}

func validate(req *Request) {
	if len(req.Clouds) == 0 {
		panic("raster: request has no point clouds")
	}
	if req.NumLayers < 1 {
		panic(fmt.Sprintf("raster: invalid layer count %d", req.NumLayers))
	}
	c := req.channels()
	for i, cl := range req.Clouds {
		n := cl.Len()
		if cl.Positions.Dim() != 2 || cl.Positions.Size(1) != 3 {
			panic(fmt.Sprintf("raster: cloud %d positions have shape %v, want [N 3]", i, cl.Positions.Shape()))
		}
		if cl.Features.Dim() != 2 || cl.Features.Size(0) != n || cl.Features.Size(1) != c {
			panic(fmt.Sprintf("raster: cloud %d features have shape %v, want [%d %d]", i, cl.Features.Shape(), n, c))
		}
		if cl.Confidence != nil && cl.Confidence.Len() != n {
			panic(fmt.Sprintf("raster: cloud %d confidence has shape %v, want [%d 1]", i, cl.Confidence.Shape(), n))
		}
	}
	w, h := req.resolution()
	for _, img := range req.Images {
		if img.W != w || img.H != h {
			panic(fmt.Sprintf("raster: mixed resolutions in batch (%dx%d vs %dx%d)", img.W, img.H, w, h))
		}
		if !img.Crop.Valid() {
			panic(fmt.Sprintf("raster: image %q has a degenerate crop transform", img.Name))
		}
	}
}

// kernel carries the per-call constants of one blending pass.
type kernel struct {
	req     *Request
	cache   *Cache
	layers  int
	c       int
	w, h    int
	sigma   float64
	inv2s2  float64
	cutoff  float64
	tail    float64 // unshifted Gaussian at the cutoff
	norm    float64 // 1/(1-tail), keeps the peak at 1
	offsets []int // first global point index of each cloud
}

func newKernel(req *Request, cache *Cache) *kernel {
	w, h := req.resolution()
	sigma := req.Params.PointSigma
	if sigma <= 0 {
		sigma = 0.5
	}
	k := &kernel{
		req:    req,
		cache:  cache,
		layers: req.NumLayers,
		c:      req.channels(),
		w:      w,
		h:      h,
		sigma:  sigma,
		inv2s2: 1 / (2 * sigma * sigma),
		cutoff: cutoffSigmas * sigma,
		tail:   math.Exp(-cutoffSigmas * cutoffSigmas / 2),
	}
	k.norm = 1 / (1 - k.tail)
	off := 0
	for _, cl := range req.Clouds {
		k.offsets = append(k.offsets, off)
		off += cl.Len()
	}
	return k
}

func viewFor(poses, intrinsics *tensor.Tensor, img camera.ImageInfo) camera.View {
	pr := poses.Data()[img.ImageIndex*camera.PoseParams : (img.ImageIndex+1)*camera.PoseParams]
	kr := intrinsics.Data()[img.CameraIndex*camera.IntrinsicsParams : (img.CameraIndex+1)*camera.IntrinsicsParams]
	return camera.NewView(camera.PoseFromRow(pr), camera.IntrinsicsFromRow(kr), img.Crop)
}

func position(pos []float32, i int) mathutil.Vec3 {
	return mathutil.Vec3From32(pos[3*i], pos[3*i+1], pos[3*i+2])
}

func confidence(cl Cloud, i int) float64 {
	if cl.Confidence == nil {
		return 1
	}
	return float64(cl.Confidence.Data()[i])
}

// project fills the projection records of view bi and assigns layers.
func (k *kernel) project(bi int, epoch uint64) {
	p := k.req.Params
	vs := &k.cache.views[bi]
	vs.view = viewFor(k.req.Poses, k.req.Intrinsics, k.req.Images[bi])

	var rng *rand.Rand
	if p.Dropout > 0 {
		rng = rand.New(rand.NewPCG(p.Seed, epoch<<20^uint64(bi)))
	}

	depth := make([]float64, len(vs.proj))
	near, far := math.Inf(1), math.Inf(-1)
	w, h := float64(k.w), float64(k.h)
	for ci, cl := range k.req.Clouds {
		pos := cl.Positions.Data()
		for i := 0; i < cl.Len(); i++ {
			pp := &vs.proj[k.offsets[ci]+i]
			pp.layer = -1
			if rng != nil && rng.Float64() < p.Dropout {
				continue
			}
			pr := vs.view.Project(position(pos, i))
			if !(pr.Z > p.ZNear) {
				continue
			}
			if !(pr.U >= -k.cutoff && pr.U <= w+k.cutoff && pr.V >= -k.cutoff && pr.V <= h+k.cutoff) {
				continue
			}
			pp.u, pp.v, pp.layer = float32(pr.U), float32(pr.V), 0
			depth[k.offsets[ci]+i] = pr.Z
			near = math.Min(near, pr.Z)
			far = math.Max(far, pr.Z)
			vs.visible++
		}
	}
	vs.near, vs.far = near, far

	if k.layers == 1 || vs.visible == 0 || far-near < 1e-12 {
		return
	}
	scale := float64(k.layers) / (far - near)
	for i := range vs.proj {
		if vs.proj[i].layer < 0 {
			continue
		}
		slab := int((depth[i] - near) * scale)
		if slab >= k.layers {
			slab = k.layers - 1
		}
		vs.proj[i].layer = int32(slab)
	}
}

// gauss is the splat kernel at squared pixel distance d2 inside the cutoff.
func (k *kernel) gauss(d2 float64) float64 {
	return (math.Exp(-d2*k.inv2s2) - k.tail) * k.norm
}

// footprint returns the pixel rectangle a splat at (u, v) can touch.
func (k *kernel) footprint(u, v float64) (x0, x1, y0, y1 int) {
	x0 = max(0, int(math.Floor(u-k.cutoff)))
	x1 = min(k.w-1, int(math.Floor(u+k.cutoff)))
	y0 = max(0, int(math.Floor(v-k.cutoff)))
	y1 = min(k.h-1, int(math.Floor(v+k.cutoff)))
	return
}

// accumulate blends the points of layer l into view bi of the layer's
// image and mask buffers. mask is nil when masks are not requested.
func (k *kernel) accumulate(bi, l int, image, mask []float32) {
	plane := k.w * k.h
	vs := &k.cache.views[bi]
	weight := k.cache.weights(bi, l, k.layers, plane)
	out := image[bi*k.c*plane : (bi+1)*k.c*plane]
	cut2 := k.cutoff * k.cutoff

	for ci, cl := range k.req.Clouds {
		feat := cl.Features.Data()
		for i := 0; i < cl.Len(); i++ {
			pp := &vs.proj[k.offsets[ci]+i]
			if int(pp.layer) != l {
				continue
			}
			conf := confidence(cl, i)
			if conf <= 0 {
				continue
			}
			f := feat[i*k.c : (i+1)*k.c]
			u, v := float64(pp.u), float64(pp.v)
			x0, x1, y0, y1 := k.footprint(u, v)
			for y := y0; y <= y1; y++ {
				dy := float64(y) + 0.5 - v
				for x := x0; x <= x1; x++ {
					dx := float64(x) + 0.5 - u
					d2 := dx*dx + dy*dy
					if d2 > cut2 {
						continue
					}
					wt := float32(conf * k.gauss(d2))
					pix := y*k.w + x
					weight[pix] += wt
					for c, fc := range f {
						out[c*plane+pix] += wt * fc
					}
				}
			}
		}
	}

	var m []float32
	if mask != nil {
		m = mask[bi*plane : (bi+1)*plane]
	}
	for pix, s := range weight {
		if s > 1 {
			inv := 1 / s
			for c := 0; c < k.c; c++ {
				out[c*plane+pix] *= inv
			}
		}
		if m != nil {
			m[pix] = min(max(s, 0), 1)
		}
	}
}

// backward propagates the gradient of layer l's image (gImg) or mask
// (gMask) into point features, confidences, positions, poses and
// intrinsics.
func (k *kernel) backward(epoch uint64, l int, color, gImg, gMask []float32) {
	if k.cache.epoch != epoch {
		panic(fmt.Sprintf("raster: backward of render epoch %d after the cache moved to epoch %d", epoch, k.cache.epoch))
	}
	poseGrad := k.req.Poses.GradBuffer()
	kGrad := k.req.Intrinsics.GradBuffer()
	plane := k.w * k.h
	cut2 := k.cutoff * k.cutoff
	invS2 := 2 * k.inv2s2

	for bi := range k.cache.views {
		vs := &k.cache.views[bi]
		weight := k.cache.weights(bi, l, k.layers, plane)
		var gR mathutil.Mat3
		var gT mathutil.Vec3
		var gK [camera.IntrinsicsParams]float64

		for ci, cl := range k.req.Clouds {
			pos := cl.Positions.Data()
			feat := cl.Features.Data()
			posGrad := cl.Positions.GradBuffer()
			featGrad := cl.Features.GradBuffer()
			var confGrad []float32
			if cl.Confidence != nil {
				confGrad = cl.Confidence.GradBuffer()
			}
			geometry := posGrad != nil || poseGrad != nil || kGrad != nil

			for i := 0; i < cl.Len(); i++ {
				pp := &vs.proj[k.offsets[ci]+i]
				if int(pp.layer) != l {
					continue
				}
				conf := confidence(cl, i)
				if conf <= 0 {
					continue
				}
				f := feat[i*k.c : (i+1)*k.c]
				u, v := float64(pp.u), float64(pp.v)
				var gu, gv, gconf float64
				x0, x1, y0, y1 := k.footprint(u, v)
				for y := y0; y <= y1; y++ {
					dy := float64(y) + 0.5 - v
					for x := x0; x <= x1; x++ {
						dx := float64(x) + 0.5 - u
						d2 := dx*dx + dy*dy
						if d2 > cut2 {
							continue
						}
						e := math.Exp(-d2 * k.inv2s2)
						gauss := (e - k.tail) * k.norm
						wt := conf * gauss
						pix := y*k.w + x
						s := float64(weight[pix])
						d := math.Max(s, 1)

						var gw float64
						if gImg != nil {
							for c := 0; c < k.c; c++ {
								idx := (bi*k.c+c)*plane + pix
								g := float64(gImg[idx])
								if g == 0 {
									continue
								}
								if featGrad != nil {
									featGrad[i*k.c+c] += float32(g * wt / d)
								}
								if s >= 1 {
									gw += g * (float64(f[c]) - float64(color[idx])) / d
								} else {
									gw += g * float64(f[c])
								}
							}
						}
						if gMask != nil && s > 0 && s < 1 {
							gw += float64(gMask[bi*plane+pix])
						}
						if gw == 0 {
							continue
						}
						gconf += gw * gauss
						// dw/du = conf·norm·e·(x+0.5-u)/σ²
						slope := gw * conf * k.norm * e * invS2
						gu += slope * dx
						gv += slope * dy
					}
				}

				if confGrad != nil {
					confGrad[i] += float32(gconf)
				}
				if !geometry || (gu == 0 && gv == 0) {
					continue
				}
				p := position(pos, i)
				pg := vs.view.Backward(p, vs.view.Project(p), gu, gv)
				if posGrad != nil {
					for a := 0; a < 3; a++ {
						posGrad[3*i+a] += float32(pg.Point[a])
					}
				}
				for a := range gR {
					gR[a] += pg.R[a]
				}
				gT = gT.Add(pg.T)
				for a := range gK {
					gK[a] += pg.Intrinsics[a]
				}
			}
		}

		img := k.req.Images[bi]
		if poseGrad != nil {
			gq := mathutil.QuatToMat3Grad(vs.view.Pose.Q, gR)
			row := poseGrad[img.ImageIndex*camera.PoseParams:]
			for a := 0; a < 4; a++ {
				row[a] += float32(gq[a])
			}
			for a := 0; a < 3; a++ {
				row[4+a] += float32(gT[a])
			}
		}
		if kGrad != nil {
			row := kGrad[img.CameraIndex*camera.IntrinsicsParams:]
			for a := range gK {
				row[a] += float32(gK[a])
			}
		}
	}
}
