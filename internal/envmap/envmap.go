// Package envmap holds the panoramic background of a neural scene and
// samples it into camera views.
//
// Textures are latitude-longitude panoramas laid out [channels, height,
// width] following the OpenEXR lat-long convention: +Y is up, longitude 0
// looks down +Z, and the left image edge is longitude +π.
package envmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/mrjoshuak/go-openexr/exr"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/mathutil"
	"neural-point-renderer/internal/parallel"
	"neural-point-renderer/internal/tensor"
)

// ErrShape reports a texture that is not [channels, height, width].
var ErrShape = errors.New("envmap: texture must be [channels, height, width] with positive extents")

// Map is a trainable environment texture.
type Map struct {
	Texture *tensor.Tensor // [C,H,W]

	// LogTexture stores log radiance; samples are exponentiated.
	LogTexture bool
}

// New returns a zero-initialised trainable map. A zero log texture samples
// to radiance 1 everywhere.
func New(channels, h, w int, logTexture bool) *Map {
	return &Map{
		Texture:    tensor.Param(make([]float32, channels*h*w), channels, h, w),
		LogTexture: logTexture,
	}
}

// FromTensor wraps an existing [C,H,W] tensor.
func FromTensor(tex *tensor.Tensor, logTexture bool) (*Map, error) {
	if tex.Dim() != 3 || tex.Len() == 0 {
		return nil, fmt.Errorf("%w: got %v", ErrShape, tex.Shape())
	}
	return &Map{Texture: tex, LogTexture: logTexture}, nil
}

// FromRadiance builds a trainable map from linear radiance values laid out
// [C,H,W], converting to log space when logTexture is set.
func FromRadiance(radiance []float32, channels, h, w int, logTexture bool) (*Map, error) {
	if channels <= 0 || h <= 0 || w <= 0 || len(radiance) != channels*h*w {
		return nil, fmt.Errorf("%w: %d values for %dx%dx%d", ErrShape, len(radiance), channels, h, w)
	}
	data := append([]float32(nil), radiance...)
	if logTexture {
		for i, v := range data {
			data[i] = float32(math.Log(math.Max(float64(v), minRadiance)))
		}
	}
	return &Map{Texture: tensor.Param(data, channels, h, w), LogTexture: logTexture}, nil
}

// minRadiance bounds log textures away from -Inf.
const minRadiance = 1e-6

// Channels returns the number of texture channels.
func (m *Map) Channels() int { return m.Texture.Size(0) }

// Sample renders the environment into every image of the batch, once per
// output layer. Each returned tensor is [B, C, h, w] at the batch's current
// resolution. poses is the [numImages,7] pose table and intrinsics the
// [numCameras,4] intrinsics table; gradients flow into the texture and,
// when they require gradients, into the camera rotations and intrinsics.
// Images are sampled on at most workers goroutines (<= 0 means NumCPU).
func (m *Map) Sample(poses, intrinsics *tensor.Tensor, images []camera.ImageInfo, numLayers, workers int) []*tensor.Tensor {
	c := m.Channels()
	b := len(images)
	h, w := 0, 0
	if b > 0 {
		h, w = images[0].H, images[0].W
	}
	for _, img := range images {
		if img.H != h || img.W != w {
			panic(fmt.Sprintf("envmap: mixed resolutions in batch (%dx%d vs %dx%d)", img.W, img.H, w, h))
		}
	}

	views := make([]camera.View, b)
	for i, img := range images {
		views[i] = viewFor(poses, intrinsics, img)
	}

	base := make([]float32, b*c*h*w)
	parallel.For(b, workers, func(i int) {
		m.forwardView(&views[i], w, h, base[i*c*h*w:(i+1)*c*h*w])
	})

	out := make([]*tensor.Tensor, numLayers)
	for l := range out {
		data := base
		if l > 0 {
			data = append([]float32(nil), base...)
		}
		layer := tensor.New(data, b, c, h, w)
		out[l] = tensor.Op(layer, []*tensor.Tensor{m.Texture, poses, intrinsics}, func(g []float32) {
			for i := range views {
				m.backwardView(&views[i], images[i], w, h,
					g[i*c*h*w:(i+1)*c*h*w], layer.Data()[i*c*h*w:(i+1)*c*h*w], poses, intrinsics)
			}
		})
	}
	return out
}

func viewFor(poses, intrinsics *tensor.Tensor, img camera.ImageInfo) camera.View {
	pr := poses.Data()[img.ImageIndex*camera.PoseParams : (img.ImageIndex+1)*camera.PoseParams]
	kr := intrinsics.Data()[img.CameraIndex*camera.IntrinsicsParams : (img.CameraIndex+1)*camera.IntrinsicsParams]
	return camera.NewView(camera.PoseFromRow(pr), camera.IntrinsicsFromRow(kr), img.Crop)
}

// lookup maps pixel (x, y) of a view to its world ray and texel footprint.
func (m *Map) lookup(v *camera.View, x, y int) (mathutil.Vec3, mathutil.Vec3, texel) {
	th, tw := m.Texture.Size(1), m.Texture.Size(2)
	dc := v.Ray(float64(x)+0.5, float64(y)+0.5)
	dw := v.WorldDir(dc)
	window := exr.Box2i{Max: exr.V2i{X: int32(tw), Y: int32(th)}}
	px, py := exr.LatLongPixelFromDirection(window, exr.V3f{X: float32(dw[0]), Y: float32(dw[1]), Z: float32(dw[2])})
	return dc, dw, footprint(float64(px)-0.5, float64(py)-0.5, tw, th)
}

func (m *Map) forwardView(v *camera.View, w, h int, out []float32) {
	c, th, tw := m.Channels(), m.Texture.Size(1), m.Texture.Size(2)
	tex := m.Texture.Data()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_, _, t := m.lookup(v, x, y)
			for ci := 0; ci < c; ci++ {
				s := t.sample(tex[ci*th*tw : (ci+1)*th*tw])
				if m.LogTexture {
					s = float32(math.Exp(float64(s)))
				}
				out[(ci*h+y)*w+x] = s
			}
		}
	}
}

func (m *Map) backwardView(v *camera.View, img camera.ImageInfo, w, h int, g, value []float32, poses, intrinsics *tensor.Tensor) {
	c, th, tw := m.Channels(), m.Texture.Size(1), m.Texture.Size(2)
	tex := m.Texture.Data()
	texGrad := m.Texture.GradBuffer()
	poseGrad := poses.GradBuffer()
	kGrad := intrinsics.GradBuffer()
	geometry := poseGrad != nil || kGrad != nil

	var gR mathutil.Mat3
	var gK [camera.IntrinsicsParams]float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dc, dw, t := m.lookup(v, x, y)
			var gtx, gty float64
			for ci := 0; ci < c; ci++ {
				idx := (ci*h+y)*w + x
				gv := g[idx]
				if m.LogTexture {
					gv *= value[idx]
				}
				if gv == 0 {
					continue
				}
				plane := tex[ci*th*tw : (ci+1)*th*tw]
				if texGrad != nil {
					t.scatter(texGrad[ci*th*tw:(ci+1)*th*tw], gv)
				}
				if geometry {
					sx, sy := t.slopes(plane)
					gtx += float64(gv * sx)
					gty += float64(gv * sy)
				}
			}
			if !geometry || (gtx == 0 && gty == 0) {
				continue
			}
			gdw, ok := latLongGrad(dw, gtx*float64(tw), gty*float64(th))
			if !ok {
				continue
			}
			gR = addMat3(gR, mathutil.Outer(dc, gdw))
			gdc := v.R.MulVec3(gdw)
			fx, fy := v.Crop.Unapply(float64(x)+0.5, float64(y)+0.5)
			k := v.Intrinsics
			gK[0] -= gdc[0] * (fx - k.Cx) / (k.Fx * k.Fx)
			gK[1] -= gdc[1] * (fy - k.Cy) / (k.Fy * k.Fy)
			gK[2] -= gdc[0] / k.Fx
			gK[3] -= gdc[1] / k.Fy
		}
	}

	if poseGrad != nil {
		gq := mathutil.QuatToMat3Grad(v.Pose.Q, gR)
		row := poseGrad[img.ImageIndex*camera.PoseParams:]
		for i := 0; i < 4; i++ {
			row[i] += float32(gq[i])
		}
	}
	if kGrad != nil {
		row := kGrad[img.CameraIndex*camera.IntrinsicsParams:]
		for i := range gK {
			row[i] += float32(gK[i])
		}
	}
}

// latLongGrad maps gradients with respect to normalised lat-long texture
// coordinates (u scaled by width, v scaled by height) back to the world
// direction. It reports false at the poles where longitude is undefined.
func latLongGrad(d mathutil.Vec3, gu, gv float64) (mathutil.Vec3, bool) {
	X, Y, Z := d[0], d[1], d[2]
	r2 := X*X + Z*Z
	if r2 < 1e-18 {
		return mathutil.Vec3{}, false
	}
	r := math.Sqrt(r2)
	l2 := r2 + Y*Y

	// u = lon/(-2π) + 0.5 with lon = atan2(X, Z); v = lat/(-π) + 0.5 with lat = atan2(Y, r).
	glon := -gu / (2 * math.Pi)
	glat := -gv / math.Pi
	return mathutil.Vec3{
		glon*Z/r2 - glat*Y*X/(r*l2),
		glat * r / l2,
		-glon*X/r2 - glat*Y*Z/(r*l2),
	}, true
}

func addMat3(a, b mathutil.Mat3) mathutil.Mat3 {
	for i := range a {
		a[i] += b[i]
	}
	return a
}
