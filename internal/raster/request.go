package raster

import (
	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/tensor"
)

// Cloud is one set of points rendered into the views.
type Cloud struct {
	Positions  *tensor.Tensor // [N,3]
	Features   *tensor.Tensor // [N,C]
	Confidence *tensor.Tensor // [N,1]; nil means every point has confidence 1
}

// Len returns the number of points.
func (c Cloud) Len() int { return c.Positions.Size(0) }

// Params tune the blending kernel.
type Params struct {
	// Dropout is the probability of excluding a point from a view.
	Dropout float64
	// OutputMask adds the per-layer coverage masks to the output.
	OutputMask bool
	// PointSigma is the splat standard deviation in rendered pixels.
	PointSigma float64
	// ZNear rejects points at or closer than this camera depth.
	ZNear float64
	// Seed drives dropout sampling.
	Seed uint64
	// Workers bounds kernel parallelism; <= 0 means runtime.NumCPU().
	Workers int
}

// Request is everything one blending call reads.
type Request struct {
	Clouds     []Cloud
	Poses      *tensor.Tensor // [numImages,7]
	Intrinsics *tensor.Tensor // [numCameras,4]
	Images     []camera.ImageInfo
	NumLayers  int
	Params     Params
	Cache      *Cache
}

// channels returns the feature width shared by all clouds.
func (r *Request) channels() int {
	return r.Clouds[0].Features.Size(1)
}

// resolution returns the common image size of the batch.
func (r *Request) resolution() (w, h int) {
	if len(r.Images) == 0 {
		return 0, 0
	}
	return r.Images[0].W, r.Images[0].H
}
