package render

// Params configure a Module. Field names follow the JSON keys of the
// configuration file.
type Params struct {
	// NumLayers is the number of depth layers rendered per image.
	NumLayers int
	// SuperSampling renders at twice the resolution and averages down.
	SuperSampling bool
	// Dropout is the per-view probability of dropping a point while
	// training. It is ignored in evaluation mode.
	Dropout float64
	// OutputBackgroundMask returns per-layer coverage masks.
	OutputBackgroundMask bool
	// CatEnvToColor appends the environment sample as extra channels
	// instead of compositing it behind the points.
	CatEnvToColor bool
	// CatMasksToColor appends each mask as an extra image channel.
	CatMasksToColor bool

	// PointSigma is the splat radius in native pixels.
	PointSigma float64
	// ZNear rejects points closer to the camera.
	ZNear float64
	// Seed drives dropout.
	Seed uint64
	// Workers bounds blending parallelism; <= 0 uses every CPU.
	Workers int
}

// DefaultParams returns a single-layer configuration with masks enabled.
func DefaultParams() Params {
	return Params{
		NumLayers:            1,
		OutputBackgroundMask: true,
		PointSigma:           0.75,
		ZNear:                0.01,
	}
}
