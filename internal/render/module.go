// Package render turns a neural scene and a batch of image descriptors into
// layered, differentiable feature images and coverage masks.
package render

import (
	"errors"
	"fmt"
	"sync"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/raster"
	"neural-point-renderer/internal/scene"
	"neural-point-renderer/internal/tensor"
)

var (
	// ErrEnvironmentNeedsMask is returned when the scene has an environment
	// map but background masks are disabled.
	ErrEnvironmentNeedsMask = errors.New("render: environment map requires output_background_mask")
	// ErrMasksDisabled is returned when masks are to be appended to the
	// colour channels but are not produced.
	ErrMasksDisabled = errors.New("render: cat_masks_to_color requires output_background_mask")
	// ErrEnvironmentChannels is returned when an environment composited
	// behind the points has a different channel count than the points.
	ErrEnvironmentChannels = errors.New("render: environment channels differ from point descriptors")
	// ErrLayers is returned for a layer count below one.
	ErrLayers = errors.New("render: num_layers must be at least 1")
)

// Module renders scenes. It owns a blending cache, so Forward calls on one
// Module are serialised; use one Module per concurrent caller.
type Module struct {
	mu       sync.Mutex
	params   Params
	training bool
	cache    *raster.Cache
}

// NewModule returns a Module in evaluation mode.
func NewModule(p Params) (*Module, error) {
	if p.NumLayers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrLayers, p.NumLayers)
	}
	if p.CatMasksToColor && !p.OutputBackgroundMask {
		return nil, ErrMasksDisabled
	}
	return &Module{params: p, cache: raster.NewCache()}, nil
}

// Params returns the module configuration.
func (m *Module) Params() Params { return m.params }

// Train switches between training (dropout applied) and evaluation mode.
func (m *Module) Train(on bool) {
	m.mu.Lock()
	m.training = on
	m.mu.Unlock()
}

// IsTraining reports the current mode.
func (m *Module) IsTraining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.training
}

// CacheStats returns statistics of the last blending pass.
func (m *Module) CacheStats() raster.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Stats()
}

// Forward renders batch. It returns NumLayers images of shape
// [B, C', H, W] and, when masks are enabled, NumLayers masks of shape
// [B, 1, H, W]; otherwise masks is nil. C' is the descriptor width plus
// the environment channels when CatEnvToColor applies, plus one when
// CatMasksToColor is set.
//
// The returned tensors keep their gradient paths into the scene until the
// next Forward call on this Module.
func (m *Module) Forward(s *scene.NeuralScene, batch []camera.ImageInfo) (images, masks []*tensor.Tensor, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.params
	if s.HasEnvironment() && !p.OutputBackgroundMask {
		return nil, nil, ErrEnvironmentNeedsMask
	}
	if p.CatMasksToColor && !p.OutputBackgroundMask {
		return nil, nil, ErrMasksDisabled
	}
	if s.HasEnvironment() && !p.CatEnvToColor && s.Environment.Channels() != s.Channels() {
		return nil, nil, fmt.Errorf("%w: %d vs %d", ErrEnvironmentChannels, s.Environment.Channels(), s.Channels())
	}
	layers := p.NumLayers
	log := Logger()

	req := &raster.Request{
		Clouds:     clouds(s),
		Poses:      s.Poses,
		Intrinsics: s.Intrinsics,
		Images:     batch,
		NumLayers:  layers,
		Params: raster.Params{
			OutputMask: p.OutputBackgroundMask,
			PointSigma: p.PointSigma,
			ZNear:      p.ZNear,
			Seed:       p.Seed,
			Workers:    p.Workers,
		},
		Cache: m.cache,
	}
	if m.training {
		req.Params.Dropout = p.Dropout
	}

	if p.SuperSampling {
		ss := camera.CloneBatch(batch)
		for i := range ss {
			ss[i] = ss[i].SuperSampled()
		}
		req.Images = ss
		req.Params.PointSigma *= 2
	}

	log.Debug("render forward",
		"images", len(batch),
		"layers", layers,
		"super_sampling", p.SuperSampling,
		"training", m.training,
	)

	out := raster.BlendPointCloud(req)

	if p.OutputBackgroundMask {
		if len(out) != 2*layers {
			panic(fmt.Sprintf("render: blend returned %d tensors, want %d", len(out), 2*layers))
		}
		images = out[:layers]
		masks = make([]*tensor.Tensor, layers)
		for i, mk := range out[layers:] {
			masks[i] = mk.Detach()
		}
		if masks[0].RequiresGrad() {
			panic("render: mask still requires grad after detach")
		}
	} else {
		if len(out) != layers {
			panic(fmt.Sprintf("render: blend returned %d tensors, want %d", len(out), layers))
		}
		images = out
	}

	if p.SuperSampling {
		for i := range images {
			images[i] = tensor.AvgPool2(images[i])
		}
		for i := range masks {
			masks[i] = tensor.AvgPool2(masks[i])
		}
	}

	if s.HasEnvironment() {
		env := s.Environment.Sample(s.Poses, s.Intrinsics, batch, layers, p.Workers)
		for i := range images {
			if p.CatEnvToColor {
				images[i] = tensor.Cat(1, images[i], env[i])
			} else {
				images[i] = tensor.Add(images[i], tensor.MulBroadcast(env[i], tensor.OneMinus(masks[i])))
			}
		}
	}

	if p.CatMasksToColor {
		for i := range images {
			images[i] = tensor.Cat(1, images[i], masks[i])
		}
	}

	validate(images, batch)

	st := m.cache.Stats()
	log.Debug("render cache", "epoch", st.Epoch, "points", st.Points, "visible", st.Visible)
	if st.Points > 0 && st.Views > 0 && st.Visible == 0 {
		log.Warn("no point visible in batch", "images", len(batch))
	}
	return images, masks, nil
}

// clouds lists the point sets rendered for s, main cloud first.
func clouds(s *scene.NeuralScene) []raster.Cloud {
	out := []raster.Cloud{{
		Positions:  s.PointCloud.Positions,
		Features:   s.Texture.Features,
		Confidence: s.Texture.Confidence,
	}}
	if s.OutlierCloud != nil && s.OutlierTexture != nil {
		out = append(out, raster.Cloud{
			Positions:  s.OutlierCloud.Positions,
			Features:   s.OutlierTexture.Features,
			Confidence: s.OutlierTexture.Confidence,
		})
	}
	return out
}

// validate panics unless every image matches the batch size and native
// resolution.
func validate(images []*tensor.Tensor, batch []camera.ImageInfo) {
	if len(images) == 0 {
		return
	}
	first := images[0]
	if first.Size(0) != len(batch) {
		panic(fmt.Sprintf("render: output batch %d, want %d", first.Size(0), len(batch)))
	}
	if len(batch) == 0 {
		return
	}
	h, w := batch[0].H, batch[0].W
	for i, img := range images {
		if img.Size(2) != h || img.Size(3) != w {
			panic(fmt.Sprintf("render: layer %d is %dx%d, want %dx%d", i, img.Size(3), img.Size(2), w, h))
		}
	}
}
