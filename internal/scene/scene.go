// Package scene holds the trainable state of a neural point scene: the
// point cloud, its neural texture, camera poses and intrinsics, and an
// optional environment map.
//
// A forward pass only reads the scene. Optimizer steps write it, so
// callers that train and render concurrently take Lock around steps and
// RLock around forward passes.
package scene

import (
	"errors"
	"fmt"
	"sync"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/envmap"
	"neural-point-renderer/internal/optim"
	"neural-point-renderer/internal/tensor"
)

// ErrShape reports scene tensors whose shapes do not fit together.
var ErrShape = errors.New("scene: shape mismatch")

// PointCloud is a set of world-space point positions, [N,3].
type PointCloud struct {
	Positions *tensor.Tensor
}

// Len returns the number of points.
func (p PointCloud) Len() int { return p.Positions.Size(0) }

// Texture is the neural descriptor of every point.
type Texture struct {
	Features   *tensor.Tensor // [N,C]
	Confidence *tensor.Tensor // [N,1], optional
}

// Channels returns the descriptor width.
func (t Texture) Channels() int { return t.Features.Size(1) }

// Group names a set of parameters that share an optimizer.
type Group int

const (
	Structure Group = iota
	Appearance
	Camera
	Environment
	numGroups
)

var groupNames = [numGroups]string{"structure", "texture", "camera", "environment"}

func (g Group) String() string {
	if g < 0 || g >= numGroups {
		return fmt.Sprintf("Group(%d)", int(g))
	}
	return groupNames[g]
}

// NeuralScene is the scene state read by the renderer.
type NeuralScene struct {
	mu sync.RWMutex

	PointCloud PointCloud
	Texture    Texture

	// OutlierCloud is rendered together with PointCloud when set.
	OutlierCloud   *PointCloud
	OutlierTexture *Texture

	Poses      *tensor.Tensor // [numImages,7]
	Intrinsics *tensor.Tensor // [numCameras,4]

	// Environment is nil when the scene has no background model.
	Environment *envmap.Map

	trainable  [numGroups]bool
	optimizers [numGroups]optim.Optimizer
	schedules  [numGroups]optim.Schedule
}

// New validates and assembles a scene. All tensors start frozen; use
// Train or SetupOptimizers to enable gradients.
func New(cloud PointCloud, tex Texture, poses, intrinsics *tensor.Tensor) (*NeuralScene, error) {
	if err := checkCloud(cloud, tex); err != nil {
		return nil, err
	}
	if poses.Dim() != 2 || poses.Size(1) != camera.PoseParams {
		return nil, fmt.Errorf("%w: poses %v, want [numImages %d]", ErrShape, poses.Shape(), camera.PoseParams)
	}
	if intrinsics.Dim() != 2 || intrinsics.Size(1) != camera.IntrinsicsParams {
		return nil, fmt.Errorf("%w: intrinsics %v, want [numCameras %d]", ErrShape, intrinsics.Shape(), camera.IntrinsicsParams)
	}
	s := &NeuralScene{
		PointCloud: cloud,
		Texture:    tex,
		Poses:      poses,
		Intrinsics: intrinsics,
	}
	for g := range numGroups {
		s.Train(g, false)
	}
	return s, nil
}

func checkCloud(cloud PointCloud, tex Texture) error {
	if cloud.Positions == nil || tex.Features == nil {
		return fmt.Errorf("%w: missing positions or features", ErrShape)
	}
	if cloud.Positions.Dim() != 2 || cloud.Positions.Size(1) != 3 {
		return fmt.Errorf("%w: positions %v, want [N 3]", ErrShape, cloud.Positions.Shape())
	}
	n := cloud.Len()
	if tex.Features.Dim() != 2 || tex.Features.Size(0) != n || tex.Features.Size(1) == 0 {
		return fmt.Errorf("%w: features %v for %d points", ErrShape, tex.Features.Shape(), n)
	}
	if tex.Confidence != nil && (tex.Confidence.Dim() != 2 || tex.Confidence.Len() != n) {
		return fmt.Errorf("%w: confidence %v for %d points", ErrShape, tex.Confidence.Shape(), n)
	}
	return nil
}

// SetEnvironment attaches a background model, or detaches it when m is nil.
func (s *NeuralScene) SetEnvironment(m *envmap.Map) {
	s.Environment = m
	if m != nil {
		m.Texture.SetRequiresGrad(s.trainable[Environment])
	}
}

// SetOutliers attaches a secondary cloud rendered with the main one.
func (s *NeuralScene) SetOutliers(cloud PointCloud, tex Texture) error {
	if err := checkCloud(cloud, tex); err != nil {
		return err
	}
	if tex.Channels() != s.Texture.Channels() {
		return fmt.Errorf("%w: outlier texture has %d channels, texture %d", ErrShape, tex.Channels(), s.Texture.Channels())
	}
	s.OutlierCloud, s.OutlierTexture = &cloud, &tex
	s.Train(Structure, s.trainable[Structure])
	s.Train(Appearance, s.trainable[Appearance])
	return nil
}

// HasEnvironment reports whether the scene carries a background model.
func (s *NeuralScene) HasEnvironment() bool { return s.Environment != nil }

// Channels returns the neural descriptor width.
func (s *NeuralScene) Channels() int { return s.Texture.Channels() }

// NumImages returns the number of pose rows.
func (s *NeuralScene) NumImages() int { return s.Poses.Size(0) }

// NumCameras returns the number of intrinsics rows.
func (s *NeuralScene) NumCameras() int { return s.Intrinsics.Size(0) }

// Params returns the tensors optimised by group g.
func (s *NeuralScene) Params(g Group) []*tensor.Tensor {
	var out []*tensor.Tensor
	switch g {
	case Structure:
		out = append(out, s.PointCloud.Positions)
		if s.OutlierCloud != nil {
			out = append(out, s.OutlierCloud.Positions)
		}
	case Appearance:
		out = append(out, s.Texture.Features)
		if s.Texture.Confidence != nil {
			out = append(out, s.Texture.Confidence)
		}
		if s.OutlierTexture != nil {
			out = append(out, s.OutlierTexture.Features)
			if s.OutlierTexture.Confidence != nil {
				out = append(out, s.OutlierTexture.Confidence)
			}
		}
	case Camera:
		out = append(out, s.Poses, s.Intrinsics)
	case Environment:
		if s.Environment != nil {
			out = append(out, s.Environment.Texture)
		}
	}
	return out
}

// Train enables or disables gradients for group g.
func (s *NeuralScene) Train(g Group, on bool) {
	s.trainable[g] = on
	for _, p := range s.Params(g) {
		p.SetRequiresGrad(on)
	}
}

// Trainable reports whether group g requires gradients.
func (s *NeuralScene) Trainable(g Group) bool { return s.trainable[g] }

// ZeroGrad clears the gradients of every parameter.
func (s *NeuralScene) ZeroGrad() {
	for g := range numGroups {
		for _, p := range s.Params(g) {
			p.ZeroGrad()
		}
	}
}

// DownloadPoses returns the current poses.
func (s *NeuralScene) DownloadPoses() []camera.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.Poses.Data()
	out := make([]camera.Pose, s.NumImages())
	for i := range out {
		out[i] = camera.PoseFromRow(d[i*camera.PoseParams : (i+1)*camera.PoseParams])
	}
	return out
}

// DownloadIntrinsics returns the current intrinsics.
func (s *NeuralScene) DownloadIntrinsics() []camera.Intrinsics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.Intrinsics.Data()
	out := make([]camera.Intrinsics, s.NumCameras())
	for i := range out {
		out[i] = camera.IntrinsicsFromRow(d[i*camera.IntrinsicsParams : (i+1)*camera.IntrinsicsParams])
	}
	return out
}

// Lock, Unlock, RLock and RUnlock guard the scene tensors.
func (s *NeuralScene) Lock()    { s.mu.Lock() }
func (s *NeuralScene) Unlock()  { s.mu.Unlock() }
func (s *NeuralScene) RLock()   { s.mu.RLock() }
func (s *NeuralScene) RUnlock() { s.mu.RUnlock() }
