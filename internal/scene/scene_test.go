package scene

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/envmap"
	"neural-point-renderer/internal/tensor"
)

func testScene(t *testing.T) *NeuralScene {
	t.Helper()
	s, err := New(
		PointCloud{Positions: tensor.New([]float32{0, 0, 5, 1, 1, 6}, 2, 3)},
		Texture{
			Features:   tensor.New([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, 2, 3),
			Confidence: tensor.New([]float32{1, 1}, 2, 1),
		},
		tensor.New([]float32{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 1, 1, 2, 3}, 2, camera.PoseParams),
		tensor.New([]float32{100, 100, 32, 24}, 1, camera.IntrinsicsParams),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewValidatesShapes(t *testing.T) {
	pos := tensor.New(make([]float32, 6), 2, 3)
	feat := tensor.New(make([]float32, 6), 2, 3)
	poses := tensor.New(make([]float32, 7), 1, 7)
	intr := tensor.New(make([]float32, 4), 1, 4)

	tests := []struct {
		name  string
		cloud PointCloud
		tex   Texture
		poses *tensor.Tensor
		intr  *tensor.Tensor
	}{
		{"positions", PointCloud{tensor.New(make([]float32, 4), 2, 2)}, Texture{Features: feat}, poses, intr},
		{"features", PointCloud{pos}, Texture{Features: tensor.New(make([]float32, 3), 1, 3)}, poses, intr},
		{"confidence", PointCloud{pos}, Texture{Features: feat, Confidence: tensor.New(make([]float32, 3), 3, 1)}, poses, intr},
		{"poses", PointCloud{pos}, Texture{Features: feat}, tensor.New(make([]float32, 6), 1, 6), intr},
		{"intrinsics", PointCloud{pos}, Texture{Features: feat}, poses, tensor.New(make([]float32, 3), 1, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cloud, tt.tex, tt.poses, tt.intr); !errors.Is(err, ErrShape) {
				t.Fatalf("err = %v, want ErrShape", err)
			}
		})
	}
}

func TestEnvironmentOptional(t *testing.T) {
	s := testScene(t)
	if s.HasEnvironment() || len(s.Params(Environment)) != 0 {
		t.Fatal("new scene has an environment")
	}
	s.Train(Environment, true)
	s.SetEnvironment(envmap.New(4, 8, 16, false))
	if !s.HasEnvironment() || len(s.Params(Environment)) != 1 {
		t.Fatal("environment not attached")
	}
	if !s.Environment.Texture.RequiresGrad() {
		t.Fatal("environment ignores the trainable flag")
	}
	s.SetEnvironment(nil)
	if s.HasEnvironment() {
		t.Fatal("environment not detached")
	}
}

func TestTrainTogglesGradients(t *testing.T) {
	s := testScene(t)
	for _, p := range s.Params(Appearance) {
		if p.RequiresGrad() {
			t.Fatal("texture trainable by default")
		}
	}
	s.Train(Appearance, true)
	if !s.Trainable(Appearance) || !s.Texture.Features.RequiresGrad() || !s.Texture.Confidence.RequiresGrad() {
		t.Fatal("texture not trainable")
	}
	if s.Poses.RequiresGrad() {
		t.Fatal("camera became trainable")
	}
}

func TestOptimizerStep(t *testing.T) {
	s := testScene(t)
	s.SetupOptimizers(LearningRates{Texture: 0.1, Structure: 0.1})
	if s.Poses.RequiresGrad() || !s.PointCloud.Positions.RequiresGrad() {
		t.Fatal("groups not enabled per learning rate")
	}

	before := append([]float32(nil), s.Texture.Features.Data()...)
	tensor.Backward(tensor.Sum(s.Texture.Features), nil)
	tensor.Backward(tensor.Sum(s.PointCloud.Positions), nil)

	s.OptimizerStep(true)
	for i, v := range s.Texture.Features.Data() {
		if v != before[i] {
			t.Fatal("texture moved in a structure-only step")
		}
	}
	if s.Texture.Features.Grad()[0] != 0 {
		t.Fatal("gradients not cleared after step")
	}

	tensor.Backward(tensor.Sum(s.Texture.Features), nil)
	s.OptimizerStep(false)
	for i, v := range s.Texture.Features.Data() {
		if !(v < before[i]) {
			t.Fatalf("feature %d = %v, want below %v", i, v, before[i])
		}
	}
}

func TestUpdateLearningRate(t *testing.T) {
	s := testScene(t)
	s.SetupOptimizers(LearningRates{Texture: 0.2, Camera: 0.01, DecayFactor: 0.5, DecayEpochs: 10})
	s.UpdateLearningRate(25, 1)
	if got := s.LearningRate(Appearance); math.Abs(got-0.05) > 1e-12 {
		t.Fatalf("texture lr = %v", got)
	}
	s.UpdateLearningRate(0, 0.5)
	if got := s.LearningRate(Camera); math.Abs(got-0.005) > 1e-12 {
		t.Fatalf("camera lr = %v", got)
	}
	if got := s.LearningRate(Structure); got != 0 {
		t.Fatalf("frozen group lr = %v", got)
	}
}

func TestDownload(t *testing.T) {
	s := testScene(t)
	poses := s.DownloadPoses()
	if len(poses) != 2 || poses[1].T != [3]float64{1, 2, 3} || poses[1].Q[3] != 1 {
		t.Fatalf("poses = %+v", poses)
	}
	k := s.DownloadIntrinsics()
	if len(k) != 1 || k[0].Fx != 100 || k[0].Cy != 24 {
		t.Fatalf("intrinsics = %+v", k)
	}
}

func TestBuildOutlierCloud(t *testing.T) {
	s := testScene(t)
	if err := s.BuildOutlierCloud(50, 10, 7); err != nil {
		t.Fatal(err)
	}
	if s.OutlierCloud.Len() != 50 || s.OutlierTexture.Channels() != 3 {
		t.Fatalf("outliers %d x %d", s.OutlierCloud.Len(), s.OutlierTexture.Channels())
	}
	centre := [3]float64{0.5, 0.5, 5.5}
	pos := s.OutlierCloud.Positions.Data()
	for i := 0; i < 50; i++ {
		var d2 float64
		for a := 0; a < 3; a++ {
			d := float64(pos[3*i+a]) - centre[a]
			d2 += d * d
		}
		if math.Abs(math.Sqrt(d2)-10) > 1e-3 {
			t.Fatalf("outlier %d at distance %v", i, math.Sqrt(d2))
		}
	}
	if got := len(s.Params(Structure)); got != 2 {
		t.Fatalf("structure params = %d", got)
	}
}

type fakeResolver struct {
	name string
	log  bool
}

func (f *fakeResolver) Environment(name string, channels int, logTexture bool) (*envmap.Map, error) {
	f.name, f.log = name, logTexture
	return envmap.New(channels, 4, 8, logTexture), nil
}

const sceneJSON = `{
  "points": [[0, 0, 5], [1, 0, 5]],
  "features": [[1, 0], [0, 1]],
  "confidence": [0.5, 1],
  "cameras": [{"fx": 50, "fy": 50, "cx": 16, "cy": 16}],
  "frames": [
    {"name": "front", "camera": 0, "width": 32, "height": 32},
    {"camera": 0, "width": 32, "height": 32, "euler": [0, 90, 0], "translation": [0, 0, 1],
     "crop": {"scale_x": 0.5, "offset_x": 4}},
    {"camera": 0, "width": 16, "height": 16, "look_at": {"eye": [0, 0, -5], "target": [0, 0, 0], "up": [0, -1, 0]}}
  ],
  "environment": {"texture": "sky", "log": true},
  "outliers": {"count": 8, "radius": 100, "seed": 1}
}`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.json")
	if err := os.WriteFile(path, []byte(sceneJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	res := &fakeResolver{}
	s, frames, err := Load(path, res)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.PointCloud.Len() != 2 || s.Channels() != 2 || s.NumImages() != 3 || s.NumCameras() != 1 {
		t.Fatalf("scene sizes %d %d %d %d", s.PointCloud.Len(), s.Channels(), s.NumImages(), s.NumCameras())
	}
	if res.name != "sky" || !res.log || !s.HasEnvironment() || s.Environment.Channels() != 2 {
		t.Fatalf("environment not resolved: %+v", res)
	}
	if s.OutlierCloud == nil || s.OutlierCloud.Len() != 8 {
		t.Fatal("outliers missing")
	}

	if frames[0].Name != "front" || frames[1].Name != "frame_0001" || frames[2].ImageIndex != 2 {
		t.Fatalf("frames = %+v", frames)
	}
	if c := frames[1].Crop; c.ScaleX != 0.5 || c.ScaleY != 1 || c.OffsetX != 4 {
		t.Fatalf("crop = %+v", c)
	}

	// The look-at camera sees the origin at the principal point.
	poses := s.DownloadPoses()
	k := s.DownloadIntrinsics()[0]
	v := camera.NewView(poses[2], k, frames[2].Crop)
	pr := v.Project([3]float64{0, 0, 0})
	if math.Abs(pr.Z-5) > 1e-4 || math.Abs(pr.U-16) > 1e-3 || math.Abs(pr.V-16) > 1e-3 {
		t.Fatalf("look_at projection = %+v", pr)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", `{`},
		{"features", `{"points": [[0,0,1]], "features": [], "cameras": [{"fx":1}]}`},
		{"camera index", `{"points": [], "channels": 3, "cameras": [{"fx":1,"fy":1}], "frames": [{"camera": 2, "width": 4, "height": 4}]}`},
		{"two rotations", `{"points": [], "channels": 3, "cameras": [{"fx":1,"fy":1}], "frames": [{"width": 4, "height": 4, "quat": [0,0,0,1], "euler": [0,0,0]}]}`},
		{"no resolver", `{"points": [], "channels": 3, "cameras": [{"fx":1,"fy":1}], "environment": {"texture": "sky"}}`},
	}
	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, _, err := Load(path, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, _, err := Load(filepath.Join(dir, "missing.json"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEmptyCloud(t *testing.T) {
	f := File{
		Channels: 4,
		Cameras:  []CameraEntry{{Fx: 10, Fy: 10}},
		Frames:   []FrameEntry{{Width: 8, Height: 8}},
	}
	s, frames, err := f.Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.PointCloud.Len() != 0 || s.Channels() != 4 || len(frames) != 1 {
		t.Fatalf("got %d points, %d channels", s.PointCloud.Len(), s.Channels())
	}
}
