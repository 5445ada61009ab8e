package scene

import (
	"encoding/json"
	"fmt"
	"os"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/envmap"
	"neural-point-renderer/internal/mathutil"
	"neural-point-renderer/internal/tensor"
)

// EnvironmentResolver turns the environment entry of a scene file into a
// map with the given channel count.
type EnvironmentResolver interface {
	Environment(name string, channels int, logTexture bool) (*envmap.Map, error)
}

// File is the JSON scene description.
type File struct {
	// Channels is the descriptor width; it may be omitted when there are
	// feature rows.
	Channels   int           `json:"channels,omitempty"`
	Points     [][3]float32  `json:"points"`
	Features   [][]float32   `json:"features"`
	Confidence []float32     `json:"confidence,omitempty"`
	Cameras    []CameraEntry `json:"cameras"`
	Frames     []FrameEntry  `json:"frames"`
	Env        *EnvEntry     `json:"environment,omitempty"`
	Outliers   *OutlierEntry `json:"outliers,omitempty"`
}

// CameraEntry is one intrinsics row.
type CameraEntry struct {
	Fx float32 `json:"fx"`
	Fy float32 `json:"fy"`
	Cx float32 `json:"cx"`
	Cy float32 `json:"cy"`
}

// FrameEntry is one image: its camera, resolution, pose and crop. The
// rotation is given by exactly one of Quat, Euler (degrees, applied
// X then Y then Z) or LookAt.
type FrameEntry struct {
	Name        string       `json:"name"`
	Camera      int          `json:"camera"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Quat        *[4]float64  `json:"quat,omitempty"`
	Euler       *[3]float64  `json:"euler,omitempty"`
	Translation [3]float64   `json:"translation"`
	LookAt      *LookAtEntry `json:"look_at,omitempty"`
	Crop        *CropEntry   `json:"crop,omitempty"`
}

// LookAtEntry places a camera at Eye facing Target. It sets the
// translation as well as the rotation.
type LookAtEntry struct {
	Eye    [3]float64 `json:"eye"`
	Target [3]float64 `json:"target"`
	Up     [3]float64 `json:"up"`
}

// CropEntry is a crop transform; a zero scale means 1.
type CropEntry struct {
	ScaleX  float64 `json:"scale_x"`
	ScaleY  float64 `json:"scale_y"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// EnvEntry names the environment texture.
type EnvEntry struct {
	Texture string `json:"texture"`
	Log     bool   `json:"log"`
}

// OutlierEntry requests a generated outlier cloud.
type OutlierEntry struct {
	Count  int     `json:"count"`
	Radius float64 `json:"radius"`
	Seed   uint64  `json:"seed"`
}

// Load reads a scene file. It returns the scene and one image descriptor
// per frame, in file order. resolver may be nil when the file has no
// environment entry.
func Load(path string, resolver EnvironmentResolver) (*NeuralScene, []camera.ImageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("scene: read %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("scene: parse %s: %w", path, err)
	}
	s, frames, err := f.Build(resolver)
	if err != nil {
		return nil, nil, fmt.Errorf("scene: %s: %w", path, err)
	}
	return s, frames, nil
}

// Build assembles the scene described by f.
func (f *File) Build(resolver EnvironmentResolver) (*NeuralScene, []camera.ImageInfo, error) {
	n := len(f.Points)
	if len(f.Features) != n {
		return nil, nil, fmt.Errorf("%w: %d points but %d feature rows", ErrShape, n, len(f.Features))
	}
	c := f.Channels
	if c == 0 && n > 0 {
		c = len(f.Features[0])
	}
	if c == 0 {
		return nil, nil, fmt.Errorf("%w: features need at least one channel", ErrShape)
	}

	pos := make([]float32, 0, 3*n)
	feat := make([]float32, 0, c*n)
	for i, p := range f.Points {
		if len(f.Features[i]) != c {
			return nil, nil, fmt.Errorf("%w: feature row %d has %d channels, want %d", ErrShape, i, len(f.Features[i]), c)
		}
		pos = append(pos, p[:]...)
		feat = append(feat, f.Features[i]...)
	}
	tex := Texture{Features: tensor.New(feat, n, c)}
	if f.Confidence != nil {
		if len(f.Confidence) != n {
			return nil, nil, fmt.Errorf("%w: %d confidences for %d points", ErrShape, len(f.Confidence), n)
		}
		tex.Confidence = tensor.New(append([]float32(nil), f.Confidence...), n, 1)
	}

	if len(f.Cameras) == 0 {
		return nil, nil, fmt.Errorf("%w: no cameras", ErrShape)
	}
	intr := make([]float32, 0, camera.IntrinsicsParams*len(f.Cameras))
	for _, k := range f.Cameras {
		intr = append(intr, k.Fx, k.Fy, k.Cx, k.Cy)
	}

	poses := make([]float32, 0, camera.PoseParams*len(f.Frames))
	frames := make([]camera.ImageInfo, len(f.Frames))
	for i, fr := range f.Frames {
		if fr.Camera < 0 || fr.Camera >= len(f.Cameras) {
			return nil, nil, fmt.Errorf("frame %d: camera %d out of range", i, fr.Camera)
		}
		if fr.Width <= 0 || fr.Height <= 0 {
			return nil, nil, fmt.Errorf("frame %d: invalid size %dx%d", i, fr.Width, fr.Height)
		}
		pose, err := fr.pose()
		if err != nil {
			return nil, nil, fmt.Errorf("frame %d: %w", i, err)
		}
		poses = append(poses, pose.Row()...)

		name := fr.Name
		if name == "" {
			name = fmt.Sprintf("frame_%04d", i)
		}
		frames[i] = camera.ImageInfo{
			Name:        name,
			CameraIndex: fr.Camera,
			ImageIndex:  i,
			W:           fr.Width,
			H:           fr.Height,
			Crop:        fr.crop(),
		}
		if !frames[i].Crop.Valid() {
			return nil, nil, fmt.Errorf("frame %d: degenerate crop", i)
		}
	}

	s, err := New(
		PointCloud{Positions: tensor.New(pos, n, 3)},
		tex,
		tensor.New(poses, len(f.Frames), camera.PoseParams),
		tensor.New(intr, len(f.Cameras), camera.IntrinsicsParams),
	)
	if err != nil {
		return nil, nil, err
	}

	if f.Env != nil {
		if resolver == nil {
			return nil, nil, fmt.Errorf("environment %q: no resolver", f.Env.Texture)
		}
		m, err := resolver.Environment(f.Env.Texture, c, f.Env.Log)
		if err != nil {
			return nil, nil, fmt.Errorf("environment %q: %w", f.Env.Texture, err)
		}
		s.SetEnvironment(m)
	}
	if o := f.Outliers; o != nil && o.Count > 0 {
		if err := s.BuildOutlierCloud(o.Count, o.Radius, o.Seed); err != nil {
			return nil, nil, err
		}
	}
	return s, frames, nil
}

func (fr FrameEntry) pose() (camera.Pose, error) {
	set := 0
	for _, ok := range []bool{fr.Quat != nil, fr.Euler != nil, fr.LookAt != nil} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return camera.Pose{}, fmt.Errorf("set only one of quat, euler and look_at")
	}

	switch {
	case fr.Quat != nil:
		q := mathutil.Quat(*fr.Quat).Normalize()
		return camera.Pose{Q: q, T: fr.Translation}, nil
	case fr.Euler != nil:
		e := *fr.Euler
		q := mathutil.EulerToQuat(mathutil.Deg2Rad(e[0]), mathutil.Deg2Rad(e[1]), mathutil.Deg2Rad(e[2]))
		return camera.Pose{Q: q, T: fr.Translation}, nil
	case fr.LookAt != nil:
		r, t := mathutil.LookAt(fr.LookAt.Eye, fr.LookAt.Target, fr.LookAt.Up)
		return camera.Pose{Q: mathutil.Mat3ToQuat(r), T: t}, nil
	}
	return camera.Pose{Q: mathutil.QuatIdentity(), T: fr.Translation}, nil
}

func (fr FrameEntry) crop() camera.CropTransform {
	if fr.Crop == nil {
		return camera.Identity()
	}
	c := camera.CropTransform{
		ScaleX:  fr.Crop.ScaleX,
		ScaleY:  fr.Crop.ScaleY,
		OffsetX: fr.Crop.OffsetX,
		OffsetY: fr.Crop.OffsetY,
	}
	if c.ScaleX == 0 {
		c.ScaleX = 1
	}
	if c.ScaleY == 0 {
		c.ScaleY = 1
	}
	return c
}
