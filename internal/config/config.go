package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"neural-point-renderer/internal/render"
	"neural-point-renderer/internal/scene"
)

// Config holds all configurable paths, renderer and output settings.
type Config struct {
	// Paths
	BaseDir        string `json:"base_dir"`
	Scene          string `json:"scene"`
	EnvironmentDir string `json:"environment_dir"`
	OutputDir      string `json:"output_dir"`

	Render    RenderParams    `json:"render"`
	Pipeline  PipelineParams  `json:"pipeline"`
	Optimizer OptimizerParams `json:"optimizer"`

	// Output settings
	PreviewSize int     `json:"preview_size"`
	WriteEXR    bool    `json:"write_exr"`
	Tonemap     bool    `json:"tonemap"`
	Exposure    float64 `json:"exposure"`
	Despeckle   float64 `json:"despeckle"`
	BatchSize   int     `json:"batch_size"`
	Workers     int     `json:"workers"`
}

// RenderParams configure point blending.
type RenderParams struct {
	NumLayers     int     `json:"num_layers"`
	SuperSampling bool    `json:"super_sampling"`
	Dropout       float64 `json:"dropout"`
	// OutputBackgroundMask defaults to true when omitted.
	OutputBackgroundMask *bool   `json:"output_background_mask"`
	PointSigma           float64 `json:"point_sigma"`
	ZNear                float64 `json:"z_near"`
	Seed                 uint64  `json:"seed"`
}

// PipelineParams configure how layers are assembled.
type PipelineParams struct {
	CatEnvToColor   bool `json:"cat_env_to_color"`
	CatMasksToColor bool `json:"cat_masks_to_color"`
}

// OptimizerParams hold per-group learning rates.
type OptimizerParams struct {
	TextureLR     float64 `json:"texture_lr"`
	StructureLR   float64 `json:"structure_lr"`
	CameraLR      float64 `json:"camera_lr"`
	EnvironmentLR float64 `json:"environment_lr"`
	DecayFactor   float64 `json:"lr_decay_factor"`
	DecayEpochs   int     `json:"lr_decay_epochs"`
}

// ErrInvalid reports a setting outside its valid range.
var ErrInvalid = errors.New("config: invalid setting")

// Load reads a JSON config file and returns Config.
// Fields not set in the file keep their zero values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Flags holds CLI flag values that override config file settings.
type Flags struct {
	DataDir       string
	Scene         string
	OutputDir     string
	Layers        int
	SuperSampling bool
	WriteEXR      bool
	BatchSize     int
	Workers       int
}

// Resolve fills in any empty fields with defaults.
// CLI flags take priority when non-zero/non-empty.
func (c *Config) Resolve(flags Flags) {
	// CLI flags override config file
	if flags.DataDir != "" {
		c.BaseDir = flags.DataDir
	}
	if flags.Scene != "" {
		c.Scene = flags.Scene
	}
	if flags.OutputDir != "" {
		c.OutputDir = flags.OutputDir
	}
	if flags.Layers > 0 {
		c.Render.NumLayers = flags.Layers
	}
	if flags.SuperSampling {
		c.Render.SuperSampling = true
	}
	if flags.WriteEXR {
		c.WriteEXR = true
	}
	if flags.BatchSize > 0 {
		c.BatchSize = flags.BatchSize
	}
	if flags.Workers > 0 {
		c.Workers = flags.Workers
	}

	// Auto-detect base dir if still empty
	if c.BaseDir == "" {
		c.BaseDir = detectBaseDir()
	}

	// Resolve relative paths against base dir
	c.Scene = resolvePath(c.BaseDir, c.Scene, "scene.json")
	c.EnvironmentDir = resolvePath(c.BaseDir, c.EnvironmentDir, "environments")
	c.OutputDir = resolvePath(c.BaseDir, c.OutputDir, "renders")

	// Defaults for render settings
	if c.Render.NumLayers <= 0 {
		c.Render.NumLayers = 1
	}
	if c.Render.OutputBackgroundMask == nil {
		on := true
		c.Render.OutputBackgroundMask = &on
	}
	if c.Render.PointSigma <= 0 {
		c.Render.PointSigma = 0.75
	}
	if c.Render.ZNear <= 0 {
		c.Render.ZNear = 0.01
	}
	if c.Exposure <= 0 {
		c.Exposure = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
}

// Validate reports settings that cannot be rendered.
func (c *Config) Validate() error {
	if c.Render.Dropout < 0 || c.Render.Dropout > 1 {
		return fmt.Errorf("%w: dropout %v outside [0,1]", ErrInvalid, c.Render.Dropout)
	}
	if c.Despeckle < 0 || c.Despeckle >= 1 {
		return fmt.Errorf("%w: despeckle %v outside [0,1)", ErrInvalid, c.Despeckle)
	}
	if c.PreviewSize < 0 {
		return fmt.Errorf("%w: preview_size %d", ErrInvalid, c.PreviewSize)
	}
	return nil
}

// ModuleParams returns the renderer configuration. Resolve must have run.
func (c *Config) ModuleParams() render.Params {
	return render.Params{
		NumLayers:            c.Render.NumLayers,
		SuperSampling:        c.Render.SuperSampling,
		Dropout:              c.Render.Dropout,
		OutputBackgroundMask: c.Render.OutputBackgroundMask != nil && *c.Render.OutputBackgroundMask,
		CatEnvToColor:        c.Pipeline.CatEnvToColor,
		CatMasksToColor:      c.Pipeline.CatMasksToColor,
		PointSigma:           c.Render.PointSigma,
		ZNear:                c.Render.ZNear,
		Seed:                 c.Render.Seed,
		Workers:              c.blendWorkers(),
	}
}

// blendWorkers keeps each blend single-threaded when batches already run
// on several workers.
func (c *Config) blendWorkers() int {
	if c.Workers <= 1 {
		return 0
	}
	return 1
}

// LearningRates returns the per-group optimizer settings.
func (c *Config) LearningRates() scene.LearningRates {
	return scene.LearningRates{
		Structure:   c.Optimizer.StructureLR,
		Texture:     c.Optimizer.TextureLR,
		Camera:      c.Optimizer.CameraLR,
		Environment: c.Optimizer.EnvironmentLR,
		DecayFactor: c.Optimizer.DecayFactor,
		DecayEpochs: c.Optimizer.DecayEpochs,
	}
}

func resolvePath(base, p, def string) string {
	if p == "" {
		p = def
	}
	if base == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func detectBaseDir() string {
	// Try relative to executable
	exe, _ := os.Executable()
	if exe != "" {
		dir := filepath.Dir(exe)
		for _, base := range []string{dir, filepath.Dir(dir)} {
			if _, err := os.Stat(filepath.Join(base, "scene.json")); err == nil {
				return base
			}
		}
	}

	// Try current working directory
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, "scene.json")); err == nil {
		return cwd
	}

	return ""
}
