// Package batch renders every frame of a scene on a worker pool and writes
// per-layer previews.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HugoSmits86/nativewebp"
	"github.com/mrjoshuak/go-openexr/exr"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/postprocess"
	"neural-point-renderer/internal/render"
	"neural-point-renderer/internal/scene"
	"neural-point-renderer/internal/tensor"
)

// Config holds all shared resources for a batch run.
type Config struct {
	Scene     *scene.NeuralScene
	Frames    []camera.ImageInfo
	Params    render.Params
	OutputDir string

	// BatchSize is the number of frames per forward pass.
	BatchSize int
	Workers   int

	// PreviewSize bounds the longer preview side; 0 keeps the render size.
	PreviewSize int
	Preview     postprocess.PreviewOptions
	WriteEXR    bool

	// Quiet disables progress output.
	Quiet bool
}

// Result holds the outcome of rendering one frame.
type Result struct {
	Name    string
	Frame   int
	Files   []string // relative to the output directory
	Success bool
	Error   string
}

// job is a run of frames that share a resolution.
type job struct {
	frames []int
}

// Run renders all frames using a worker pool. It fails only when the render
// configuration is invalid; per-frame failures are reported in the results.
func Run(cfg Config) ([]Result, error) {
	if cfg.Scene.HasEnvironment() && !cfg.Params.OutputBackgroundMask {
		return nil, render.ErrEnvironmentNeedsMask
	}

	total := len(cfg.Frames)
	results := make([]Result, total)
	jobs := plan(cfg.Frames, cfg.BatchSize)
	workers := max(1, min(cfg.Workers, len(jobs)))
	var processed atomic.Int64

	// One render module per worker, built before any worker starts.
	modules := make([]*render.Module, workers)
	for w := range modules {
		m, err := render.NewModule(cfg.Params)
		if err != nil {
			return nil, err
		}
		modules[w] = m
	}

	start := time.Now()

	// Progress reporter
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p := processed.Load()
				if p > 0 && !cfg.Quiet {
					elapsed := time.Since(start).Seconds()
					rate := float64(p) / elapsed
					fmt.Printf("  [%d/%d] %.1f frames/sec\n", p, total, rate)
				}
			}
		}
	}()

	// Worker pool
	jobChan := make(chan job, workers*2)
	var wg sync.WaitGroup

	for _, m := range modules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobChan {
				processJob(cfg, m, j, results)
				processed.Add(int64(len(j.frames)))
			}
		}()
	}

	// Send work
	for _, j := range jobs {
		jobChan <- j
	}
	close(jobChan)

	wg.Wait()
	close(done)

	return results, nil
}

// plan groups consecutive frames of equal resolution into jobs of at most
// size frames.
func plan(frames []camera.ImageInfo, size int) []job {
	if size <= 0 {
		size = 1
	}
	var jobs []job
	var cur job
	for i, f := range frames {
		if len(cur.frames) > 0 {
			first := frames[cur.frames[0]]
			if len(cur.frames) == size || first.W != f.W || first.H != f.H {
				jobs = append(jobs, cur)
				cur = job{}
			}
		}
		cur.frames = append(cur.frames, i)
	}
	if len(cur.frames) > 0 {
		jobs = append(jobs, cur)
	}
	return jobs
}

func processJob(cfg Config, m *render.Module, j job, results []Result) {
	batch := make([]camera.ImageInfo, len(j.frames))
	for i, fi := range j.frames {
		batch[i] = cfg.Frames[fi]
	}

	cfg.Scene.RLock()
	images, masks, err := m.Forward(cfg.Scene, batch)
	cfg.Scene.RUnlock()

	if err != nil {
		for _, fi := range j.frames {
			results[fi] = Result{Name: cfg.Frames[fi].Name, Frame: fi, Error: err.Error()}
		}
		return
	}

	// With the environment composited behind the points the images are
	// opaque, so masks are not used as alpha.
	opaque := cfg.Scene.HasEnvironment() && !cfg.Params.CatEnvToColor

	for b, fi := range j.frames {
		res := Result{Name: cfg.Frames[fi].Name, Frame: fi}
		for l, img := range images {
			var mask *tensor.Tensor
			if masks != nil && !opaque {
				mask = masks[l]
			}
			files, err := writeLayer(cfg, res.Name, l, img, mask, b)
			if err != nil {
				res.Error = err.Error()
				break
			}
			res.Files = append(res.Files, files...)
		}
		res.Success = res.Error == ""
		results[fi] = res
	}
}

func writeLayer(cfg Config, name string, l int, img, mask *tensor.Tensor, b int) ([]string, error) {
	dir := filepath.Join(cfg.OutputDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	preview := postprocess.Preview(img, mask, b, cfg.Preview)
	bounds := preview.Bounds()
	w, h := postprocess.FitSize(bounds.Dx(), bounds.Dy(), cfg.PreviewSize)
	preview = postprocess.Resize(preview, w, h)

	rel := filepath.Join(name, fmt.Sprintf("layer_%d.webp", l))
	f, err := os.Create(filepath.Join(cfg.OutputDir, rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := nativewebp.Encode(f, preview, nil); err != nil {
		return nil, fmt.Errorf("WebP encode: %v", err)
	}
	files := []string{filepath.ToSlash(rel)}

	if cfg.WriteEXR {
		relEXR := filepath.Join(name, fmt.Sprintf("layer_%d.exr", l))
		if err := exr.EncodeFile(filepath.Join(cfg.OutputDir, relEXR), postprocess.EXR(img, mask, b)); err != nil {
			return nil, fmt.Errorf("EXR encode: %v", err)
		}
		files = append(files, filepath.ToSlash(relEXR))
	}
	return files, nil
}
