package batch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrjoshuak/go-openexr/exr"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/envmap"
	"neural-point-renderer/internal/render"
	"neural-point-renderer/internal/scene"
)

func testScene(t *testing.T) (*scene.NeuralScene, []camera.ImageInfo) {
	t.Helper()
	f := scene.File{
		Points:   [][3]float32{{0, 0, 0}, {0.3, 0.2, 0}, {-0.2, 0.1, 0.5}},
		Features: [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Cameras:  []scene.CameraEntry{{Fx: 10, Fy: 10, Cx: 8, Cy: 8}},
		Frames: []scene.FrameEntry{
			{Name: "a", Width: 16, Height: 16, Translation: [3]float64{0, 0, 5}},
			{Name: "b", Width: 16, Height: 16, Translation: [3]float64{0.5, 0, 5}},
			{Name: "c", Width: 8, Height: 8, Translation: [3]float64{0, 0, 4}},
		},
	}
	s, frames, err := f.Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	return s, frames
}

func TestPlanGroupsByResolution(t *testing.T) {
	frames := []camera.ImageInfo{
		{W: 4, H: 4}, {W: 4, H: 4}, {W: 4, H: 4}, {W: 8, H: 4}, {W: 4, H: 4},
	}
	jobs := plan(frames, 2)
	want := [][]int{{0, 1}, {2}, {3}, {4}}
	if len(jobs) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(jobs), len(want))
	}
	for i, j := range jobs {
		if len(j.frames) != len(want[i]) {
			t.Fatalf("job %d = %v, want %v", i, j.frames, want[i])
		}
		for k := range j.frames {
			if j.frames[k] != want[i][k] {
				t.Fatalf("job %d = %v, want %v", i, j.frames, want[i])
			}
		}
	}
	if len(plan(nil, 3)) != 0 {
		t.Fatal("jobs for no frames")
	}
}

func TestRunWritesLayers(t *testing.T) {
	s, frames := testScene(t)
	out := t.TempDir()
	p := render.DefaultParams()
	p.NumLayers = 2

	results, err := Run(Config{
		Scene:       s,
		Frames:      frames,
		Params:      p,
		OutputDir:   out,
		BatchSize:   2,
		Workers:     2,
		PreviewSize: 12,
		WriteEXR:    true,
		Quiet:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if !r.Success || r.Frame != i || r.Name != frames[i].Name {
			t.Fatalf("result %d = %+v", i, r)
		}
		if len(r.Files) != 4 {
			t.Fatalf("frame %s wrote %v", r.Name, r.Files)
		}
		for _, f := range r.Files {
			info, err := os.Stat(filepath.Join(out, f))
			if err != nil || info.Size() == 0 {
				t.Fatalf("missing output %s: %v", f, err)
			}
		}
	}

	img, err := exr.DecodeFile(filepath.Join(out, "c", "layer_0.exr"))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("EXR bounds %v", b)
	}

	manifest := filepath.Join(out, "manifest.json")
	if err := WriteManifest(manifest, frames, results); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(manifest)
	if err != nil {
		t.Fatal(err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[2].Width != 8 || entries[1].Files[0] != "b/layer_0.webp" {
		t.Fatalf("manifest = %+v", entries)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	s, frames := testScene(t)
	s.SetEnvironment(envmap.New(3, 4, 8, false))
	p := render.DefaultParams()
	p.OutputBackgroundMask = false
	if _, err := Run(Config{Scene: s, Frames: frames, Params: p, OutputDir: t.TempDir(), Quiet: true}); !errors.Is(err, render.ErrEnvironmentNeedsMask) {
		t.Fatalf("err = %v", err)
	}
	if _, err := Run(Config{Scene: s, Frames: frames, Params: render.Params{}, Quiet: true}); !errors.Is(err, render.ErrLayers) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunFailsBeforeStartingWorkers(t *testing.T) {
	s, frames := testScene(t)
	out := t.TempDir()
	p := render.DefaultParams()
	p.OutputBackgroundMask = false
	p.CatMasksToColor = true

	results, err := Run(Config{Scene: s, Frames: frames, Params: p, OutputDir: out, BatchSize: 1, Workers: 3, Quiet: true})
	if !errors.Is(err, render.ErrMasksDisabled) {
		t.Fatalf("err = %v, want ErrMasksDisabled", err)
	}
	if results != nil {
		t.Fatalf("results = %+v, want none", results)
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("output written for an invalid config: %v", entries)
	}
}
