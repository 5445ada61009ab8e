package main

import (
	"fmt"
	"math"
	"os"

	"neural-point-renderer/internal/camera"
	"neural-point-renderer/internal/render"
	"neural-point-renderer/internal/scene"
	"neural-point-renderer/internal/texture"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: inspect <scene.json> [environment_dir]")
		os.Exit(2)
	}
	envDir := ""
	if len(os.Args) > 2 {
		envDir = os.Args[2]
	}

	s, frames, err := scene.Load(os.Args[1], texture.NewCache(texture.BuildIndex(envDir)))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	n := s.PointCloud.Len()
	fmt.Printf("Points: %d, Channels: %d, Confidence: %v\n", n, s.Channels(), s.Texture.Confidence != nil)
	if n > 0 {
		lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
		hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
		pos := s.PointCloud.Positions.Data()
		for i := 0; i < n; i++ {
			for a := 0; a < 3; a++ {
				v := float64(pos[3*i+a])
				lo[a] = math.Min(lo[a], v)
				hi[a] = math.Max(hi[a], v)
			}
		}
		fmt.Printf("  BBox: X[%.2f, %.2f] Y[%.2f, %.2f] Z[%.2f, %.2f]\n", lo[0], hi[0], lo[1], hi[1], lo[2], hi[2])
	}
	if s.OutlierCloud != nil {
		fmt.Printf("Outliers: %d\n", s.OutlierCloud.Len())
	}
	if s.HasEnvironment() {
		t := s.Environment.Texture
		fmt.Printf("Environment: %dx%d, %d channels, log=%v\n", t.Size(2), t.Size(1), t.Size(0), s.Environment.LogTexture)
	}

	fmt.Printf("Cameras: %d\n", s.NumCameras())
	for i, k := range s.DownloadIntrinsics() {
		fmt.Printf("  [%d] fx=%.1f fy=%.1f cx=%.1f cy=%.1f\n", i, k.Fx, k.Fy, k.Cx, k.Cy)
	}

	// Render every frame once to count visible points.
	p := render.DefaultParams()
	p.OutputBackgroundMask = true
	m, err := render.NewModule(p)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	poses := s.DownloadPoses()
	fmt.Printf("Frames: %d\n", len(frames))
	for _, f := range frames {
		_, masks, err := m.Forward(s, []camera.ImageInfo{f})
		if err != nil {
			fmt.Printf("  %s: %v\n", f.Name, err)
			continue
		}
		var coverage float64
		for _, v := range masks[0].Data() {
			coverage += float64(v)
		}
		coverage /= float64(f.W * f.H)
		st := m.CacheStats()
		t := poses[f.ImageIndex].T
		fmt.Printf("  %s: camera=%d %dx%d t=(%.2f, %.2f, %.2f) visible=%d coverage=%.1f%%\n",
			f.Name, f.CameraIndex, f.W, f.H, t[0], t[1], t[2], st.Visible, 100*coverage)
	}
}
