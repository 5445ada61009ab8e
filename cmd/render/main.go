package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"neural-point-renderer/internal/batch"
	"neural-point-renderer/internal/config"
	"neural-point-renderer/internal/postprocess"
	"neural-point-renderer/internal/render"
	"neural-point-renderer/internal/scene"
	"neural-point-renderer/internal/texture"
)

func main() {
	// CLI flags
	configFile := flag.String("config", "", "Path to config.json file")
	testN := flag.Int("test", 0, "Render only first N frames for testing")
	frameName := flag.String("frame", "", "Render only the frame with this name")
	dataDir := flag.String("data", "", "Base directory for relative paths (default: auto-detect)")
	sceneFile := flag.String("scene", "", "Scene JSON (default: scene.json)")
	outputDir := flag.String("output", "", "Output directory (default: renders)")
	layers := flag.Int("layers", 0, "Number of depth layers (default: 1)")
	superSample := flag.Bool("supersample", false, "Render at 2x and average down")
	writeEXR := flag.Bool("exr", false, "Also write linear OpenEXR layers")
	batchSize := flag.Int("batch", 0, "Frames per forward pass (default: 4)")
	workers := flag.Int("workers", 0, "Number of worker goroutines (default: NumCPU)")
	verbose := flag.Bool("v", false, "Log renderer diagnostics to stderr")

	flag.Parse()

	if *verbose {
		render.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	// Load config
	var cfg config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI flags override config file
	cfg.Resolve(config.Flags{
		DataDir:       *dataDir,
		Scene:         *sceneFile,
		OutputDir:     *outputDir,
		Layers:        *layers,
		SuperSampling: *superSample,
		WriteEXR:      *writeEXR,
		BatchSize:     *batchSize,
		Workers:       *workers,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Build environment map index
	envIndex := texture.BuildIndex(cfg.EnvironmentDir)
	envCache := texture.NewCache(envIndex)
	fmt.Printf("Environment maps: %d indexed\n", envIndex.Len())

	// Load scene
	s, frames, err := scene.Load(cfg.Scene, envCache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading scene: %v\n", err)
		os.Exit(1)
	}

	// Filter by name
	if *frameName != "" {
		filtered := frames[:0]
		for _, f := range frames {
			if f.Name == *frameName {
				filtered = append(filtered, f)
			}
		}
		frames = filtered
	}

	// Limit for testing
	if *testN > 0 && *testN < len(frames) {
		frames = frames[:*testN]
	}

	if len(frames) == 0 {
		fmt.Println("No frames to render.")
		os.Exit(0)
	}

	params := cfg.ModuleParams()

	// Print summary
	fmt.Println("Neural point scene → WebP")
	fmt.Printf("Points: %d, Channels: %d, Environment: %v\n", s.PointCloud.Len(), s.Channels(), s.HasEnvironment())
	fmt.Printf("Frames: %d, Layers: %d, Supersample: %v, Workers: %d\n", len(frames), params.NumLayers, params.SuperSampling, cfg.Workers)
	fmt.Printf("Output: %s\n", cfg.OutputDir)
	fmt.Println("------------------------------------------------------------")

	start := time.Now()

	// Run batch
	results, err := batch.Run(batch.Config{
		Scene:       s,
		Frames:      frames,
		Params:      params,
		OutputDir:   cfg.OutputDir,
		BatchSize:   cfg.BatchSize,
		Workers:     cfg.Workers,
		PreviewSize: cfg.PreviewSize,
		Preview: postprocess.PreviewOptions{
			Exposure:        cfg.Exposure,
			Tonemap:         cfg.Tonemap,
			MinClusterRatio: cfg.Despeckle,
		},
		WriteEXR: cfg.WriteEXR,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	elapsed := time.Since(start)
	fmt.Println("------------------------------------------------------------")
	fmt.Printf("Done in %.1fs\n", elapsed.Seconds())

	// Count results
	success, failed := 0, 0
	var errors []batch.Result
	for _, r := range results {
		if r.Success {
			success++
		} else {
			failed++
			errors = append(errors, r)
		}
	}

	fmt.Printf("Rendered: %d/%d\n", success, len(frames))

	if len(errors) > 0 {
		fmt.Printf("\nFailed (%d):\n", failed)
		for _, e := range errors[:min(20, len(errors))] {
			fmt.Printf("  %s: %s\n", e.Name, e.Error)
		}
	}

	// Write manifest
	manifestPath := filepath.Join(cfg.OutputDir, "manifest.json")
	os.MkdirAll(cfg.OutputDir, 0755)
	if err := batch.WriteManifest(manifestPath, frames, results); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: manifest write failed: %v\n", err)
	} else {
		fmt.Printf("Manifest: %s\n", manifestPath)
	}

	if failed > 0 {
		os.Exit(1)
	}
}
