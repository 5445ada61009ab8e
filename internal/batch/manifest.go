package batch

import (
	"encoding/json"
	"os"

	"neural-point-renderer/internal/camera"
)

// ManifestEntry represents one frame in the output manifest.
type ManifestEntry struct {
	Name   string   `json:"name"`
	Image  int      `json:"image_index"`
	Camera int      `json:"camera_index"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Files  []string `json:"files"`
	Error  string   `json:"error,omitempty"`
}

// WriteManifest writes the manifest of a finished run to path.
func WriteManifest(path string, frames []camera.ImageInfo, results []Result) error {
	entries := make([]ManifestEntry, len(frames))
	for i, f := range frames {
		entries[i] = ManifestEntry{
			Name:   f.Name,
			Image:  f.ImageIndex,
			Camera: f.CameraIndex,
			Width:  f.W,
			Height: f.H,
		}
		if i < len(results) {
			entries[i].Files = results[i].Files
			entries[i].Error = results[i].Error
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
