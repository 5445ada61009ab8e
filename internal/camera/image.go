package camera

// ImageInfo describes one image of a render batch.
type ImageInfo struct {
	Name        string
	CameraIndex int // row of the intrinsics table
	ImageIndex  int // row of the pose table
	W, H        int
	Crop        CropTransform
}

// SuperSampled returns a copy rendering the same window at twice the
// linear resolution.
func (i ImageInfo) SuperSampled() ImageInfo {
	i.W *= 2
	i.H *= 2
	i.Crop = i.Crop.Scale(2)
	return i
}

// CloneBatch returns an independent copy of a batch of descriptors.
func CloneBatch(batch []ImageInfo) []ImageInfo {
	return append([]ImageInfo(nil), batch...)
}
