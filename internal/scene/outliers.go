package scene

import (
	"math"
	"math/rand/v2"

	"neural-point-renderer/internal/tensor"
)

// BuildOutlierCloud places n points uniformly on a sphere of the given
// radius around the centroid of the main cloud. They carry zero features
// and full confidence, and model geometry the main cloud lacks (sky,
// distant background) once trained.
func (s *NeuralScene) BuildOutlierCloud(n int, radius float64, seed uint64) error {
	var centre [3]float64
	pos := s.PointCloud.Positions.Data()
	if m := s.PointCloud.Len(); m > 0 {
		for i := 0; i < m; i++ {
			for a := 0; a < 3; a++ {
				centre[a] += float64(pos[3*i+a])
			}
		}
		for a := range centre {
			centre[a] /= float64(m)
		}
	}

	rng := rand.New(rand.NewPCG(seed, 0x6f75746c))
	out := make([]float32, 3*n)
	for i := 0; i < n; i++ {
		z := 2*rng.Float64() - 1
		phi := 2 * math.Pi * rng.Float64()
		r := math.Sqrt(1 - z*z)
		dir := [3]float64{r * math.Cos(phi), r * math.Sin(phi), z}
		for a := 0; a < 3; a++ {
			out[3*i+a] = float32(centre[a] + radius*dir[a])
		}
	}

	c := s.Channels()
	conf := make([]float32, n)
	for i := range conf {
		conf[i] = 1
	}
	return s.SetOutliers(
		PointCloud{Positions: tensor.New(out, n, 3)},
		Texture{
			Features:   tensor.New(make([]float32, n*c), n, c),
			Confidence: tensor.New(conf, n, 1),
		},
	)
}
