package scene

import (
	"neural-point-renderer/internal/optim"
)

// LearningRates configures one optimizer per group. A rate of zero keeps
// the group frozen.
type LearningRates struct {
	Structure   float64
	Texture     float64
	Camera      float64
	Environment float64

	// DecayFactor multiplies every rate each DecayEpochs epochs.
	DecayFactor float64
	DecayEpochs int
}

func (lr LearningRates) rate(g Group) float64 {
	switch g {
	case Structure:
		return lr.Structure
	case Appearance:
		return lr.Texture
	case Camera:
		return lr.Camera
	default:
		return lr.Environment
	}
}

// SetupOptimizers creates an optimizer for every group with a positive
// rate and enables its gradients. Camera parameters use momentum SGD, the
// other groups Adam.
func (s *NeuralScene) SetupOptimizers(lr LearningRates) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for g := range numGroups {
		rate := lr.rate(g)
		s.optimizers[g] = nil
		s.schedules[g] = optim.Schedule{Base: rate, Factor: lr.DecayFactor, Epochs: lr.DecayEpochs}
		params := s.Params(g)
		if rate <= 0 || len(params) == 0 {
			s.Train(g, false)
			continue
		}
		s.Train(g, true)
		if g == Camera {
			s.optimizers[g] = optim.NewSGD(params, rate, 0.9)
		} else {
			s.optimizers[g] = optim.NewAdam(params, rate)
		}
	}
}

// OptimizerStep applies the accumulated gradients and clears them. With
// structureOnly set only the point positions move.
func (s *NeuralScene) OptimizerStep(structureOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for g, opt := range s.optimizers {
		if opt == nil || (structureOnly && Group(g) != Structure) {
			continue
		}
		opt.Step()
	}
	for _, opt := range s.optimizers {
		if opt != nil {
			opt.ZeroGrad()
		}
	}
}

// UpdateLearningRate sets every optimizer to its scheduled rate for epoch,
// scaled by factor.
func (s *NeuralScene) UpdateLearningRate(epoch int, factor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for g, opt := range s.optimizers {
		if opt != nil {
			opt.SetLR(s.schedules[g].LR(epoch) * factor)
		}
	}
}

// LearningRate returns the current rate of group g, or 0 when it has no
// optimizer.
func (s *NeuralScene) LearningRate(g Group) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if opt := s.optimizers[g]; opt != nil {
		return opt.LR()
	}
	return 0
}
