package optim

import (
	"math"
	"testing"

	"neural-point-renderer/internal/tensor"
)

func fit(t *testing.T, opt Optimizer, p *tensor.Tensor, steps int) (first, last float32) {
	t.Helper()
	target := tensor.New([]float32{1, -2, 0.5, 3}, 4)
	for i := 0; i < steps; i++ {
		opt.ZeroGrad()
		loss := tensor.MSE(p, target)
		tensor.Backward(loss, nil)
		opt.Step()
		if i == 0 {
			first = loss.Data()[0]
		}
		last = loss.Data()[0]
	}
	return first, last
}

func TestOptimizersReduceLoss(t *testing.T) {
	tests := []struct {
		name string
		new  func(p *tensor.Tensor) Optimizer
	}{
		{"sgd", func(p *tensor.Tensor) Optimizer { return NewSGD([]*tensor.Tensor{p}, 0.5, 0) }},
		{"sgd-momentum", func(p *tensor.Tensor) Optimizer { return NewSGD([]*tensor.Tensor{p}, 0.1, 0.9) }},
		{"adam", func(p *tensor.Tensor) Optimizer { return NewAdam([]*tensor.Tensor{p}, 0.1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tensor.Param(make([]float32, 4), 4)
			first, last := fit(t, tt.new(p), p, 200)
			if !(last < first*0.01) {
				t.Fatalf("loss %v -> %v", first, last)
			}
		})
	}
}

func TestStepSkipsFrozen(t *testing.T) {
	p := tensor.New([]float32{1, 2}, 2)
	opt := NewAdam([]*tensor.Tensor{p}, 1)
	opt.Step()
	if p.Data()[0] != 1 || p.Data()[1] != 2 {
		t.Fatalf("frozen tensor moved: %v", p.Data())
	}
}

func TestSetLR(t *testing.T) {
	var opt Optimizer = NewSGD(nil, 0.1, 0)
	opt.SetLR(0.02)
	if opt.LR() != 0.02 {
		t.Fatalf("LR = %v", opt.LR())
	}
}

func TestSchedule(t *testing.T) {
	s := Schedule{Base: 1, Factor: 0.5, Epochs: 10}
	tests := []struct {
		epoch int
		want  float64
	}{
		{0, 1}, {9, 1}, {10, 0.5}, {25, 0.25},
	}
	for _, tt := range tests {
		if got := s.LR(tt.epoch); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("LR(%d) = %v, want %v", tt.epoch, got, tt.want)
		}
	}
	if got := (Schedule{Base: 3}).LR(100); got != 3 {
		t.Errorf("constant schedule = %v", got)
	}
}
