// Package optim holds first-order optimizers over autograd tensors.
package optim

import (
	"math"

	"neural-point-renderer/internal/tensor"
)

// Optimizer updates a fixed set of parameters from their accumulated
// gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
}

// SGD is plain gradient descent with optional momentum.
type SGD struct {
	params   []*tensor.Tensor
	lr       float64
	momentum float64
	velocity [][]float32
}

// NewSGD returns an SGD optimizer over params.
func NewSGD(params []*tensor.Tensor, lr, momentum float64) *SGD {
	s := &SGD{params: params, lr: lr, momentum: momentum}
	for _, p := range params {
		s.velocity = append(s.velocity, make([]float32, p.Len()))
	}
	return s
}

func (s *SGD) Step() {
	for i, p := range s.params {
		g := p.Grad()
		if g == nil {
			continue
		}
		v := s.velocity[i]
		d := p.Data()
		for j := range d {
			v[j] = float32(s.momentum)*v[j] + g[j]
			d[j] -= float32(s.lr) * v[j]
		}
	}
}

func (s *SGD) ZeroGrad() { zeroGrad(s.params) }

func (s *SGD) LR() float64 { return s.lr }

func (s *SGD) SetLR(lr float64) { s.lr = lr }

// Adam implements Kingma & Ba with bias correction.
type Adam struct {
	params       []*tensor.Tensor
	lr           float64
	beta1, beta2 float64
	eps          float64
	step         int
	m, v         [][]float32
}

// NewAdam returns an Adam optimizer with the usual β1=0.9, β2=0.999.
func NewAdam(params []*tensor.Tensor, lr float64) *Adam {
	a := &Adam{params: params, lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range params {
		a.m = append(a.m, make([]float32, p.Len()))
		a.v = append(a.v, make([]float32, p.Len()))
	}
	return a
}

func (a *Adam) Step() {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for i, p := range a.params {
		g := p.Grad()
		if g == nil {
			continue
		}
		m, v, d := a.m[i], a.v[i], p.Data()
		for j := range d {
			gj := float64(g[j])
			mj := a.beta1*float64(m[j]) + (1-a.beta1)*gj
			vj := a.beta2*float64(v[j]) + (1-a.beta2)*gj*gj
			m[j], v[j] = float32(mj), float32(vj)
			d[j] -= float32(a.lr * (mj / c1) / (math.Sqrt(vj/c2) + a.eps))
		}
	}
}

func (a *Adam) ZeroGrad() { zeroGrad(a.params) }

func (a *Adam) LR() float64 { return a.lr }

func (a *Adam) SetLR(lr float64) { a.lr = lr }

func zeroGrad(params []*tensor.Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Schedule is a step decay: every Epochs epochs the learning rate is
// multiplied by Factor.
type Schedule struct {
	Base   float64
	Factor float64
	Epochs int
}

// LR returns the learning rate for epoch.
func (s Schedule) LR(epoch int) float64 {
	if s.Epochs <= 0 || s.Factor <= 0 {
		return s.Base
	}
	return s.Base * math.Pow(s.Factor, float64(epoch/s.Epochs))
}
