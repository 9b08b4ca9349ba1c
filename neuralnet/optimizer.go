package neuralnet

import (
	"errors"
	"fmt"
	"math"
)

// Param is one trainable tensor and its accumulated gradient, both flat views
// into the layer's storage.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
	Decay bool // weight decay / L2 applies
}

// Optimizer applies accumulated gradients to the parameters. step is the
// 0-based optimizer step and lr the learning rate for it.
type Optimizer interface {
	Apply(params []Param, lr float64, step int) error
}

// NewOptimizer returns the optimizer named in p.
func NewOptimizer(p Params) (Optimizer, error) {
	switch p.Optimizer {
	case "", "sgd":
		return &SGD{Momentum: p.MomentumCoefficient, L2: p.L2}, nil
	case "adamw":
		return &AdamW{Beta1: p.Beta1, Beta2: p.Beta2, Epsilon: p.Epsilon, WeightDecay: p.WeightDecay}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", p.Optimizer)
	}
}

// SGD implements stochastic gradient descent with classical momentum and L2.
type SGD struct {
	Momentum float64
	L2       float64

	velocities [][]float64
}

// Apply updates v = momentum*v - lr*(g + l2*w); w += v.
func (o *SGD) Apply(params []Param, lr float64, _ int) error {
	if lr < 0 {
		return errors.New("sgd: negative learning rate")
	}
	if o.velocities == nil {
		o.velocities = make([][]float64, len(params))
		for i, p := range params {
			o.velocities[i] = make([]float64, len(p.Value))
		}
	}
	if len(o.velocities) != len(params) {
		return fmt.Errorf("sgd: %d params, state for %d", len(params), len(o.velocities))
	}
	for i, p := range params {
		v := o.velocities[i]
		for k, w := range p.Value {
			g := p.Grad[k]
			if p.Decay {
				g += o.L2 * w
			}
			v[k] = o.Momentum*v[k] - lr*g
			p.Value[k] = w + v[k]
		}
	}
	return nil
}

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64

	m, v [][]float64
}

func (o *AdamW) Apply(params []Param, lr float64, step int) error {
	if lr < 0 {
		return errors.New("adamw: negative learning rate")
	}
	if o.m == nil {
		o.m = make([][]float64, len(params))
		o.v = make([][]float64, len(params))
		for i, p := range params {
			o.m[i] = make([]float64, len(p.Value))
			o.v[i] = make([]float64, len(p.Value))
		}
	}
	if len(o.m) != len(params) {
		return fmt.Errorf("adamw: %d params, state for %d", len(params), len(o.m))
	}
	t := float64(step + 1)
	c1 := 1 - math.Pow(o.Beta1, t)
	c2 := 1 - math.Pow(o.Beta2, t)
	for i, p := range params {
		m, v := o.m[i], o.v[i]
		for k, w := range p.Value {
			g := p.Grad[k]
			m[k] = o.Beta1*m[k] + (1-o.Beta1)*g
			v[k] = o.Beta2*v[k] + (1-o.Beta2)*g*g
			update := (m[k] / c1) / (math.Sqrt(v[k]/c2) + o.Epsilon)
			if p.Decay {
				update += o.WeightDecay * w
			}
			p.Value[k] = w - lr*update
		}
	}
	return nil
}
