// Package neuralnet is an in-process trainable dense network. It implements
// session.Session so the training loop can drive it like any other runtime.
package neuralnet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"imgtrain/domain"
	"imgtrain/session"
)

// Layer is a dense layer: output = activation(Weights·input + Bias).
type Layer struct {
	Weights    *mat.Dense // out x in
	Bias       *mat.VecDense
	WeightGrad *mat.Dense
	BiasGrad   *mat.VecDense

	activation ActivationFunction

	// saved by the last forward pass
	input *mat.VecDense
	pre   *mat.VecDense
}

func (l *Layer) size() (out, in int) {
	return l.Weights.Dims()
}

// NeuralNetwork is a stack of dense layers with its own optimizer state.
type NeuralNetwork struct {
	Layers []*Layer
	Params Params

	desc      Description
	optimizer Optimizer
	step      int // global, drives the learning-rate schedule
	applied   int // steps taken by this optimizer instance
	forwarded bool
}

var (
	_ session.Session      = (*NeuralNetwork)(nil)
	_ session.LossOperator = (*NeuralNetwork)(nil)
)

// NewNeuralNetwork builds a network from desc with Xavier-normal weights
// drawn from a source seeded with desc.Seed, and zero biases.
func NewNeuralNetwork(desc Description, params Params) (*NeuralNetwork, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	opt, err := NewOptimizer(params)
	if err != nil {
		return nil, err
	}
	hidden, _ := ParseActivation(desc.Activation)
	output, _ := ParseActivation(desc.OutputActivation)

	src := rand.NewSource(uint64(desc.Seed))
	sizes := desc.Sizes()
	nn := &NeuralNetwork{
		Layers:    make([]*Layer, len(sizes)-1),
		Params:    params,
		desc:      desc,
		optimizer: opt,
	}
	for i := range nn.Layers {
		in, out := sizes[i], sizes[i+1]
		dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2.0 / float64(in+out)), Src: src}
		weights := make([]float64, out*in)
		for k := range weights {
			weights[k] = dist.Rand()
		}
		act := hidden
		if i == len(nn.Layers)-1 {
			act = output
		}
		nn.Layers[i] = &Layer{
			Weights:    mat.NewDense(out, in, weights),
			Bias:       mat.NewVecDense(out, nil),
			WeightGrad: mat.NewDense(out, in, nil),
			BiasGrad:   mat.NewVecDense(out, nil),
			activation: act,
		}
	}
	return nn, nil
}

// Description returns the architecture the network was built from.
func (nn *NeuralNetwork) Description() Description {
	return nn.desc
}

// Step is the number of optimizer steps taken so far.
func (nn *NeuralNetwork) Step() int {
	return nn.step
}

// Forward runs input through every layer and keeps the intermediate values
// for Backward.
func (nn *NeuralNetwork) Forward(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	const op = "neuralnet.forward"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, domain.Errorf(op, domain.KindShapeMismatch, "nil input")
	}
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, domain.Errorf(op, domain.KindShapeMismatch, "want float32 input, got %v", input.Dtype())
	}
	if want := nn.desc.InputSize(); len(data) != want {
		return nil, domain.Errorf(op, domain.KindShapeMismatch, "input %v has %d values, model expects %v", input.Shape(), len(data), nn.desc.Input)
	}

	x := mat.NewVecDense(len(data), nil)
	for i, v := range data {
		x.SetVec(i, float64(v))
	}
	x = nn.forward(x)
	nn.forwarded = true

	out := make([]float32, x.Len())
	for i := range out {
		out[i] = float32(x.AtVec(i))
	}
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, len(out)), tensor.WithBacking(out)), nil
}

func (nn *NeuralNetwork) forward(x *mat.VecDense) *mat.VecDense {
	for _, l := range nn.Layers {
		out, _ := l.size()
		z := mat.NewVecDense(out, nil)
		z.MulVec(l.Weights, x)
		z.AddVec(z, l.Bias)
		a := mat.NewVecDense(out, nil)
		for j := 0; j < out; j++ {
			a.SetVec(j, l.activation.Activate(z.AtVec(j)))
		}
		l.input, l.pre = x, z
		x = a
	}
	return x
}

// Backward propagates loss.Gradient (dL/doutput) through the network and adds
// the parameter gradients to the accumulators. Calling it twice without
// ResetGradients sums both contributions.
func (nn *NeuralNetwork) Backward(ctx context.Context, loss session.Loss) error {
	const op = "neuralnet.backward"
	if err := ctx.Err(); err != nil {
		return err
	}
	if !nn.forwarded {
		return domain.E(op, domain.KindRuntimeStep, errors.New("backward called before forward"))
	}
	last := nn.Layers[len(nn.Layers)-1]
	if len(loss.Gradient) != last.pre.Len() {
		return domain.Errorf(op, domain.KindShapeMismatch, "gradient has %d values, output has %d", len(loss.Gradient), last.pre.Len())
	}

	delta := mat.NewVecDense(len(loss.Gradient), nil)
	for j, g := range loss.Gradient {
		delta.SetVec(j, float64(g)*last.activation.Derivative(last.pre.AtVec(j)))
	}
	for i := len(nn.Layers) - 1; i >= 0; i-- {
		l := nn.Layers[i]
		l.WeightGrad.RankOne(l.WeightGrad, 1, delta, l.input)
		l.BiasGrad.AddVec(l.BiasGrad, delta)
		if i == 0 {
			break
		}
		prev := nn.Layers[i-1]
		var back mat.VecDense
		back.MulVec(l.Weights.T(), delta)
		next := mat.NewVecDense(back.Len(), nil)
		for j := 0; j < back.Len(); j++ {
			next.SetVec(j, back.AtVec(j)*prev.activation.Derivative(prev.pre.AtVec(j)))
		}
		delta = next
	}
	return nil
}

// OptimizerStep applies the accumulated gradients at the scheduled learning rate.
func (nn *NeuralNetwork) OptimizerStep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lr := nn.Params.CurrentLr(nn.step, nn.Params.TotalSteps)
	// optimizer moments are not checkpointed, so their bias correction
	// counts from this session's first step
	if err := nn.optimizer.Apply(nn.params(), lr, nn.applied); err != nil {
		return domain.E("neuralnet.optimizer_step", domain.KindRuntimeStep, err)
	}
	nn.step++
	nn.applied++
	return nil
}

// ResetGradients zeroes every gradient accumulator.
func (nn *NeuralNetwork) ResetGradients(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, l := range nn.Layers {
		l.WeightGrad.Zero()
		l.BiasGrad.Zero()
	}
	return nil
}

// CrossEntropy computes softmax cross-entropy of output logits against target.
func (nn *NeuralNetwork) CrossEntropy(ctx context.Context, output *tensor.Dense, target []float32) (session.Loss, error) {
	const op = "neuralnet.cross_entropy"
	if err := ctx.Err(); err != nil {
		return session.Loss{}, err
	}
	if output == nil {
		return session.Loss{}, domain.Errorf(op, domain.KindShapeMismatch, "nil output")
	}
	logits, ok := output.Data().([]float32)
	if !ok || len(logits) != len(target) {
		return session.Loss{}, domain.Errorf(op, domain.KindShapeMismatch, "output %v does not match target of length %d", output.Shape(), len(target))
	}
	o, t := toFloat64(logits), toFloat64(target)
	ce := CrossEntropy{}
	grad := ce.Gradient(o, t)
	loss := session.Loss{Value: ce.Compute(o, t), Gradient: make([]float32, len(grad))}
	for i, g := range grad {
		loss.Gradient[i] = float32(g)
	}
	return loss, nil
}

func (nn *NeuralNetwork) params() []Param {
	params := make([]Param, 0, 2*len(nn.Layers))
	for i, l := range nn.Layers {
		params = append(params,
			Param{
				Name:  layerName(i) + ".weight",
				Value: l.Weights.RawMatrix().Data,
				Grad:  l.WeightGrad.RawMatrix().Data,
				Decay: true,
			},
			Param{
				Name:  layerName(i) + ".bias",
				Value: l.Bias.RawVector().Data,
				Grad:  l.BiasGrad.RawVector().Data,
			})
	}
	return params
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// String describes the layer stack.
func (nn *NeuralNetwork) String() string {
	var sb strings.Builder
	for i, l := range nn.Layers {
		out, in := l.size()
		if i > 0 {
			sb.WriteString(" -> ")
		}
		fmt.Fprintf(&sb, "dense(%d->%d, %s)", in, out, l.activation.Name())
	}
	return sb.String()
}
