package neuralnet

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// CrossEntropy is categorical cross-entropy over softmax(output).
type CrossEntropy struct{}

// Compute returns the cross-entropy loss.
func (ce CrossEntropy) Compute(output, target []float64) float64 {
	probs := Softmax(output)
	var loss float64
	for i, p := range probs {
		if p < 1e-15 {
			p = 1e-15
		}
		loss -= target[i] * math.Log(p)
	}
	return loss
}

// Gradient returns the derivative of softmax cross-entropy wrt the logits: (softmax - target).
func (ce CrossEntropy) Gradient(output, target []float64) []float64 {
	grad := Softmax(output)
	floats.Sub(grad, target)
	return grad
}

// Softmax returns a numerically stable softmax of logits.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := floats.Max(logits)
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}
