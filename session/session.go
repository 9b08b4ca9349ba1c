// Package session describes the trainable runtime the training loop drives.
// Implementations own the weights, gradients and optimizer state.
package session

import (
	"context"

	"gorgonia.org/tensor"
)

// Loss is a scalar loss and its gradient with respect to the model output.
type Loss struct {
	Value    float64
	Gradient []float32
}

// Session is a handle on model weights plus optimizer state. Every method
// mutates the handle in place; callers must not use it concurrently.
type Session interface {
	// Forward computes the model output for one input tensor.
	Forward(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error)
	// Backward accumulates gradients for the last forward pass.
	Backward(ctx context.Context, loss Loss) error
	// OptimizerStep applies the accumulated gradients to the weights.
	OptimizerStep(ctx context.Context) error
	// ResetGradients clears the accumulated gradients.
	ResetGradients(ctx context.Context) error
}

// LossOperator is implemented by sessions that compute cross-entropy
// themselves. output holds raw logits.
type LossOperator interface {
	CrossEntropy(ctx context.Context, output *tensor.Dense, target []float32) (Loss, error)
}

// Artifacts are references to files a Loader may need besides the model.
// Empty fields are not loaded.
type Artifacts struct {
	Checkpoint string
	Optimizer  string
}

// Loader creates sessions from serialized model bytes.
type Loader interface {
	Create(modelBytes []byte, artifacts Artifacts) (Session, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(modelBytes []byte, artifacts Artifacts) (Session, error)

func (f LoaderFunc) Create(modelBytes []byte, artifacts Artifacts) (Session, error) {
	return f(modelBytes, artifacts)
}
