package trainer

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"imgtrain/domain"
	"imgtrain/session"
)

// LossStrategy selects how the per-sample loss is computed.
type LossStrategy int

const (
	// MSE is computed locally as mean((output_i - target_i)^2).
	MSE LossStrategy = iota
	// CrossEntropy is delegated to the session's LossOperator.
	CrossEntropy
)

func (l LossStrategy) String() string {
	switch l {
	case MSE:
		return "mse"
	case CrossEntropy:
		return "cross_entropy"
	default:
		return fmt.Sprintf("LossStrategy(%d)", int(l))
	}
}

// ParseLossStrategy accepts "mse" and "cross_entropy" (or "crossentropy", "ce").
func ParseLossStrategy(s string) (LossStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mse":
		return MSE, nil
	case "cross_entropy", "crossentropy", "ce":
		return CrossEntropy, nil
	default:
		return MSE, fmt.Errorf("unknown loss %q", s)
	}
}

// MeanSquared returns mean((o_i - t_i)^2) and its gradient 2(o_i - t_i)/n.
func MeanSquared(output, target []float32) (session.Loss, error) {
	if len(output) != len(target) || len(output) == 0 {
		return session.Loss{}, domain.Errorf("trainer.mse", domain.KindShapeMismatch,
			"output has %d values, target has %d", len(output), len(target))
	}
	n := float64(len(output))
	diff := make([]float64, len(output))
	for i := range output {
		diff[i] = float64(output[i]) - float64(target[i])
	}
	grad := make([]float32, len(output))
	for i, d := range diff {
		grad[i] = float32(2 * d / n)
	}
	return session.Loss{Value: floats.Dot(diff, diff) / n, Gradient: grad}, nil
}

func (c *Controller) loss(ctx context.Context, s session.Session, output *tensor.Dense, target domain.Label) (session.Loss, error) {
	switch c.Loss {
	case CrossEntropy:
		op, ok := s.(session.LossOperator)
		if !ok {
			return session.Loss{}, domain.Errorf("trainer.loss", domain.KindInvalidConfig, "session does not provide cross-entropy")
		}
		return op.CrossEntropy(ctx, output, target)
	default:
		values, err := float32s(output)
		if err != nil {
			return session.Loss{}, err
		}
		return MeanSquared(values, target)
	}
}

func float32s(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, domain.Errorf("trainer.output", domain.KindShapeMismatch, "nil output tensor")
	}
	values, ok := t.Data().([]float32)
	if !ok {
		return nil, domain.Errorf("trainer.output", domain.KindShapeMismatch, "want float32 output, got %v", t.Dtype())
	}
	return values, nil
}
