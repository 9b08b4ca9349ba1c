// Package trainer drives epochs of per-sample gradient descent over a dataset
// through a session.Session.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"imgtrain/dataset"
	"imgtrain/domain"
	"imgtrain/session"
)

// Controller runs the training loop. The zero value uses MSE.
type Controller struct {
	Loss   LossStrategy
	Logger *slog.Logger
}

// Run trains tc.Session on ds for the given number of epochs and calls onEpoch
// once per completed epoch. Samples are visited in dataset order, one
// forward/backward/step/reset cycle each. The first error from the session
// aborts the run: tc is left Failed and the session keeps whatever updates
// it already applied.
func (c *Controller) Run(ctx context.Context, tc *TrainingContext, ds *dataset.Dataset, epochs int, onEpoch func(domain.EpochResult)) error {
	const op = "trainer.run"
	if tc == nil || tc.Session == nil {
		return domain.Errorf(op, domain.KindInvalidInput, "no session")
	}
	if tc.State != Idle {
		return domain.E(op, domain.KindInvalidInput, fmt.Errorf("%w (state %s)", domain.ErrSessionReused, tc.State))
	}
	if ds.Len() == 0 {
		return domain.E(op, domain.KindInvalidInput, domain.ErrNoImages)
	}
	if epochs <= 0 {
		return domain.Errorf(op, domain.KindInvalidInput, "epochs must be > 0 (got %d)", epochs)
	}
	if c.Loss == CrossEntropy {
		if _, ok := tc.Session.(session.LossOperator); !ok {
			return domain.Errorf(op, domain.KindInvalidConfig, "loss %s needs a session that computes it", c.Loss)
		}
	}

	log := c.logger().With("run_id", tc.RunID)
	log.Info("trainer.started", "epochs", epochs, "samples", ds.Len(), "loss", c.Loss.String())
	tc.State = Running

	for epoch := 1; epoch <= epochs; epoch++ {
		start := time.Now()
		epochLoss := 0.0
		for _, s := range ds.Samples() {
			loss, err := c.step(ctx, tc.Session, s)
			if err != nil {
				tc.State = Failed
				tc.Err = &domain.Error{Op: op, Kind: domain.KindRuntimeStep, Path: s.Name,
					Err: fmt.Errorf("epoch %d/%d, sample %d: %w", epoch, epochs, s.Index, err)}
				log.Error("trainer.failed", "epoch", epoch, "step", s.Index, "image", s.Name, "err", err)
				return tc.Err
			}
			epochLoss += loss
			tc.Epoch, tc.Step = epoch, s.Index
			log.Debug("trainer.step", "epoch", epoch, "step", s.Index, "loss", loss)
		}

		result := domain.EpochResult{
			Epoch:    epoch,
			Total:    epochs,
			MeanLoss: epochLoss / float64(ds.Len()),
			Duration: time.Since(start),
		}
		tc.Results = append(tc.Results, result)
		log.Info("trainer.epoch", "epoch", epoch, "total", epochs, "loss", result.MeanLoss, "elapsed", result.Duration)
		if onEpoch != nil {
			onEpoch(result)
		}
	}

	tc.State = Completed
	log.Info("trainer.completed", "epochs", epochs)
	return nil
}

// step runs one full update for a single sample and returns its loss.
func (c *Controller) step(ctx context.Context, s session.Session, sample domain.Sample) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	output, err := s.Forward(ctx, sample.Input)
	if err != nil {
		return 0, fmt.Errorf("forward: %w", err)
	}
	loss, err := c.loss(ctx, s, output, sample.Target)
	if err != nil {
		return 0, fmt.Errorf("loss: %w", err)
	}
	if err := s.Backward(ctx, loss); err != nil {
		return 0, fmt.Errorf("backward: %w", err)
	}
	if err := s.OptimizerStep(ctx); err != nil {
		return 0, fmt.Errorf("optimizer step: %w", err)
	}
	// gradients accumulate across Backward calls until cleared
	if err := s.ResetGradients(ctx); err != nil {
		return 0, fmt.Errorf("reset gradients: %w", err)
	}
	return loss.Value, nil
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
