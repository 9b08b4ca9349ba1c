// Package pipeline implements the "start training" action: labels, dataset,
// session and training loop, in that order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"imgtrain/config"
	"imgtrain/dataset"
	"imgtrain/domain"
	"imgtrain/imaging"
	"imgtrain/labels"
	"imgtrain/progress"
	"imgtrain/session"
	"imgtrain/trainer"
)

// StepPlanner is implemented by loaders whose learning-rate schedule needs
// the total number of optimizer steps before the session is created.
type StepPlanner interface {
	PlanSteps(total int)
}

// Pipeline wires the training components together for one invocation.
type Pipeline struct {
	Config   config.Config
	Loader   session.Loader
	Model    []byte
	Reporter progress.Reporter
	Logger   *slog.Logger
}

// Train labels images, builds the dataset, creates a session and runs the
// configured number of epochs. selections may be shorter than images; missing
// or labels.Unset entries use the filename heuristic.
//
// Without images Train returns domain.ErrNoImages before the loader is used.
// The returned context is nil when training never started.
func (p *Pipeline) Train(ctx context.Context, images []domain.RawImage, selections []int) (*trainer.TrainingContext, error) {
	const op = "pipeline.train"
	log := p.logger()
	rep := p.reporter()

	if len(images) == 0 {
		return nil, domain.E(op, domain.KindInvalidInput, domain.ErrNoImages)
	}
	if p.Loader == nil {
		return nil, domain.Errorf(op, domain.KindInvalidConfig, "no session loader")
	}
	cfg := p.Config

	collector := &labels.Collector{Classes: cfg.Classes, Logger: log}
	targets := collector.Collect(images, selections)

	ds, err := dataset.Prepare(ctx, images, targets, dataset.Options{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Workers:    cfg.Workers,
		Normalizer: cfg.Normalizer(),
		Logger:     log,
	})
	if err != nil {
		rep.Failed(err)
		return nil, err
	}
	log.Info("pipeline.dataset_ready", "samples", ds.Len(), "shape", fmt.Sprint(ds.InputShape()), "classes", cfg.Classes, "class_counts", ds.ClassCounts())
	if cfg.DumpDir != "" {
		if err := DumpPreviews(cfg.DumpDir, ds); err != nil {
			rep.Failed(err)
			return nil, err
		}
		log.Info("pipeline.previews_written", "dir", cfg.DumpDir, "count", ds.Len())
	}

	if sp, ok := p.Loader.(StepPlanner); ok {
		sp.PlanSteps(cfg.Epochs * ds.Len())
	}
	s, err := p.Loader.Create(p.Model, session.Artifacts{
		Checkpoint: cfg.Checkpoint,
		Optimizer:  cfg.OptimizerArtifact,
	})
	if err != nil {
		if !errors.As(err, new(*domain.Error)) {
			err = domain.E(op, domain.KindLoad, err)
		}
		rep.Failed(err)
		return nil, err
	}

	tc := trainer.NewContext(s)
	ctrl := &trainer.Controller{Loss: cfg.LossStrategy(), Logger: log}
	if err := ctrl.Run(ctx, tc, ds, cfg.Epochs, rep.EpochComplete); err != nil {
		rep.Failed(err)
		return tc, err
	}
	rep.Complete()
	return tc, nil
}

// DumpPreviews writes every sample of ds as a PNG into dir, named after the
// source image.
func DumpPreviews(dir string, ds *dataset.Dataset) error {
	const op = "pipeline.dump_previews"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.Error{Op: op, Kind: domain.KindInvalidInput, Path: dir, Err: err}
	}
	for _, s := range ds.Samples() {
		path := filepath.Join(dir, previewName(s))
		if err := writePreview(path, s); err != nil {
			return &domain.Error{Op: op, Kind: domain.KindInvalidInput, Path: path, Err: err}
		}
	}
	return nil
}

func writePreview(path string, s domain.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := imaging.Preview(s.Input, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func previewName(s domain.Sample) string {
	base := strings.TrimSuffix(filepath.Base(s.Name), filepath.Ext(s.Name))
	if base == "" || base == "." || strings.HasPrefix(base, "#") {
		base = "sample"
	}
	return fmt.Sprintf("%03d_%s_class%d.png", s.Index, base, s.Target.Class())
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) reporter() progress.Reporter {
	if p.Reporter != nil {
		return p.Reporter
	}
	return progress.Log{Logger: p.logger()}
}
