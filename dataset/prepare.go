package dataset

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"imgtrain/domain"
	"imgtrain/imaging"
)

// Options configures Prepare.
type Options struct {
	Width      int
	Height     int
	Workers    int
	Normalizer imaging.Normalizer
	Logger     *slog.Logger
}

// Prepare decodes images concurrently and builds a Dataset aligned with the
// original image order. The first decode failure cancels the remaining work
// and no dataset is returned.
func Prepare(ctx context.Context, images []domain.RawImage, labels []domain.Label, opts Options) (*Dataset, error) {
	if len(images) != len(labels) {
		return nil, domain.Errorf("dataset.prepare", domain.KindShapeMismatch, "%d images but %d labels", len(images), len(labels))
	}
	if opts.Width <= 0 {
		opts.Width = domain.ImageWidth
	}
	if opts.Height <= 0 {
		opts.Height = domain.ImageHeight
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	start := time.Now()
	inputs := make([]*tensor.Dense, len(images))
	names := make([]string, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range images {
		i := i
		names[i] = images[i].Name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := opts.Normalizer.Normalize(images[i], opts.Width, opts.Height)
			if err != nil {
				return err
			}
			inputs[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds, err := Build(inputs, labels, names...)
	if err != nil {
		return nil, err
	}
	log.Info("dataset.prepared",
		"samples", ds.Len(),
		"width", opts.Width,
		"height", opts.Height,
		"workers", opts.Workers,
		"elapsed", time.Since(start))
	return ds, nil
}
