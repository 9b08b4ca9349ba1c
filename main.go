// Command imgtrain labels a set of images and trains a classifier on them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"imgtrain/config"
	"imgtrain/dataset"
	"imgtrain/domain"
	"imgtrain/labels"
	"imgtrain/logger"
	"imgtrain/neuralnet"
	"imgtrain/pipeline"
	"imgtrain/progress"
	"imgtrain/session"
)

const noImagesNotice = "Please upload some images."

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.L().Error("imgtrain.failed", "err", err)
		if errors.Is(err, domain.ErrNoImages) {
			fmt.Fprintln(stdout, noImagesNotice)
		} else {
			fmt.Fprintln(stderr, "error:", err)
		}
		return 1
	}
	return 0
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	config    string
	debug     bool
	logFormat string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "imgtrain",
		Short:         "Label images and train a small classifier on them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.config, "config", "", "YAML run configuration")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: text|json")

	cmd.AddCommand(trainCmd(g), initModelCmd(g), previewCmd(g))
	return cmd
}

// setup loads the configuration, applies flag overrides and installs the
// logger on the command's stderr.
func setup(cmd *cobra.Command, g *globalFlags, ov config.Overrides) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return config.Config{}, nil, err
	}
	ov.Debug = ov.Debug || g.debug
	if ov.LogFormat == "" {
		ov.LogFormat = g.logFormat
	}
	cfg.Apply(ov)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.Setup(logger.Config{Debug: cfg.Log.Debug, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
	if err != nil {
		return config.Config{}, nil, domain.E("imgtrain.setup", domain.KindInvalidConfig, err)
	}
	log.Debug("imgtrain.host", "cpu", config.HostInfo())
	return cfg, log, nil
}

// modelBytes reads the configured model description, or renders the default
// one for the configured image size and classes.
func modelBytes(cfg config.Config) ([]byte, error) {
	const op = "imgtrain.model"
	if cfg.Model == "" {
		b, err := neuralnet.DefaultDescription(cfg.Width, cfg.Height, len(cfg.Classes)).Marshal()
		if err != nil {
			return nil, domain.E(op, domain.KindLoad, err)
		}
		return b, nil
	}
	b, err := os.ReadFile(cfg.Model)
	if err != nil {
		return nil, &domain.Error{Op: op, Kind: domain.KindLoad, Path: cfg.Model, Err: err}
	}
	return b, nil
}

// saveCheckpoint writes the weights of s, which must be a neuralnet session.
func saveCheckpoint(path string, s session.Session) (*neuralnet.Checkpoint, error) {
	const op = "imgtrain.save"
	nn, ok := s.(*neuralnet.NeuralNetwork)
	if !ok {
		return nil, domain.Errorf(op, domain.KindInvalidInput, "session %T has no checkpoint format", s)
	}
	c := nn.Checkpoint()
	if err := neuralnet.WriteCheckpoint(path, c); err != nil {
		return nil, &domain.Error{Op: op, Kind: domain.KindInvalidInput, Path: path, Err: err}
	}
	return c, nil
}

func trainCmd(g *globalFlags) *cobra.Command {
	var (
		ov         config.Overrides
		labelFlags []string
		manifest   string
		cifar      []string
		cifarLimit int
		save       string
	)
	c := &cobra.Command{
		Use:   "train [flags] <image files or directories...>",
		Short: "Train on the given images",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, g, ov)
			if err != nil {
				return err
			}
			collector := &labels.Collector{Classes: cfg.Classes, Logger: log}

			paths, err := collectImagePaths(args)
			if err != nil {
				return err
			}
			images, err := readImages(paths)
			if err != nil {
				return err
			}

			assigned := map[string]string{}
			if manifest != "" {
				if assigned, err = readManifest(manifest); err != nil {
					return err
				}
			}
			flagged, err := parseLabelFlags(labelFlags)
			if err != nil {
				return err
			}
			for file, class := range flagged {
				assigned[file] = class
			}
			selections, err := selectionsFor(images, assigned, collector, log)
			if err != nil {
				return err
			}

			for _, path := range cifar {
				imgs, sel, err := loadCIFAR10(path, cfg.Classes, cifarLimit)
				if err != nil {
					return err
				}
				log.Info("imgtrain.cifar_loaded", "path", path, "images", len(imgs))
				images = append(images, imgs...)
				selections = append(selections, sel...)
			}

			if len(images) == 0 {
				return domain.E("imgtrain.train", domain.KindInvalidInput, domain.ErrNoImages)
			}
			model, err := modelBytes(cfg)
			if err != nil {
				return err
			}
			loader := neuralnet.NewLoader(cfg.Params)
			loader.Logger = log

			p := &pipeline.Pipeline{
				Config: cfg,
				Loader: loader,
				Model:  model,
				Reporter: progress.Multi{
					progress.NewText(cmd.OutOrStdout()),
					progress.Log{Logger: log},
				},
				Logger: log,
			}
			tc, err := p.Train(cmd.Context(), images, selections)
			if tc != nil {
				log.Info("imgtrain.finished", "run_id", tc.RunID, "state", tc.State.String())
			}
			if err != nil || save == "" {
				return err
			}
			c, err := saveCheckpoint(save, tc.Session)
			if err != nil {
				return err
			}
			log.Info("imgtrain.checkpoint_written", "path", save, "layers", c.LayerNames(), "step", c.Step)
			return nil
		},
	}

	f := c.Flags()
	f.StringVar(&ov.Model, "model", "", "model description (YAML); a default network is used if empty")
	f.StringVar(&ov.Checkpoint, "checkpoint", "", "JSON weights to start from")
	f.StringVar(&ov.OptimizerArtifact, "optimizer-artifact", "", "YAML optimizer overrides")
	f.IntVar(&ov.Epochs, "epochs", 0, "number of epochs (default 10)")
	f.Float64Var(&ov.LearningRate, "lr", 0, "learning rate (default 0.001)")
	f.StringVar(&ov.Loss, "loss", "", "loss: mse|cross_entropy")
	f.StringVar(&ov.Optimizer, "optimizer", "", "optimizer: sgd|adamw")
	f.IntVar(&ov.Workers, "workers", 0, "concurrent image decoders (default: logical cores)")
	f.StringVar(&ov.DumpDir, "dump-dir", "", "write normalized previews of every sample here")
	f.StringArrayVar(&labelFlags, "label", nil, "assign a class: file=class (repeatable)")
	f.StringVar(&manifest, "labels", "", "label manifest with \"filename class\" lines")
	f.StringArrayVar(&cifar, "cifar", nil, "CIFAR-10 binary batch to draw samples of the configured classes from (repeatable)")
	f.IntVar(&cifarLimit, "cifar-limit", 0, "maximum samples taken from each CIFAR-10 batch (0 = all)")
	f.StringVar(&save, "save", "", "write the trained weights as a JSON checkpoint")
	return c
}

func initModelCmd(g *globalFlags) *cobra.Command {
	var (
		ov  config.Overrides
		out string
	)
	c := &cobra.Command{
		Use:   "init-model",
		Short: "Write a freshly initialised checkpoint for a model description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd, g, ov)
			if err != nil {
				return err
			}
			model, err := modelBytes(cfg)
			if err != nil {
				return err
			}
			nn, err := neuralnet.NewLoader(cfg.Params).Load(model, session.Artifacts{})
			if err != nil {
				return err
			}
			c := nn.Checkpoint()
			if err := neuralnet.WriteCheckpoint(out, c); err != nil {
				return &domain.Error{Op: "imgtrain.init_model", Kind: domain.KindInvalidInput, Path: out, Err: err}
			}
			log.Info("imgtrain.checkpoint_written", "path", out, "layers", c.LayerNames(), "model", nn.String())
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %s\n", out, nn)
			return nil
		},
	}
	c.Flags().StringVar(&ov.Model, "model", "", "model description (YAML); a default network is used if empty")
	c.Flags().StringVar(&out, "out", "", "checkpoint path to write")
	_ = c.MarkFlagRequired("out")
	return c
}

func previewCmd(g *globalFlags) *cobra.Command {
	var (
		ov  config.Overrides
		out string
	)
	c := &cobra.Command{
		Use:   "preview --out dir <image files or directories...>",
		Short: "Write the normalized form of each image as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, g, ov)
			if err != nil {
				return err
			}
			paths, err := collectImagePaths(args)
			if err != nil {
				return err
			}
			images, err := readImages(paths)
			if err != nil {
				return err
			}
			if len(images) == 0 {
				return domain.E("imgtrain.preview", domain.KindInvalidInput, domain.ErrNoImages)
			}
			collector := &labels.Collector{Classes: cfg.Classes, Logger: log}
			ds, err := dataset.Prepare(cmd.Context(), images, collector.Collect(images, nil), dataset.Options{
				Width:      cfg.Width,
				Height:     cfg.Height,
				Workers:    cfg.Workers,
				Normalizer: cfg.Normalizer(),
				Logger:     log,
			})
			if err != nil {
				return err
			}
			if err := pipeline.DumpPreviews(out, ds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d previews to %s\n", ds.Len(), out)
			return nil
		},
	}
	c.Flags().IntVar(&ov.Workers, "workers", 0, "concurrent image decoders (default: logical cores)")
	c.Flags().StringVar(&out, "out", "", "directory for the PNG previews")
	_ = c.MarkFlagRequired("out")
	return c
}
