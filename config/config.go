// Package config loads the training run configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"gopkg.in/yaml.v3"

	"imgtrain/domain"
	"imgtrain/imaging"
	"imgtrain/neuralnet"
	"imgtrain/trainer"
)

// Config is the YAML run configuration. Optimizer settings sit at the top
// level next to the run settings.
type Config struct {
	Epochs   int      `yaml:"epochs"`
	Loss     string   `yaml:"loss"`
	Classes  []string `yaml:"classes"`
	Width    int      `yaml:"width"`
	Height   int      `yaml:"height"`
	Resample string   `yaml:"resample"`
	Workers  int      `yaml:"workers"`

	Model             string `yaml:"model"`
	Checkpoint        string `yaml:"checkpoint"`
	OptimizerArtifact string `yaml:"optimizer_artifact"`
	DumpDir           string `yaml:"dump_dir"`

	Log Log `yaml:"log"`

	neuralnet.Params `yaml:",inline"`
}

type Log struct {
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"`
}

// Overrides are command-line values; zero values leave the config untouched.
type Overrides struct {
	Epochs            int
	LearningRate      float64
	Loss              string
	Optimizer         string
	Model             string
	Checkpoint        string
	OptimizerArtifact string
	Workers           int
	DumpDir           string
	LogFormat         string
	Debug             bool
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	_ = cfg.Validate()
	return cfg
}

// Load reads path. An empty path yields Default().
func Load(path string) (Config, error) {
	const op = "config.load"
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &domain.Error{Op: op, Kind: domain.KindInvalidConfig, Path: path, Err: err}
	}
	cfg, err := Parse(b)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) && de.Path == "" {
			de.Path = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML strictly and validates the result.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, domain.E("config.parse", domain.KindInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Apply copies every non-zero override into c.
func (c *Config) Apply(o Overrides) {
	if o.Epochs != 0 {
		c.Epochs = o.Epochs
	}
	if o.LearningRate != 0 {
		c.TargetLr = o.LearningRate
	}
	if o.Loss != "" {
		c.Loss = o.Loss
	}
	if o.Optimizer != "" {
		c.Optimizer = o.Optimizer
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Checkpoint != "" {
		c.Checkpoint = o.Checkpoint
	}
	if o.OptimizerArtifact != "" {
		c.OptimizerArtifact = o.OptimizerArtifact
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.DumpDir != "" {
		c.DumpDir = o.DumpDir
	}
	if o.LogFormat != "" {
		c.Log.Format = o.LogFormat
	}
	if o.Debug {
		c.Log.Debug = true
	}
}

// Validate fills defaults for unset fields and rejects invalid values.
func (c *Config) Validate() error {
	const op = "config.validate"
	invalid := func(format string, args ...any) error {
		return domain.Errorf(op, domain.KindInvalidConfig, format, args...)
	}

	if c.Epochs == 0 {
		c.Epochs = domain.DefaultEpochs
	}
	if c.Epochs < 0 {
		return invalid("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.Loss == "" {
		c.Loss = trainer.MSE.String()
	}
	if _, err := trainer.ParseLossStrategy(c.Loss); err != nil {
		return domain.E(op, domain.KindInvalidConfig, err)
	}
	if len(c.Classes) == 0 {
		c.Classes = append([]string(nil), domain.DefaultClasses...)
	}
	if len(c.Classes) < 2 {
		return invalid("need at least 2 classes (got %v)", c.Classes)
	}
	seen := make(map[string]bool, len(c.Classes))
	for _, name := range c.Classes {
		if name == "" || seen[name] {
			return invalid("class names must be unique and non-empty (got %v)", c.Classes)
		}
		seen[name] = true
	}
	if c.Width == 0 {
		c.Width = domain.ImageWidth
	}
	if c.Height == 0 {
		c.Height = domain.ImageHeight
	}
	if c.Width < 0 || c.Height < 0 {
		return invalid("image size %dx%d must be positive", c.Width, c.Height)
	}
	if c.Resample == "" {
		c.Resample = "bilinear"
	}
	if _, err := imaging.ParseResample(c.Resample); err != nil {
		return domain.E(op, domain.KindInvalidConfig, err)
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers()
	}
	if c.Workers < 0 {
		return invalid("workers must be > 0 (got %d)", c.Workers)
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return invalid("log format must be text or json (got %q)", c.Log.Format)
	}

	def := neuralnet.DefaultParams()
	if c.Optimizer == "" {
		c.Optimizer = def.Optimizer
	}
	if c.TargetLr == 0 {
		c.TargetLr = domain.DefaultLearningRate
	}
	if c.LrSchedule == "" {
		c.LrSchedule = def.LrSchedule
	}
	if c.Beta1 == 0 {
		c.Beta1 = def.Beta1
	}
	if c.Beta2 == 0 {
		c.Beta2 = def.Beta2
	}
	if c.Epsilon == 0 {
		c.Epsilon = def.Epsilon
	}
	if err := c.Params.Validate(); err != nil {
		return domain.E(op, domain.KindInvalidConfig, err)
	}
	return nil
}

// LossStrategy returns the parsed loss. Call after Validate.
func (c *Config) LossStrategy() trainer.LossStrategy {
	l, _ := trainer.ParseLossStrategy(c.Loss)
	return l
}

// Normalizer returns the image normalizer for the configured resampler.
func (c *Config) Normalizer() imaging.Normalizer {
	r, _ := imaging.ParseResample(c.Resample)
	return imaging.Normalizer{Resample: r}
}

// DefaultWorkers is the number of logical cores, as reported by cpuid.
func DefaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// HostInfo describes the CPU for the startup log line.
func HostInfo() string {
	return fmt.Sprintf("%s (%d logical cores, avx2=%t)", cpuid.CPU.BrandName, DefaultWorkers(), cpuid.CPU.Supports(cpuid.AVX2))
}
