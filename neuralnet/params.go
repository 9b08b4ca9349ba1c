package neuralnet

import (
	"fmt"
	"math"
)

// Params holds optimizer hyper-parameters and the learning-rate schedule.
type Params struct {
	Optimizer string `yaml:"optimizer"` // sgd or adamw

	// learning-rate schedule
	InitialLr   float64 `yaml:"initial_lr"`
	TargetLr    float64 `yaml:"learning_rate"`
	WarmupSteps int     `yaml:"warmup_steps"`
	LrSchedule  string  `yaml:"lr_schedule"` // none, cosine or exponential
	DecaySteps  int     `yaml:"decay_steps"`
	Decay       float64 `yaml:"decay"`

	// sgd
	L2                  float64 `yaml:"l2"`
	MomentumCoefficient float64 `yaml:"momentum"`

	// adamw
	Beta1       float64 `yaml:"beta1"`
	Beta2       float64 `yaml:"beta2"`
	Epsilon     float64 `yaml:"epsilon"`
	WeightDecay float64 `yaml:"weight_decay"`

	// TotalSteps is the number of optimizer steps planned for the run. The
	// cosine schedule decays over it when DecaySteps is zero.
	TotalSteps int `yaml:"-"`
}

// DefaultParams is plain SGD at 0.001; the Adam betas apply when Optimizer is adamw.
func DefaultParams() Params {
	return Params{
		Optimizer:  "sgd",
		TargetLr:   0.001,
		LrSchedule: "none",
		Beta1:      0.9,
		Beta2:      0.999,
		Epsilon:    1e-8,
	}
}

// Validate rejects unknown names and out-of-range values.
func (p *Params) Validate() error {
	switch p.Optimizer {
	case "", "sgd", "adamw":
	default:
		return fmt.Errorf("unknown optimizer %q", p.Optimizer)
	}
	switch p.LrSchedule {
	case "", "none", "cosine", "exponential":
	default:
		return fmt.Errorf("unknown lr_schedule %q", p.LrSchedule)
	}
	if p.TargetLr <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", p.TargetLr)
	}
	if p.WarmupSteps < 0 || p.DecaySteps < 0 {
		return fmt.Errorf("warmup_steps and decay_steps must be >= 0")
	}
	if p.Beta1 < 0 || p.Beta1 >= 1 || p.Beta2 < 0 || p.Beta2 >= 1 {
		return fmt.Errorf("beta1 and beta2 must be in [0,1)")
	}
	return nil
}

// CurrentLr returns the learning rate for the given 0-based optimizer step.
// Warm-up ramps linearly from InitialLr to TargetLr; afterwards the schedule
// applies to the steps taken since warm-up ended.
func (p *Params) CurrentLr(step, totalSteps int) float64 {
	if p.WarmupSteps > 0 && step < p.WarmupSteps {
		return p.InitialLr + (p.TargetLr-p.InitialLr)*float64(step)/float64(p.WarmupSteps)
	}
	after := step - p.WarmupSteps
	switch p.LrSchedule {
	case "cosine":
		decaySteps := p.DecaySteps
		if decaySteps <= 0 {
			decaySteps = totalSteps - p.WarmupSteps
		}
		if decaySteps <= 0 {
			return p.TargetLr
		}
		frac := math.Min(float64(after)/float64(decaySteps), 1)
		return p.TargetLr * 0.5 * (1 + math.Cos(math.Pi*frac))
	case "exponential":
		if p.DecaySteps <= 0 || p.Decay <= 0 {
			return p.TargetLr
		}
		return p.TargetLr * math.Pow(p.Decay, float64(after)/float64(p.DecaySteps))
	default:
		return p.TargetLr
	}
}
