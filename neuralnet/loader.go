package neuralnet

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"imgtrain/domain"
	"imgtrain/session"
)

// Loader builds NeuralNetwork sessions from YAML model descriptions.
type Loader struct {
	Params Params
	Logger *slog.Logger
}

// NewLoader returns a Loader using p as the base optimizer parameters.
func NewLoader(p Params) *Loader {
	return &Loader{Params: p}
}

var _ session.Loader = (*Loader)(nil)

// PlanSteps sets the number of optimizer steps the next session will take,
// which the cosine schedule decays over.
func (l *Loader) PlanSteps(total int) {
	l.Params.TotalSteps = total
}

// Create implements session.Loader.
func (l *Loader) Create(modelBytes []byte, artifacts session.Artifacts) (session.Session, error) {
	nn, err := l.Load(modelBytes, artifacts)
	if err != nil {
		return nil, err
	}
	return nn, nil
}

// Load builds the network, then applies the optimizer overrides and the
// checkpoint named in artifacts. Every failure is a KindLoad error.
func (l *Loader) Load(modelBytes []byte, artifacts session.Artifacts) (*NeuralNetwork, error) {
	const op = "neuralnet.load"
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	desc, err := ParseDescription(modelBytes)
	if err != nil {
		return nil, domain.E(op, domain.KindLoad, err)
	}
	params := l.Params
	if artifacts.Optimizer != "" {
		if err := readOptimizerArtifact(artifacts.Optimizer, &params); err != nil {
			return nil, &domain.Error{Op: op, Kind: domain.KindLoad, Path: artifacts.Optimizer, Err: err}
		}
	}
	nn, err := NewNeuralNetwork(desc, params)
	if err != nil {
		return nil, domain.E(op, domain.KindLoad, err)
	}
	if artifacts.Checkpoint != "" {
		c, err := ReadCheckpoint(artifacts.Checkpoint)
		if err == nil {
			err = nn.Restore(c)
		}
		if err != nil {
			return nil, &domain.Error{Op: op, Kind: domain.KindLoad, Path: artifacts.Checkpoint, Err: err}
		}
		// the planned steps are this run's; the schedule continues from c.Step
		nn.Params.TotalSteps += nn.step
	}
	logger.Info("session.created",
		"layers", nn.String(),
		"optimizer", params.Optimizer,
		"lr", params.TargetLr,
		"checkpoint", artifacts.Checkpoint,
		"step", nn.step)
	return nn, nil
}

// readOptimizerArtifact overlays the YAML fields in path onto p. An empty
// file changes nothing.
func readOptimizerArtifact(path string, p *Params) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return p.Validate()
}
