package neuralnet

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Description is the serialized model architecture, for example:
//
//	input: [1, 3, 32, 32]
//	hidden: [64]
//	output: 2
//	activation: relu
//	output_activation: linear
//	seed: 42
type Description struct {
	Input            []int  `yaml:"input"`
	Hidden           []int  `yaml:"hidden"`
	Output           int    `yaml:"output"`
	Activation       string `yaml:"activation"`
	OutputActivation string `yaml:"output_activation"`
	Seed             int64  `yaml:"seed"`
}

// ParseDescription decodes and validates a YAML model description.
func ParseDescription(b []byte) (Description, error) {
	var d Description
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return Description{}, errors.New("empty model description")
		}
		return Description{}, err
	}
	if d.Activation == "" {
		d.Activation = "relu"
	}
	if d.OutputActivation == "" {
		d.OutputActivation = "linear"
	}
	return d, d.Validate()
}

// Validate checks sizes and activation names.
func (d Description) Validate() error {
	if len(d.Input) == 0 {
		return errors.New("input shape is required")
	}
	for _, dim := range d.Input {
		if dim <= 0 {
			return fmt.Errorf("input shape %v has non-positive dimension", d.Input)
		}
	}
	for _, h := range d.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden sizes %v must be > 0", d.Hidden)
		}
	}
	if d.Output <= 0 {
		return fmt.Errorf("output must be > 0 (got %d)", d.Output)
	}
	if _, err := ParseActivation(d.Activation); err != nil {
		return err
	}
	if _, err := ParseActivation(d.OutputActivation); err != nil {
		return err
	}
	return nil
}

// InputSize is the number of values in one input tensor.
func (d Description) InputSize() int {
	size := 1
	for _, dim := range d.Input {
		size *= dim
	}
	return size
}

// Sizes lists layer widths from input to output.
func (d Description) Sizes() []int {
	sizes := make([]int, 0, len(d.Hidden)+2)
	sizes = append(sizes, d.InputSize())
	sizes = append(sizes, d.Hidden...)
	return append(sizes, d.Output)
}

// DefaultDescription is a single-hidden-layer network for width×height RGB
// inputs and the given number of classes.
func DefaultDescription(width, height, classes int) Description {
	return Description{
		Input:            []int{1, 3, height, width},
		Hidden:           []int{64},
		Output:           classes,
		Activation:       "relu",
		OutputActivation: "linear",
	}
}

// Marshal renders d as YAML.
func (d Description) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
