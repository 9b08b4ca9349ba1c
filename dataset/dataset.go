// Package dataset builds the ordered, in-memory training set.
package dataset

import (
	"fmt"

	"gorgonia.org/tensor"

	"imgtrain/domain"
)

// Dataset is an ordered list of samples. It is not modified after Build.
type Dataset struct {
	samples []domain.Sample
	shape   tensor.Shape
}

// Build zips inputs and labels into a Dataset, preserving order. names is
// optional and, when given, must be aligned with inputs.
func Build(inputs []*tensor.Dense, labels []domain.Label, names ...string) (*Dataset, error) {
	const op = "dataset.build"
	if len(inputs) != len(labels) {
		return nil, domain.Errorf(op, domain.KindShapeMismatch, "%d images but %d labels", len(inputs), len(labels))
	}
	if len(names) > 0 && len(names) != len(inputs) {
		return nil, domain.Errorf(op, domain.KindShapeMismatch, "%d images but %d names", len(inputs), len(names))
	}

	ds := &Dataset{samples: make([]domain.Sample, len(inputs))}
	for i, in := range inputs {
		if in == nil {
			return nil, domain.Errorf(op, domain.KindShapeMismatch, "sample %d: nil tensor", i)
		}
		shape := in.Shape()
		if shape.Dims() != 4 || shape[0] != 1 || shape[1] != domain.Channels {
			return nil, domain.Errorf(op, domain.KindShapeMismatch, "sample %d: want (1, %d, h, w), got %v", i, domain.Channels, shape)
		}
		if ds.shape == nil {
			ds.shape = shape.Clone()
		} else if !ds.shape.Eq(shape) {
			return nil, domain.Errorf(op, domain.KindShapeMismatch, "sample %d: shape %v differs from %v", i, shape, ds.shape)
		}
		if len(labels[i]) != len(labels[0]) || labels[i].Class() < 0 {
			return nil, domain.Errorf(op, domain.KindShapeMismatch, "sample %d: label %v is not one-hot of length %d", i, labels[i], len(labels[0]))
		}

		s := domain.Sample{Index: i, Input: in, Target: labels[i]}
		if len(names) > 0 {
			s.Name = names[i]
		} else {
			s.Name = fmt.Sprintf("#%d", i)
		}
		ds.samples[i] = s
	}
	return ds, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.samples)
}

// At returns the sample at idx.
func (d *Dataset) At(idx int) domain.Sample {
	return d.samples[idx]
}

// Samples returns the samples in order. Callers must not modify the slice.
func (d *Dataset) Samples() []domain.Sample {
	return d.samples
}

// InputShape is the common input shape, nil for an empty dataset.
func (d *Dataset) InputShape() tensor.Shape {
	return d.shape
}

// Targets stacks every label into a (n, classes) tensor.
func (d *Dataset) Targets() *tensor.Dense {
	if d.Len() == 0 {
		return nil
	}
	numClasses := len(d.samples[0].Target)
	backing := make([]float32, 0, d.Len()*numClasses)
	for _, s := range d.samples {
		backing = append(backing, s.Target...)
	}
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(d.Len(), numClasses), tensor.WithBacking(backing))
}

// ClassCounts returns how many samples carry each class.
func (d *Dataset) ClassCounts() []int {
	targets := d.Targets()
	if targets == nil {
		return nil
	}
	numClasses := targets.Shape()[1]
	counts := make([]int, numClasses)
	for i, v := range targets.Data().([]float32) {
		if v == 1 {
			counts[i%numClasses]++
		}
	}
	return counts
}
