// Package domain holds the shapes and error kinds shared by the pipeline.
package domain

import (
	"fmt"
	"time"

	"gorgonia.org/tensor"
)

const (
	ImageWidth  = 32
	ImageHeight = 32
	Channels    = 3
	NumClasses  = 2

	DefaultEpochs       = 10
	DefaultLearningRate = 0.001
)

// DefaultClasses in priority order. The index is the class id.
var DefaultClasses = []string{"cat", "dog"}

// InputShape is the tensor shape fed to a session: batch, channels, height, width.
func InputShape(width, height int) tensor.Shape {
	return tensor.Shape{1, Channels, height, width}
}

// RawImage is an undecoded image and the name it was selected under.
type RawImage struct {
	Name string
	Data []byte
}

// Label is a one-hot class vector.
type Label []float32

// OneHot encodes class as a vector of length numClasses.
func OneHot(class, numClasses int) (Label, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("one-hot: numClasses must be > 0 (got %d)", numClasses)
	}
	if class < 0 || class >= numClasses {
		return nil, fmt.Errorf("one-hot: class %d out of range [0,%d)", class, numClasses)
	}
	l := make(Label, numClasses)
	l[class] = 1
	return l, nil
}

// Class returns the index of the hot entry, or -1 if the label is not one-hot.
func (l Label) Class() int {
	class := -1
	for i, v := range l {
		switch v {
		case 0:
		case 1:
			if class >= 0 {
				return -1
			}
			class = i
		default:
			return -1
		}
	}
	return class
}

// Sample is one training example. Index is its position in the selection.
type Sample struct {
	Index  int
	Name   string
	Input  *tensor.Dense
	Target Label
}

// EpochResult is emitted once per completed epoch. Epoch is 1-based.
type EpochResult struct {
	Epoch    int
	Total    int
	MeanLoss float64
	Duration time.Duration
}
