package neuralnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

const checkpointVersion = "1.0"

// WeightData is one named parameter tensor in row-major order.
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// LayerWeight groups the parameters of one dense layer.
type LayerWeight struct {
	Weight *WeightData `json:"weight,omitempty"`
	Bias   *WeightData `json:"bias,omitempty"`
}

// Checkpoint is the on-disk weight format, keyed by layer name.
type Checkpoint struct {
	Version string                 `json:"version"`
	Step    int                    `json:"step"`
	Layers  map[string]LayerWeight `json:"layers"`
}

func layerName(i int) string {
	return fmt.Sprintf("dense_%d", i)
}

// Checkpoint snapshots the current weights.
func (nn *NeuralNetwork) Checkpoint() *Checkpoint {
	c := &Checkpoint{
		Version: checkpointVersion,
		Step:    nn.step,
		Layers:  make(map[string]LayerWeight, len(nn.Layers)),
	}
	for i, l := range nn.Layers {
		out, in := l.size()
		name := layerName(i)
		c.Layers[name] = LayerWeight{
			Weight: &WeightData{
				Name:  name + ".weight",
				Shape: []int{out, in},
				Data:  append([]float64(nil), l.Weights.RawMatrix().Data...),
			},
			Bias: &WeightData{
				Name:  name + ".bias",
				Shape: []int{out},
				Data:  append([]float64(nil), l.Bias.RawVector().Data...),
			},
		}
	}
	return c
}

// Restore copies checkpoint weights into the network. Every layer must be
// present with the network's exact shapes.
func (nn *NeuralNetwork) Restore(c *Checkpoint) error {
	if c == nil {
		return errors.New("nil checkpoint")
	}
	if c.Version != checkpointVersion {
		return fmt.Errorf("unsupported checkpoint version %q", c.Version)
	}
	if len(c.Layers) != len(nn.Layers) {
		return fmt.Errorf("checkpoint has %d layers, model has %d", len(c.Layers), len(nn.Layers))
	}
	// validate everything before touching any weights
	for i, l := range nn.Layers {
		out, in := l.size()
		lw, ok := c.Layers[layerName(i)]
		if !ok {
			return fmt.Errorf("checkpoint missing layer %s", layerName(i))
		}
		if err := checkWeight(lw.Weight, out, in); err != nil {
			return fmt.Errorf("%s.weight: %w", layerName(i), err)
		}
		if err := checkWeight(lw.Bias, out); err != nil {
			return fmt.Errorf("%s.bias: %w", layerName(i), err)
		}
	}
	for i, l := range nn.Layers {
		lw := c.Layers[layerName(i)]
		copy(l.Weights.RawMatrix().Data, lw.Weight.Data)
		copy(l.Bias.RawVector().Data, lw.Bias.Data)
	}
	nn.step = c.Step
	return nil
}

func checkWeight(w *WeightData, shape ...int) error {
	if w == nil {
		return errors.New("missing")
	}
	if len(w.Shape) != len(shape) {
		return fmt.Errorf("shape %v, want %v", w.Shape, shape)
	}
	size := 1
	for i, d := range shape {
		if w.Shape[i] != d {
			return fmt.Errorf("shape %v, want %v", w.Shape, shape)
		}
		size *= d
	}
	if len(w.Data) != size {
		return fmt.Errorf("%d values, want %d", len(w.Data), size)
	}
	return nil
}

// LayerNames returns the checkpoint's layer keys in sorted order.
func (c *Checkpoint) LayerNames() []string {
	names := make([]string, 0, len(c.Layers))
	for name := range c.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EncodeCheckpoint renders c as indented JSON.
func EncodeCheckpoint(c *Checkpoint) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// DecodeCheckpoint parses a JSON checkpoint.
func DecodeCheckpoint(b []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &c, nil
}

// WriteCheckpoint saves c to path.
func WriteCheckpoint(path string, c *Checkpoint) error {
	b, err := EncodeCheckpoint(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadCheckpoint loads a checkpoint from path.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeCheckpoint(b)
}
