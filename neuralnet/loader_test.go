package neuralnet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"imgtrain/domain"
	"imgtrain/session"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderCreate(t *testing.T) {
	s, err := NewLoader(DefaultParams()).Create([]byte(testModel), session.Artifacts{})
	require.NoError(t, err)
	nn, ok := s.(*NeuralNetwork)
	require.True(t, ok)
	assert.Len(t, nn.Layers, 2)
}

func TestLoaderRestoresCheckpoint(t *testing.T) {
	src := newTestNetwork(t, DefaultParams())
	src.Layers[0].Bias.SetVec(1, 3)
	path := filepath.Join(t.TempDir(), "ckpt.json")
	require.NoError(t, WriteCheckpoint(path, src.Checkpoint()))

	nn, err := NewLoader(DefaultParams()).Load([]byte(testModel), session.Artifacts{Checkpoint: path})
	require.NoError(t, err)
	assert.Equal(t, 3.0, nn.Layers[0].Bias.AtVec(1))
}

func TestLoaderOptimizerArtifact(t *testing.T) {
	path := writeFile(t, "opt.yaml", "optimizer: adamw\nlearning_rate: 0.01\nweight_decay: 0.1\n")
	nn, err := NewLoader(DefaultParams()).Load([]byte(testModel), session.Artifacts{Optimizer: path})
	require.NoError(t, err)
	assert.Equal(t, "adamw", nn.Params.Optimizer)
	assert.Equal(t, 0.01, nn.Params.TargetLr)
	assert.Equal(t, 0.9, nn.Params.Beta1)
	_, ok := nn.optimizer.(*AdamW)
	assert.True(t, ok)

	empty := writeFile(t, "empty.yaml", "")
	nn, err = NewLoader(DefaultParams()).Load([]byte(testModel), session.Artifacts{Optimizer: empty})
	require.NoError(t, err)
	assert.Equal(t, "sgd", nn.Params.Optimizer)
}

func TestLoaderErrors(t *testing.T) {
	badCkpt := writeFile(t, "bad.json", `{"version":"1.0","layers":{}}`)
	badOpt := writeFile(t, "bad.yaml", "optimiser: sgd\n")
	tests := []struct {
		name      string
		model     string
		artifacts session.Artifacts
		path      string
	}{
		{name: "empty model", model: ""},
		{name: "invalid model", model: "input: [12]\n"},
		{name: "missing checkpoint", model: testModel, artifacts: session.Artifacts{Checkpoint: "/nonexistent/ckpt.json"}, path: "/nonexistent/ckpt.json"},
		{name: "mismatched checkpoint", model: testModel, artifacts: session.Artifacts{Checkpoint: badCkpt}, path: badCkpt},
		{name: "unknown optimizer field", model: testModel, artifacts: session.Artifacts{Optimizer: badOpt}, path: badOpt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(DefaultParams()).Create([]byte(tt.model), tt.artifacts)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindLoad))
			if tt.path != "" {
				var de *domain.Error
				require.ErrorAs(t, err, &de)
				assert.Equal(t, tt.path, de.Path)
			}
		})
	}
}

func TestLoaderResumesSchedule(t *testing.T) {
	params := DefaultParams()
	params.LrSchedule = "cosine"
	params.TargetLr = 0.05

	src := newTestNetwork(t, params)
	src.step = 4
	path := filepath.Join(t.TempDir(), "ckpt.json")
	require.NoError(t, WriteCheckpoint(path, src.Checkpoint()))

	loader := NewLoader(params)
	loader.PlanSteps(4)
	nn, err := loader.Load([]byte(testModel), session.Artifacts{Checkpoint: path})
	require.NoError(t, err)
	assert.Equal(t, 4, nn.Step())
	assert.Equal(t, 8, nn.Params.TotalSteps)
	assert.Greater(t, nn.Params.CurrentLr(nn.Step(), nn.Params.TotalSteps), 0.0)

	before := mat.DenseCopyOf(nn.Layers[0].Weights)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		out, err := nn.Forward(ctx, testInput(1))
		require.NoError(t, err)
		_, grad := sumSquares(out.Data().([]float32), []float32{1, 0})
		require.NoError(t, nn.Backward(ctx, session.Loss{Gradient: grad}))
		require.NoError(t, nn.OptimizerStep(ctx))
		require.NoError(t, nn.ResetGradients(ctx))
	}
	assert.False(t, mat.Equal(before, nn.Layers[0].Weights), "resumed run left weights unchanged")
	assert.Equal(t, 8, nn.Step())
}
