package trainer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"imgtrain/dataset"
	"imgtrain/domain"
	"imgtrain/session"
)

var errBoom = errors.New("boom")

// scriptedSession records every call and returns outputFor(input) from Forward.
type scriptedSession struct {
	outputFor   func(in *tensor.Dense) []float32
	failForward int // forward call number (0-based) that fails, -1 for none
	forwards    int
	calls       []string
	losses      []session.Loss
}

func newScripted(outputFor func(in *tensor.Dense) []float32) *scriptedSession {
	return &scriptedSession{outputFor: outputFor, failForward: -1}
}

func (m *scriptedSession) Forward(_ context.Context, in *tensor.Dense) (*tensor.Dense, error) {
	m.calls = append(m.calls, "forward")
	n := m.forwards
	m.forwards++
	if n == m.failForward {
		return nil, errBoom
	}
	out := m.outputFor(in)
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, len(out)), tensor.WithBacking(append([]float32(nil), out...))), nil
}

func (m *scriptedSession) Backward(_ context.Context, loss session.Loss) error {
	m.calls = append(m.calls, "backward")
	m.losses = append(m.losses, loss)
	return nil
}

func (m *scriptedSession) OptimizerStep(context.Context) error {
	m.calls = append(m.calls, "step")
	return nil
}

func (m *scriptedSession) ResetGradients(context.Context) error {
	m.calls = append(m.calls, "reset")
	return nil
}

type crossEntropySession struct {
	*scriptedSession
}

func (c crossEntropySession) CrossEntropy(_ context.Context, _ *tensor.Dense, target []float32) (session.Loss, error) {
	c.calls = append(c.calls, "cross_entropy")
	return session.Loss{Value: 0.5, Gradient: make([]float32, len(target))}, nil
}

// fixture builds a dataset whose inputs are filled with the sample's class id,
// so sessions can echo the target back.
func fixture(t *testing.T, classes ...int) *dataset.Dataset {
	t.Helper()
	inputs := make([]*tensor.Dense, len(classes))
	labels := make([]domain.Label, len(classes))
	for i, class := range classes {
		backing := make([]float32, 3*2*2)
		for j := range backing {
			backing[j] = float32(class)
		}
		inputs[i] = tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 3, 2, 2), tensor.WithBacking(backing))
		l, err := domain.OneHot(class, 2)
		require.NoError(t, err)
		labels[i] = l
	}
	ds, err := dataset.Build(inputs, labels)
	require.NoError(t, err)
	return ds
}

func echoTarget(in *tensor.Dense) []float32 {
	if in.Data().([]float32)[0] == 0 {
		return []float32{1, 0}
	}
	return []float32{0, 1}
}

func constant(out ...float32) func(*tensor.Dense) []float32 {
	return func(*tensor.Dense) []float32 { return out }
}

func TestRunCallsSessionOncePerSampleInOrder(t *testing.T) {
	sess := newScripted(echoTarget)
	tc := NewContext(sess)
	var results []domain.EpochResult

	err := (&Controller{}).Run(context.Background(), tc, fixture(t, 0, 1, 0), 2, func(r domain.EpochResult) {
		results = append(results, r)
	})
	require.NoError(t, err)

	cycle := []string{"forward", "backward", "step", "reset"}
	var want []string
	for i := 0; i < 3*2; i++ {
		want = append(want, cycle...)
	}
	require.Equal(t, want, sess.calls)

	require.Len(t, results, 2)
	require.Equal(t, 1, results[0].Epoch)
	require.Equal(t, 2, results[1].Epoch)
	require.Equal(t, 2, results[1].Total)
	require.Equal(t, Completed, tc.State)
	require.Equal(t, results, tc.Results)
	require.Equal(t, 2, tc.Epoch)
	require.Equal(t, 2, tc.Step)
	require.NotEmpty(t, tc.RunID)
}

func TestRunZeroLossWhenOutputMatchesLabels(t *testing.T) {
	var got []domain.EpochResult
	err := (&Controller{}).Run(context.Background(), NewContext(newScripted(echoTarget)), fixture(t, 0, 1), 1, func(r domain.EpochResult) {
		got = append(got, r)
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.InDelta(t, 0.0, got[0].MeanLoss, 1e-12)
}

func TestRunAveragesLossOverDataset(t *testing.T) {
	sess := newScripted(constant(0.5, 0.5))
	var got []domain.EpochResult
	err := (&Controller{}).Run(context.Background(), NewContext(sess), fixture(t, 0, 1, 1), 1, func(r domain.EpochResult) {
		got = append(got, r)
	})
	require.NoError(t, err)
	// every sample is off by 0.5 on both outputs
	require.InDelta(t, 0.25, got[0].MeanLoss, 1e-9)
	require.InDeltaSlice(t, []float32{-0.5, 0.5}, sess.losses[0].Gradient, 1e-6)
}

func TestRunForwardFailureAbortsEpoch(t *testing.T) {
	sess := newScripted(echoTarget)
	sess.failForward = 1
	tc := NewContext(sess)
	emitted := 0

	err := (&Controller{}).Run(context.Background(), tc, fixture(t, 0, 1, 0), 3, func(domain.EpochResult) { emitted++ })
	require.Error(t, err)
	require.ErrorIs(t, err, errBoom)
	require.True(t, domain.IsKind(err, domain.KindRuntimeStep))

	require.Equal(t, []string{"forward", "backward", "step", "reset", "forward"}, sess.calls)
	require.Zero(t, emitted)
	require.Empty(t, tc.Results)
	require.Equal(t, Failed, tc.State)
	require.Equal(t, err, tc.Err)
	require.Equal(t, 1, tc.Epoch)
	require.Equal(t, 0, tc.Step)
}

func TestRunOutputShapeMismatchIsFatal(t *testing.T) {
	tc := NewContext(newScripted(constant(1, 0, 0)))
	err := (&Controller{}).Run(context.Background(), tc, fixture(t, 0), 1, nil)
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))
	require.True(t, domain.IsKind(err, domain.KindRuntimeStep))
	require.Equal(t, Failed, tc.State)
}

func TestRunRejectsReusedContext(t *testing.T) {
	tc := NewContext(newScripted(echoTarget))
	c := &Controller{}
	require.NoError(t, c.Run(context.Background(), tc, fixture(t, 0), 1, nil))

	err := c.Run(context.Background(), tc, fixture(t, 0), 1, nil)
	require.ErrorIs(t, err, domain.ErrSessionReused)
	require.Equal(t, Completed, tc.State)
}

func TestRunPreconditions(t *testing.T) {
	c := &Controller{}
	ctx := context.Background()

	require.True(t, domain.IsKind(c.Run(ctx, nil, fixture(t, 0), 1, nil), domain.KindInvalidInput))
	require.True(t, domain.IsKind(c.Run(ctx, NewContext(newScripted(echoTarget)), fixture(t, 0), 0, nil), domain.KindInvalidInput))

	empty, err := dataset.Build(nil, nil)
	require.NoError(t, err)
	tc := NewContext(newScripted(echoTarget))
	require.ErrorIs(t, c.Run(ctx, tc, empty, 1, nil), domain.ErrNoImages)
	require.Equal(t, Idle, tc.State)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := newScripted(echoTarget)
	tc := NewContext(sess)

	err := (&Controller{}).Run(ctx, tc, fixture(t, 0, 1), 1, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, sess.calls)
	require.Equal(t, Failed, tc.State)
}

func TestRunCrossEntropyNeedsLossOperator(t *testing.T) {
	sess := newScripted(echoTarget)
	tc := NewContext(sess)
	err := (&Controller{Loss: CrossEntropy}).Run(context.Background(), tc, fixture(t, 0), 1, nil)
	require.True(t, domain.IsKind(err, domain.KindInvalidConfig))
	require.Empty(t, sess.calls)
	require.Equal(t, Idle, tc.State)
}

func TestRunCrossEntropyDelegates(t *testing.T) {
	sess := crossEntropySession{newScripted(echoTarget)}
	var got []domain.EpochResult
	err := (&Controller{Loss: CrossEntropy}).Run(context.Background(), NewContext(sess), fixture(t, 0, 1), 1, func(r domain.EpochResult) {
		got = append(got, r)
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"forward", "cross_entropy", "backward", "step", "reset",
		"forward", "cross_entropy", "backward", "step", "reset",
	}, sess.calls)
	require.InDelta(t, 0.5, got[0].MeanLoss, 1e-12)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "running", Running.String())
	require.Equal(t, "State(9)", State(9).String())
}
