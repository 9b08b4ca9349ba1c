package dataset

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"imgtrain/domain"
)

func input(fill float32) *tensor.Dense {
	backing := make([]float32, 3*4*4)
	for i := range backing {
		backing[i] = fill
	}
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 3, 4, 4), tensor.WithBacking(backing))
}

func TestBuildPreservesOrder(t *testing.T) {
	inputs := []*tensor.Dense{input(0.1), input(0.2), input(0.3)}
	labels := []domain.Label{{1, 0}, {0, 1}, {1, 0}}

	ds, err := Build(inputs, labels, "a.png", "b.png", "c.png")
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	for i, s := range ds.Samples() {
		require.Equal(t, i, s.Index)
		require.Same(t, inputs[i], s.Input)
		require.Equal(t, labels[i], s.Target)
	}
	require.Equal(t, "b.png", ds.At(1).Name)
	require.Equal(t, []int{1, 3, 4, 4}, []int(ds.InputShape()))
}

func TestBuildMismatchedCounts(t *testing.T) {
	_, err := Build([]*tensor.Dense{input(0)}, nil)
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))

	_, err = Build(nil, []domain.Label{{1, 0}})
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))

	_, err = Build([]*tensor.Dense{input(0)}, []domain.Label{{1, 0}}, "a.png", "b.png")
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))
}

func TestBuildRejectsInconsistentShapes(t *testing.T) {
	other := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 3, 2, 2), tensor.WithBacking(make([]float32, 12)))
	_, err := Build([]*tensor.Dense{input(0), other}, []domain.Label{{1, 0}, {0, 1}})
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))

	flat := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(48), tensor.WithBacking(make([]float32, 48)))
	_, err = Build([]*tensor.Dense{flat}, []domain.Label{{1, 0}})
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))

	_, err = Build([]*tensor.Dense{input(0), input(0)}, []domain.Label{{1, 0}, {0, 0, 1}})
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))
}

func TestBuildEmpty(t *testing.T) {
	ds, err := Build(nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, ds.Len())
	require.Nil(t, ds.Targets())
}

func TestTargets(t *testing.T) {
	ds, err := Build([]*tensor.Dense{input(0), input(1)}, []domain.Label{{0, 1}, {1, 0}})
	require.NoError(t, err)
	targets := ds.Targets()
	require.Equal(t, []int{2, 2}, []int(targets.Shape()))
	require.Equal(t, []float32{0, 1, 1, 0}, targets.Data())
}

func TestClassCounts(t *testing.T) {
	ds, err := Build([]*tensor.Dense{input(0), input(1), input(2)}, []domain.Label{{0, 1}, {1, 0}, {0, 1}})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, ds.ClassCounts())

	empty, err := Build(nil, nil)
	require.NoError(t, err)
	require.Nil(t, empty.ClassCounts())
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestPrepareKeepsFileOrder(t *testing.T) {
	images := make([]domain.RawImage, 8)
	labels := make([]domain.Label, len(images))
	for i := range images {
		// larger images first so completion order likely differs from input order
		size := 64 - i*4
		images[i] = domain.RawImage{Name: string(rune('a' + i)), Data: pngBytes(t, size, size, color.Gray{Y: uint8(i * 30)})}
		labels[i] = domain.Label{1, 0}
	}

	ds, err := Prepare(context.Background(), images, labels, Options{Workers: 4})
	require.NoError(t, err)
	require.Equal(t, len(images), ds.Len())
	for i, s := range ds.Samples() {
		require.Equal(t, images[i].Name, s.Name)
		data := s.Input.Data().([]float32)
		require.Len(t, data, 3*32*32)
		require.InDelta(t, float32(i*30)/255, data[0], 1e-6)
	}
}

func TestPrepareAbortsOnDecodeError(t *testing.T) {
	images := []domain.RawImage{
		{Name: "cat.png", Data: pngBytes(t, 8, 8, color.White)},
		{Name: "broken.png", Data: []byte("garbage")},
		{Name: "dog.png", Data: pngBytes(t, 8, 8, color.Black)},
	}
	labels := []domain.Label{{1, 0}, {1, 0}, {0, 1}}

	ds, err := Prepare(context.Background(), images, labels, Options{Workers: 1})
	require.Nil(t, ds)
	require.True(t, domain.IsKind(err, domain.KindDecode))
}

func TestPrepareMismatch(t *testing.T) {
	_, err := Prepare(context.Background(), []domain.RawImage{{Name: "x"}}, nil, Options{})
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))
}

func TestPrepareCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	images := []domain.RawImage{{Name: "cat.png", Data: pngBytes(t, 8, 8, color.White)}}
	_, err := Prepare(ctx, images, []domain.Label{{1, 0}}, Options{})
	require.ErrorIs(t, err, context.Canceled)
}
