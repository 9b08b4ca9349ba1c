package imaging

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"imgtrain/domain"
)

func TestPreviewRoundTrip(t *testing.T) {
	want := color.NRGBA{R: 10, G: 200, B: 90, A: 255}
	raw := domain.RawImage{Name: "teal.png", Data: encodePNG(t, solid(8, 8, want))}
	norm, err := Normalizer{Resample: Nearest}.Normalize(raw, 8, 8)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, Preview(norm, buf))

	img, err := png.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, 8, img.Bounds().Dx())
	got := color.NRGBAModel.Convert(img.At(3, 5)).(color.NRGBA)
	require.Equal(t, want, got)
}

func TestPreviewRejectsWrongShape(t *testing.T) {
	flat := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(3, 8), tensor.WithBacking(make([]float32, 24)))
	err := Preview(flat, &bytes.Buffer{})
	require.True(t, domain.IsKind(err, domain.KindShapeMismatch))
}
