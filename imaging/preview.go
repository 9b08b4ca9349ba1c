package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"gorgonia.org/tensor"

	"imgtrain/domain"
)

// Preview encodes a normalized (1, 3, h, w) tensor back into an opaque PNG.
func Preview(t *tensor.Dense, w io.Writer) error {
	shape := t.Shape()
	if shape.Dims() != 4 || shape[0] != 1 || shape[1] != domain.Channels {
		return &domain.Error{Op: "imaging.preview", Kind: domain.KindShapeMismatch,
			Err: fmt.Errorf("want (1, %d, h, w), got %v", domain.Channels, shape)}
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return &domain.Error{Op: "imaging.preview", Kind: domain.KindShapeMismatch,
			Err: fmt.Errorf("want float32 data, got %v", t.Dtype())}
	}
	height, width := shape[2], shape[3]
	plane := width * height

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			img.SetNRGBA(x, y, color.NRGBA{
				R: to8(data[i]),
				G: to8(data[plane+i]),
				B: to8(data[2*plane+i]),
				A: 255,
			})
		}
	}
	return png.Encode(w, img)
}

func to8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255.0 + 0.5)
}
