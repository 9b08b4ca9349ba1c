// Package imaging turns encoded images into fixed-size, channel-planar float tensors.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"

	"imgtrain/domain"
)

// Resample names the interpolator used to fit an image to the target size.
type Resample string

const (
	BiLinear       Resample = "bilinear"
	CatmullRom     Resample = "catmullrom"
	ApproxBiLinear Resample = "approx-bilinear"
	Nearest        Resample = "nearest"
)

// ParseResample accepts the names above; empty means BiLinear.
func ParseResample(name string) (Resample, error) {
	switch r := Resample(name); r {
	case "":
		return BiLinear, nil
	case BiLinear, CatmullRom, ApproxBiLinear, Nearest:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resample %q", name)
	}
}

func (r Resample) interpolator() draw.Interpolator {
	switch r {
	case CatmullRom:
		return draw.CatmullRom
	case ApproxBiLinear:
		return draw.ApproxBiLinear
	case Nearest:
		return draw.NearestNeighbor
	default:
		// Kernel scalers stretch their support when shrinking, so every
		// source pixel contributes to the output.
		return draw.BiLinear
	}
}

// Normalizer decodes and resizes images. The zero value uses BiLinear.
type Normalizer struct {
	Resample Resample
}

// Normalize decodes raw and returns a (1, 3, height, width) float32 tensor with
// all R values first, then G, then B, each scaled to [0,1]. Alpha is dropped.
func Normalize(raw domain.RawImage, width, height int) (*tensor.Dense, error) {
	return Normalizer{}.Normalize(raw, width, height)
}

func (n Normalizer) Normalize(raw domain.RawImage, width, height int) (*tensor.Dense, error) {
	const op = "imaging.normalize"
	if width <= 0 || height <= 0 {
		return nil, &domain.Error{Op: op, Kind: domain.KindShapeMismatch, Path: raw.Name,
			Err: fmt.Errorf("target size %dx%d", width, height)}
	}
	src, _, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		return nil, &domain.Error{Op: op, Kind: domain.KindDecode, Path: raw.Name, Err: err}
	}
	if src.Bounds().Empty() {
		return nil, &domain.Error{Op: op, Kind: domain.KindDecode, Path: raw.Name, Err: errors.New("empty image")}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	n.Resample.interpolator().Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	norm := planar(dst)
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(domain.InputShape(width, height)...), tensor.WithBacking(norm)), nil
}

// planar splits interleaved RGBA pixels into R, G and B planes.
func planar(img *image.NRGBA) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	norm := make([]float32, domain.Channels*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		for x := 0; x < w; x++ {
			i := y*w + x
			norm[i] = float32(row[4*x]) / 255.0
			norm[plane+i] = float32(row[4*x+1]) / 255.0
			norm[2*plane+i] = float32(row[4*x+2]) / 255.0
		}
	}
	return norm
}
