package model

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/nfnt/resize"
)

// DefaultInterpolation is a filtered scale, the same smoothing a bitmap
// scale with filtering turned on applies.
const DefaultInterpolation = resize.Bilinear

var interpolations = map[string]resize.InterpolationFunction{
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseInterpolation maps a resampling name to the resize function.
func ParseInterpolation(name string) (resize.InterpolationFunction, error) {
	if name == "" {
		return DefaultInterpolation, nil
	}
	interp, ok := interpolations[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown interpolation %q", name)
	}
	return interp, nil
}

// Preprocessor turns a drawing of any size into a model input tensor.
type Preprocessor struct {
	Input         InputSpec
	Interpolation resize.InterpolationFunction
}

// Resize scales img to the model's width and height. The zero
// Interpolation means DefaultInterpolation; unfiltered scaling is not offered.
func (p Preprocessor) Resize(img image.Image) image.Image {
	interp := p.Interpolation
	if interp == resize.NearestNeighbor {
		interp = DefaultInterpolation
	}
	return resize.Resize(uint(p.Input.Width), uint(p.Input.Height), img, interp)
}

// Tensor resizes img and converts it.
func (p Preprocessor) Tensor(img image.Image) []float32 {
	return ToTensor(p.Resize(img), p.Input)
}

// Intensity averages the colour channels and scales the result to [0, 1].
func Intensity(r, g, b uint8) float32 {
	return float32(int(r)+int(g)+int(b)) / 3.0 / 255.0
}

// ToTensor converts an image already sized to spec into a row-major float
// tensor. Alpha is ignored. When spec has several channels the intensity
// is written to each of them.
func ToTensor(img image.Image, spec InputSpec) []float32 {
	bounds := img.Bounds()
	if bounds.Dx() != spec.Width || bounds.Dy() != spec.Height {
		panic(fmt.Errorf("%w: image is %dx%d, model wants %dx%d",
			ErrTensorShape, bounds.Dx(), bounds.Dy(), spec.Width, spec.Height))
	}

	w, h, c := spec.Width, spec.Height, spec.Channels
	plane := w * h
	tensor := make([]float32, spec.Size())

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			v := Intensity(px.R, px.G, px.B)

			idx := y*w + x
			for ch := 0; ch < c; ch++ {
				if spec.Layout == LayoutPlanar {
					tensor[ch*plane+idx] = v
				} else {
					tensor[idx*c+ch] = v
				}
			}
		}
	}

	CheckTensor(tensor, spec)
	return tensor
}

// CheckTensor panics with ErrTensorShape when tensor does not hold exactly
// one value per input element.
func CheckTensor(tensor []float32, spec InputSpec) {
	if len(tensor) != spec.Size() {
		panic(fmt.Errorf("%w: got %d values, want %d (%s)", ErrTensorShape, len(tensor), spec.Size(), spec))
	}
}

// EncodeNative lays the tensor out as 32-bit floats in native byte order.
func EncodeNative(tensor []float32) []byte {
	buf := make([]byte, 4*len(tensor))
	for i, v := range tensor {
		binary.NativeEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}
