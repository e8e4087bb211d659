package model

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mnistInput = InputSpec{Channels: 1, Width: 28, Height: 28}

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// stroke draws a thick white diagonal on black, like a pen stroke on the pad.
func stroke(w, h int) *image.RGBA {
	img := uniform(w, h, color.Black)
	for y := 0; y < h; y++ {
		x0 := y * w / h
		for x := x0 - w/20; x <= x0+w/20; x++ {
			if x >= 0 && x < w {
				img.Set(x, y, color.RGBA{R: 255, G: 240, B: 200, A: 255})
			}
		}
	}
	return img
}

func TestIntensity(t *testing.T) {
	assert.Equal(t, float32(0), Intensity(0, 0, 0))
	assert.Equal(t, float32(1), Intensity(255, 255, 255))
	assert.InDelta(t, 60.0/255.0, Intensity(30, 60, 90), 1e-7)
	// Channels are weighted equally.
	assert.Equal(t, Intensity(255, 0, 0), Intensity(0, 0, 255))
}

func TestToTensorBlackAndWhite(t *testing.T) {
	pre := Preprocessor{Input: mnistInput, Interpolation: DefaultInterpolation}

	black := pre.Tensor(uniform(300, 300, color.Black))
	require.Len(t, black, 784)
	for i, v := range black {
		require.Equalf(t, float32(0), v, "index %d", i)
	}

	white := pre.Tensor(uniform(1080, 932, color.White))
	require.Len(t, white, 784)
	for i, v := range white {
		require.Equalf(t, float32(1), v, "index %d", i)
	}
}

func TestToTensorIgnoresAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 90, G: 90, B: 90, A: 10})

	tensor := ToTensor(img, InputSpec{Channels: 1, Width: 1, Height: 1})
	assert.InDelta(t, 90.0/255.0, tensor[0], 1e-7)
}

func TestPreprocessDeterministic(t *testing.T) {
	pre := Preprocessor{Input: mnistInput, Interpolation: DefaultInterpolation}
	img := stroke(417, 389)

	first := EncodeNative(pre.Tensor(img))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, EncodeNative(pre.Tensor(img)))
	}
	assert.Len(t, first, 784*4)
}

func TestIntensityInverse(t *testing.T) {
	pre := Preprocessor{Input: mnistInput, Interpolation: DefaultInterpolation}
	resized := pre.Resize(stroke(640, 480))
	tensor := ToTensor(resized, mnistInput)

	b := resized.Bounds()
	for y := 0; y < mnistInput.Height; y++ {
		for x := 0; x < mnistInput.Width; x++ {
			px := color.NRGBAModel.Convert(resized.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			avg := (float64(px.R) + float64(px.G) + float64(px.B)) / 3
			got := float64(tensor[y*mnistInput.Width+x]) * 255
			require.InDelta(t, avg, got, 1e-3)
		}
	}
}

func TestToTensorRowMajor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.Gray{Y: 0})
	img.Set(1, 0, color.Gray{Y: 51})
	img.Set(0, 1, color.Gray{Y: 102})
	img.Set(1, 1, color.Gray{Y: 255})

	tensor := ToTensor(img, InputSpec{Channels: 1, Width: 2, Height: 2})
	assert.InDeltaSlice(t, []float32{0, 0.2, 0.4, 1}, tensor, 1e-6)
}

func TestToTensorLayouts(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.Gray{Y: 51})
	img.Set(1, 0, color.Gray{Y: 255})

	interleaved := ToTensor(img, InputSpec{Channels: 3, Width: 2, Height: 1})
	assert.InDeltaSlice(t, []float32{0.2, 0.2, 0.2, 1, 1, 1}, interleaved, 1e-6)

	planar := ToTensor(img, InputSpec{Channels: 3, Width: 2, Height: 1, Layout: LayoutPlanar})
	assert.InDeltaSlice(t, []float32{0.2, 1, 0.2, 1, 0.2, 1}, planar, 1e-6)
}

func TestToTensorOffsetBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 12, 11))
	img.Set(10, 10, color.White)

	tensor := ToTensor(img, InputSpec{Channels: 1, Width: 2, Height: 1})
	assert.Equal(t, []float32{1, 0}, tensor)
}

func TestToTensorPanicsOnSizeMismatch(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrTensorShape))
	}()
	ToTensor(uniform(27, 28, color.Black), mnistInput)
}

func TestCheckTensor(t *testing.T) {
	assert.NotPanics(t, func() { CheckTensor(make([]float32, 784), mnistInput) })
	assert.Panics(t, func() { CheckTensor(make([]float32, 783), mnistInput) })
}

func TestParseInterpolation(t *testing.T) {
	interp, err := ParseInterpolation("")
	require.NoError(t, err)
	assert.Equal(t, resize.Bilinear, interp)

	interp, err = ParseInterpolation("Lanczos3")
	require.NoError(t, err)
	assert.Equal(t, resize.Lanczos3, interp)

	_, err = ParseInterpolation("sinc")
	assert.Error(t, err)
	_, err = ParseInterpolation("nearest")
	assert.Error(t, err)
}

func TestZeroInterpolationSmooths(t *testing.T) {
	img := stroke(417, 389)
	smooth := Preprocessor{Input: mnistInput, Interpolation: resize.Bilinear}.Tensor(img)
	assert.Equal(t, smooth, Preprocessor{Input: mnistInput}.Tensor(img))

	unfiltered := ToTensor(resize.Resize(28, 28, img, resize.NearestNeighbor), mnistInput)
	assert.NotEqual(t, unfiltered, smooth)
}

func TestEncodeNative(t *testing.T) {
	buf := EncodeNative([]float32{1, -2.5})
	require.Len(t, buf, 8)
	assert.Equal(t, uint32(0x3f800000), binary.NativeEndian.Uint32(buf[0:]))
	assert.Equal(t, float32(-2.5), math.Float32frombits(binary.NativeEndian.Uint32(buf[4:])))
}
