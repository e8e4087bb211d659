package model

import (
	"fmt"
	"image"
)

// Classify resizes img to the model input, runs it and returns the best class.
func Classify(h *Handle, img image.Image) (Result, error) {
	if !h.ready() {
		return Result{}, ErrNotInitialized
	}
	return Predict(h, h.pre.Tensor(img))
}

// Predict runs an already converted tensor. A tensor of the wrong length
// is a caller bug and panics with ErrTensorShape.
func Predict(h *Handle, tensor []float32) (Result, error) {
	if !h.ready() {
		return Result{}, ErrNotInitialized
	}
	CheckTensor(tensor, h.Input)

	scores, err := h.engine.Infer(tensor)
	if err != nil {
		return Result{}, &InferenceError{Runtime: h.Runtime, Err: err}
	}
	if len(scores) < h.Classes {
		return Result{}, &InferenceError{
			Runtime: h.Runtime,
			Err:     fmt.Errorf("got %d scores, want %d", len(scores), h.Classes),
		}
	}
	scores = scores[:h.Classes]

	label := Argmax(scores)
	return Result{
		Label:      label,
		Confidence: scores[label],
		Class:      h.ClassName(label),
	}, nil
}

// Argmax returns the index of the largest score, the first one on ties,
// or -1 for an empty slice.
func Argmax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}
