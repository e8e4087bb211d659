//go:build NOTFLITE

// Package tfliteengine runs TensorFlow Lite flatbuffer models.
package tfliteengine

import (
	"errors"

	"github.com/Brownie44l1/mnist-pad/internal/model"
)

func Open([]byte, model.EngineOptions) (model.Engine, error) {
	return nil, errors.New("tflite backend was disabled at build time (NOTFLITE)")
}
