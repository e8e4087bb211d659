//go:build NOORT

// Package ortengine runs ONNX models through onnxruntime.
package ortengine

import (
	"errors"

	"github.com/Brownie44l1/mnist-pad/internal/model"
)

func Open([]byte, model.EngineOptions) (model.Engine, error) {
	return nil, errors.New("onnxruntime backend was disabled at build time (NOORT)")
}
