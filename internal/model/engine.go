package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	RuntimeTFLite = "TFLITE"
	RuntimeORT    = "ORT"
	RuntimeGo     = "GO"
)

// Engine runs a loaded model. Implementations are not safe for concurrent
// use; the Classifier worker is their only caller.
type Engine interface {
	// InputShape reports the first input's dimensions. Dynamic axes are <= 0.
	InputShape() Shape
	// OutputShape reports the first output's dimensions.
	OutputShape() Shape
	// Infer runs the model once and returns the first output as float32 scores.
	Infer(input []float32) ([]float32, error)
	// Close releases engine resources.
	Close() error
}

// EngineOptions are passed to every Opener.
type EngineOptions struct {
	// Accelerate asks the backend to try a hardware delegate or execution
	// provider first, falling back to default execution if unavailable.
	Accelerate bool
	// Threads caps intra-op parallelism; 0 leaves the backend default.
	Threads int
	// LibraryPath points at the onnxruntime shared library (ORT only).
	LibraryPath string
	// ModelPath is the local file behind the blob. Load fills it in for
	// backends that map the file themselves.
	ModelPath string
}

// Opener builds an Engine from a model blob. The blob stays mapped for as
// long as the Engine is alive.
type Opener func(blob []byte, opts EngineOptions) (Engine, error)

// Runtimes maps a runtime name to the backend able to open it.
type Runtimes map[string]Opener

// Open resolves name and opens blob with the matching backend.
func (r Runtimes) Open(name string, blob []byte, opts EngineOptions) (Engine, error) {
	open, ok := r[strings.ToUpper(name)]
	if !ok || open == nil {
		return nil, fmt.Errorf("runtime %q is not available", name)
	}
	return open(blob, opts)
}

// RuntimeFor picks a runtime from the model file extension.
func RuntimeFor(modelName string) string {
	switch strings.ToLower(filepath.Ext(modelName)) {
	case ".tflite":
		return RuntimeTFLite
	case ".onnx":
		return RuntimeORT
	default:
		return ""
	}
}
