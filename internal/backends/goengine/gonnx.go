// Package goengine runs ONNX models with a pure Go runtime, for builds
// without cgo or hosts without onnxruntime installed.
package goengine

import (
	"errors"
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/mnist-pad/internal/log"
	"github.com/Brownie44l1/mnist-pad/internal/model"
)

type Engine struct {
	model       *gonnx.Model
	inputName   string
	outputName  string
	inputShape  model.Shape
	outputShape model.Shape
}

// Open parses blob. There is no accelerator here, so Accelerate is ignored.
func Open(blob []byte, opts model.EngineOptions) (model.Engine, error) {
	m, err := gonnx.NewModelFromBytes(blob)
	if err != nil {
		return nil, err
	}
	if opts.Accelerate {
		log.Debug("pure Go runtime has no accelerator, using default execution")
	}

	inputNames, outputNames := m.InputNames(), m.OutputNames()
	if len(inputNames) == 0 || len(outputNames) == 0 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs", len(inputNames), len(outputNames))
	}

	e := &Engine{model: m, inputName: inputNames[0], outputName: outputNames[0]}
	for _, d := range m.InputShapes()[e.inputName] {
		e.inputShape = append(e.inputShape, d.Size)
	}
	for _, d := range m.OutputShapes()[e.outputName] {
		e.outputShape = append(e.outputShape, d.Size)
	}
	return e, nil
}

func (e *Engine) InputShape() model.Shape  { return e.inputShape }
func (e *Engine) OutputShape() model.Shape { return e.outputShape }

func (e *Engine) Infer(input []float32) ([]float32, error) {
	shape, err := model.Concrete(e.inputShape, len(input))
	if err != nil {
		return nil, err
	}
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}

	in := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(dims...),
		tensor.WithBacking(append([]float32(nil), input...)),
	)
	outputs, err := e.model.Run(map[string]tensor.Tensor{e.inputName: in})
	if err != nil {
		return nil, err
	}

	out, ok := outputs[e.outputName]
	if !ok || out == nil {
		return nil, fmt.Errorf("output %s missing from result", e.outputName)
	}
	switch data := out.Data().(type) {
	case []float32:
		return append([]float32(nil), data...), nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("output type %T is not supported", data)
	}
}

func (e *Engine) Close() error {
	if e.model == nil {
		return errors.New("engine already closed")
	}
	e.model = nil
	return nil
}
