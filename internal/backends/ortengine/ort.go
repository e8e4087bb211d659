//go:build !NOORT

// Package ortengine runs ONNX models through onnxruntime.
package ortengine

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/mnist-pad/internal/log"
	"github.com/Brownie44l1/mnist-pad/internal/model"
)

type Engine struct {
	session     *ort.DynamicAdvancedSession
	options     *ort.SessionOptions
	inputShape  model.Shape
	outputShape model.Shape
}

// Open starts the onnxruntime environment and builds a session from blob.
func Open(blob []byte, opts model.EngineOptions) (model.Engine, error) {
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	e, err := newEngine(blob, opts)
	if err != nil {
		return nil, errors.Join(err, ort.DestroyEnvironment())
	}
	return e, nil
}

func newEngine(blob []byte, opts model.EngineOptions) (*Engine, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs", len(inputs), len(outputs))
	}

	options, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(blob,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create ONNX session: %w", err), options.Destroy())
	}

	return &Engine{
		session:     session,
		options:     options,
		inputShape:  model.NewShape(inputs[0].Dimensions...),
		outputShape: model.NewShape(outputs[0].Dimensions...),
	}, nil
}

// newSessionOptions prefers CUDA when asked to accelerate and quietly
// keeps the CPU provider when CUDA cannot be set up.
func newSessionOptions(opts model.EngineOptions) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if opts.Threads > 0 {
		if err := options.SetIntraOpNumThreads(opts.Threads); err != nil {
			return nil, errors.Join(err, options.Destroy())
		}
	}
	if !opts.Accelerate {
		return options, nil
	}

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		log.Debug("CUDA unavailable, using default execution", "error", err)
		return options, nil
	}
	defer cudaOptions.Destroy()
	if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
		log.Debug("CUDA provider rejected, using default execution", "error", err)
	}
	return options, nil
}

func (e *Engine) InputShape() model.Shape  { return e.inputShape }
func (e *Engine) OutputShape() model.Shape { return e.outputShape }

func (e *Engine) Infer(input []float32) ([]float32, error) {
	shape, err := model.Concrete(e.inputShape, len(input))
	if err != nil {
		return nil, err
	}
	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, err
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output type %T is not supported", outputs[0])
	}
	return append([]float32(nil), outputTensor.GetData()...), nil
}

func (e *Engine) Close() error {
	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Destroy())
		e.session = nil
	}
	if e.options != nil {
		errs = append(errs, e.options.Destroy())
		e.options = nil
	}
	errs = append(errs, ort.DestroyEnvironment())
	return errors.Join(errs...)
}
