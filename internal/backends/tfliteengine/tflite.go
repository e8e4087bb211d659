//go:build !NOTFLITE

// Package tfliteengine runs TensorFlow Lite flatbuffer models.
package tfliteengine

import (
	"errors"
	"fmt"

	tfl "github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/xnnpack"

	"github.com/Brownie44l1/mnist-pad/internal/log"
	"github.com/Brownie44l1/mnist-pad/internal/model"
)

type Engine struct {
	model       *tfl.Model
	options     *tfl.InterpreterOptions
	delegate    delegates.Delegater
	interpreter *tfl.Interpreter
	inputShape  model.Shape
	outputShape model.Shape
}

// Open builds an interpreter for the model at opts.ModelPath. The C library
// maps that file read-only itself; blob is only checked for the flatbuffer
// identifier, since handing it over would copy it into C memory that is
// never released. With Accelerate set the XNNPACK delegate is tried first;
// if the interpreter cannot be built with it, the plain CPU kernels are used.
func Open(blob []byte, opts model.EngineOptions) (model.Engine, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("tflite: model path is required")
	}
	if !IsFlatbuffer(blob) {
		return nil, fmt.Errorf("tflite: %s is not a TFLite flatbuffer", opts.ModelPath)
	}
	m := tfl.NewModelFromFile(opts.ModelPath)
	if m == nil {
		return nil, errors.New("tflite: cannot parse model")
	}
	e := &Engine{model: m}

	if opts.Accelerate {
		err := e.build(opts, true)
		if err == nil {
			return e, nil
		}
		log.Debug("XNNPACK delegate unavailable, using default execution", "error", err)
	}
	if err := e.build(opts, false); err != nil {
		m.Delete()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(opts model.EngineOptions, accelerate bool) error {
	options := tfl.NewInterpreterOptions()
	if opts.Threads > 0 {
		options.SetNumThread(opts.Threads)
	}
	options.SetErrorReporter(func(msg string, _ interface{}) {
		log.Warn("tflite", "message", msg)
	}, nil)

	var delegate delegates.Delegater
	if accelerate {
		threads := opts.Threads
		if threads <= 0 {
			threads = 1
		}
		delegate = xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(threads)})
		if delegate == nil {
			options.Delete()
			return errors.New("xnnpack delegate could not be created")
		}
		options.AddDelegate(delegate)
	}

	release := func() {
		options.Delete()
		if delegate != nil {
			delegate.Delete()
		}
	}

	interpreter := tfl.NewInterpreter(e.model, options)
	if interpreter == nil {
		release()
		return errors.New("tflite: cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tfl.OK {
		interpreter.Delete()
		release()
		return fmt.Errorf("tflite: allocate tensors: status %d", status)
	}

	input := interpreter.GetInputTensor(0)
	output := interpreter.GetOutputTensor(0)
	if input == nil || output == nil {
		interpreter.Delete()
		release()
		return errors.New("tflite: model has no input or output tensor")
	}
	if input.Type() != tfl.Float32 || output.Type() != tfl.Float32 {
		interpreter.Delete()
		release()
		return fmt.Errorf("tflite: want float32 tensors, got %v -> %v", input.Type(), output.Type())
	}

	e.options = options
	e.delegate = delegate
	e.interpreter = interpreter
	e.inputShape = dims(input)
	e.outputShape = dims(output)
	return nil
}

func dims(t *tfl.Tensor) model.Shape {
	shape := make(model.Shape, t.NumDims())
	for i := range shape {
		shape[i] = int64(t.Dim(i))
	}
	return shape
}

func (e *Engine) InputShape() model.Shape  { return e.inputShape }
func (e *Engine) OutputShape() model.Shape { return e.outputShape }

func (e *Engine) Infer(input []float32) ([]float32, error) {
	in := e.interpreter.GetInputTensor(0)
	buf := in.Float32s()
	if len(buf) != len(input) {
		return nil, fmt.Errorf("tflite: input holds %d values, got %d", len(buf), len(input))
	}
	copy(buf, input)

	if status := e.interpreter.Invoke(); status != tfl.OK {
		return nil, fmt.Errorf("tflite: invoke: status %d", status)
	}
	out := e.interpreter.GetOutputTensor(0)
	return append([]float32(nil), out.Float32s()...), nil
}

func (e *Engine) Close() error {
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.delegate != nil {
		e.delegate.Delete()
		e.delegate = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}
