package model

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad is matched by every model loading failure.
	ErrLoad = errors.New("model: load failed")

	// ErrNotInitialized is returned when classifying without a ready model.
	ErrNotInitialized = errors.New("model: interpreter is not initialized")

	// ErrInference is matched by every engine failure during a run.
	ErrInference = errors.New("model: inference failed")

	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.New("model: classifier closed")

	// ErrTensorShape is the panic value when a tensor does not fit the model input.
	ErrTensorShape = errors.New("model: tensor does not match input shape")
)

// LoadError describes a failed step while loading a model asset.
type LoadError struct {
	Op   string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("model: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("model: %s: %v", e.Op, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrLoad, e.Err}
}

// InferenceError wraps an engine failure.
type InferenceError struct {
	Runtime string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("model: %s inference failed: %v", e.Runtime, e.Err)
}

func (e *InferenceError) Unwrap() []error {
	return []error{ErrInference, e.Err}
}

// PanicError is a panic recovered at a worker task boundary.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("model: task %s panicked: %v", e.Task, e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
