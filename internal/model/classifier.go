package model

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/mnist-pad/internal/log"
)

// State is the lifecycle position of a Classifier.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const DefaultQueueSize = 16

// ModelInfo describes the loaded model to callers outside the worker.
type ModelInfo struct {
	Runtime string
	Input   InputSpec
	Classes int
	Names   []string
}

// Classifier serialises model loading, classification and release on a
// single worker goroutine. Every method returns immediately with a Future.
//
// The model handle is only touched by the worker. Classify before a
// successful Initialize resolves to ErrNotInitialized; anything submitted
// after Close resolves to ErrClosed.
type Classifier struct {
	cfg       LoaderConfig
	queueSize int
	tasks     chan task
	done      chan struct{}
	state     atomic.Int32
	info      atomic.Pointer[ModelInfo]
	log       *slog.Logger

	mu     sync.Mutex
	closed bool

	handle *Handle
}

type Option func(*Classifier)

// WithQueueSize sets how many tasks may wait before submitters block.
func WithQueueSize(n int) Option {
	return func(c *Classifier) {
		if n >= 0 {
			c.queueSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClassifier starts the worker. The model is not loaded until
// Initialize is called.
func NewClassifier(cfg LoaderConfig, opts ...Option) *Classifier {
	c := &Classifier{
		cfg:       cfg,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
		log:       log.With("component", "classifier"),
	}
	for _, o := range opts {
		o(c)
	}
	c.tasks = make(chan task, c.queueSize)
	go c.run()
	return c
}

// State may be read from any goroutine.
func (c *Classifier) State() State {
	return State(c.state.Load())
}

// Info returns the loaded model's description once the classifier is ready.
func (c *Classifier) Info() (ModelInfo, bool) {
	info := c.info.Load()
	if info == nil {
		return ModelInfo{}, false
	}
	return *info, true
}

// Done is closed when the worker has exited after Close.
func (c *Classifier) Done() <-chan struct{} {
	return c.done
}

// Initialize loads the model. It is a no-op once the classifier is ready
// and may be retried after a failure.
func (c *Classifier) Initialize() *Future[ModelInfo] {
	return submit(c, "initialize", func() (ModelInfo, error) {
		if c.handle != nil {
			return *c.info.Load(), nil
		}
		h, err := Load(context.Background(), c.cfg)
		if err != nil {
			c.state.Store(int32(StateFailed))
			return ModelInfo{}, err
		}
		info := ModelInfo{Runtime: h.Runtime, Input: h.Input, Classes: h.Classes}
		if h.Metadata != nil {
			info.Names = append([]string(nil), h.Metadata.Classes...)
		}
		c.handle = h
		c.info.Store(&info)
		c.state.Store(int32(StateReady))
		return info, nil
	})
}

// Classify queues one drawing for classification.
func (c *Classifier) Classify(img image.Image) *Future[Result] {
	return submit(c, "classify", func() (Result, error) {
		return Classify(c.handle, img)
	})
}

// Predict queues an already converted tensor.
func (c *Classifier) Predict(tensor []float32) *Future[Result] {
	return submit(c, "predict", func() (Result, error) {
		return Predict(c.handle, tensor)
	})
}

// Close queues the release of the model as the final task and stops the
// worker once it has run.
func (c *Classifier) Close() *Future[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return failedFuture[struct{}](ErrClosed)
	}

	f, t := newTask("close", func() (struct{}, error) {
		err := c.handle.Close()
		c.handle = nil
		c.info.Store(nil)
		c.state.Store(int32(StateClosed))
		return struct{}{}, err
	})
	c.tasks <- t
	c.closed = true
	close(c.tasks)
	return f
}

func (c *Classifier) run() {
	defer close(c.done)
	for t := range c.tasks {
		start := time.Now()
		err := t.run()
		l := c.log.With("task", t.name, "task_id", t.id.String(), "elapsed", time.Since(start))
		if err != nil {
			l.Warn("task failed", "error", err)
		} else {
			l.Debug("task done")
		}
	}
}

type task struct {
	id   uuid.UUID
	name string
	run  func() error
}

func submit[T any](c *Classifier, name string, fn func() (T, error)) *Future[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return failedFuture[T](ErrClosed)
	}
	f, t := newTask(name, fn)
	c.tasks <- t
	return f
}

// newTask wraps fn so that its outcome, including a panic, always
// resolves the returned future.
func newTask[T any](name string, fn func() (T, error)) (*Future[T], task) {
	f := newFuture[T]()
	t := task{id: uuid.New(), name: name}
	t.run = func() (err error) {
		var val T
		defer func() {
			if r := recover(); r != nil {
				var zero T
				val, err = zero, &PanicError{Task: name, Value: r}
			}
			f.resolve(val, err)
		}()
		val, err = fn()
		return err
	}
	return f, t
}
