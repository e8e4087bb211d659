package model

import (
	"context"
	"errors"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T, engine *fakeEngine) *Classifier {
	t.Helper()
	c := NewClassifier(fakeConfig(t, engine))
	t.Cleanup(func() {
		c.Close().Get()
		<-c.Done()
	})
	return c
}

func TestClassifyBeforeInitialize(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClassifier(t, engine)

	_, err := c.Classify(stroke(100, 100)).Get()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.Predict(make([]float32, 784)).Get()
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.Equal(t, StateUninitialized, c.State())
	assert.Empty(t, engine.inputs)
}

func TestInitializeAndClassify(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClassifier(t, engine)

	info, err := c.Initialize().Get()
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 10, info.Classes)
	assert.Equal(t, InputSpec{Channels: 1, Width: 28, Height: 28}, info.Input)

	got, ok := c.Info()
	require.True(t, ok)
	assert.Equal(t, info, got)

	for _, size := range [][2]int{{1, 1}, {13, 57}, {300, 300}, {1080, 932}} {
		result, err := c.Classify(stroke(size[0], size[1])).Get()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.Label, 0)
		assert.Less(t, result.Label, info.Classes)
		assert.False(t, math.IsNaN(float64(result.Confidence)))
		assert.False(t, math.IsInf(float64(result.Confidence), 0))
	}
}

func TestClassifyBlackImage(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClassifier(t, engine)
	_, err := c.Initialize().Get()
	require.NoError(t, err)

	result, err := c.Classify(uniform(300, 300, color.Black)).Get()
	require.NoError(t, err)
	// Every class scores zero, so the tie resolves to the first label.
	assert.Equal(t, 0, result.Label)
	assert.Equal(t, "Prediction Result: 0, Confidence: 0.00", result.String())

	require.Len(t, engine.inputs, 1)
	require.Len(t, engine.inputs[0], 784)
	for _, v := range engine.inputs[0] {
		require.Equal(t, float32(0), v)
	}
}

func TestClassifyWhiteImage(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClassifier(t, engine)
	_, err := c.Initialize().Get()
	require.NoError(t, err)

	result, err := c.Classify(uniform(1080, 932, color.White)).Get()
	require.NoError(t, err)
	assert.Equal(t, 9, result.Label)
	assert.Equal(t, float32(9), result.Confidence)

	require.Len(t, engine.inputs, 1)
	require.Len(t, engine.inputs[0], 784)
	for _, v := range engine.inputs[0] {
		require.Equal(t, float32(1), v)
	}
}

func TestClassifyQueuedBehindInitialize(t *testing.T) {
	c := newTestClassifier(t, newFakeEngine())

	initF := c.Initialize()
	classifyF := c.Classify(stroke(64, 64))

	_, err := classifyF.Get()
	require.NoError(t, err)
	_, err = initF.Get()
	require.NoError(t, err)
}

func TestInitializeIsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	opened := 0
	cfg := fakeConfig(t, engine)
	open := cfg.Runtimes["FAKE"]
	cfg.Runtimes["FAKE"] = func(blob []byte, opts EngineOptions) (Engine, error) {
		opened++
		return open(blob, opts)
	}
	c := NewClassifier(cfg)
	defer func() { c.Close().Get() }()

	_, err := c.Initialize().Get()
	require.NoError(t, err)
	_, err = c.Initialize().Get()
	require.NoError(t, err)
	assert.Equal(t, 1, opened)
}

func TestInitializeFailureThenRetry(t *testing.T) {
	engine := newFakeEngine()
	cfg := fakeConfig(t, engine)
	open := cfg.Runtimes["FAKE"]
	attempts := 0
	cfg.Runtimes["FAKE"] = func(blob []byte, opts EngineOptions) (Engine, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("corrupt model")
		}
		return open(blob, opts)
	}
	c := NewClassifier(cfg)
	defer func() { c.Close().Get() }()

	_, err := c.Initialize().Get()
	assert.ErrorIs(t, err, ErrLoad)
	assert.Equal(t, StateFailed, c.State())
	_, ok := c.Info()
	assert.False(t, ok)

	_, err = c.Classify(stroke(28, 28)).Get()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = c.Initialize().Get()
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State())
}

func TestCloseWithoutClassify(t *testing.T) {
	engine := newFakeEngine()
	c := NewClassifier(fakeConfig(t, engine))

	_, err := c.Initialize().Get()
	require.NoError(t, err)

	_, err = c.Close().Get()
	require.NoError(t, err)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, engine.closed)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after Close")
	}
}

func TestCloseBeforeInitialize(t *testing.T) {
	c := NewClassifier(fakeConfig(t, newFakeEngine()))
	_, err := c.Close().Get()
	require.NoError(t, err)
	assert.Equal(t, StateClosed, c.State())
}

func TestSubmitAfterClose(t *testing.T) {
	c := NewClassifier(fakeConfig(t, newFakeEngine()))
	_, err := c.Initialize().Get()
	require.NoError(t, err)
	_, err = c.Close().Get()
	require.NoError(t, err)

	_, err = c.Classify(stroke(28, 28)).Get()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Initialize().Get()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Close().Get()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTasksRunInSubmissionOrder(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClassifier(t, engine)
	_, err := c.Initialize().Get()
	require.NoError(t, err)

	var futures []*Future[Result]
	for i := 0; i < 8; i++ {
		tensor := make([]float32, 784)
		tensor[0] = float32(i)
		futures = append(futures, c.Predict(tensor))
	}
	for _, f := range futures {
		_, err := f.Get()
		require.NoError(t, err)
	}

	require.Len(t, engine.inputs, 8)
	for i, in := range engine.inputs {
		assert.Equal(t, float32(i), in[0])
	}
}

func TestEnginePanicIsReported(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClassifier(t, engine)
	_, err := c.Initialize().Get()
	require.NoError(t, err)

	engine.panics = "native fault"
	_, err = c.Classify(stroke(28, 28)).Get()
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "classify", panicErr.Task)

	engine.panics = nil
	_, err = c.Classify(stroke(28, 28)).Get()
	assert.NoError(t, err)
}

func TestWrongTensorIsReported(t *testing.T) {
	c := newTestClassifier(t, newFakeEngine())
	_, err := c.Initialize().Get()
	require.NoError(t, err)

	_, err = c.Predict(make([]float32, 10)).Get()
	assert.ErrorIs(t, err, ErrTensorShape)
}

func TestFutureWaitGivesUp(t *testing.T) {
	engine := newFakeEngine()
	c := newTestClassifier(t, engine)
	_, err := c.Initialize().Get()
	require.NoError(t, err)

	engine.block = make(chan struct{})
	f := c.Classify(stroke(28, 28))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(engine.block)
	_, err = f.Get()
	assert.NoError(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
