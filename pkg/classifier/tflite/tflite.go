// Package tflite provides an in-process classifier.Engine backed by a
// TensorFlow Lite audio tagging model via the go-tflite CGO bindings.
//
// The model is loaded once at startup and shared by all source workers.
// TFLite interpreters are not safe for concurrent invocation, so Classify
// serialises calls on an internal mutex; with many sources the engine is the
// pipeline's natural choke point and workers simply suspend there.
//
// The TensorFlow Lite C library (libtensorflowlite_c) must be available at
// link time.
package tflite

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tflitelib "github.com/mattn/go-tflite"

	"github.com/soundsentry/soundsentry/pkg/classifier"
)

const (
	defaultWindowSamples = 15600
	defaultSampleRate    = 16000
	defaultThreads       = 2
)

// Compile-time assertion that Engine satisfies classifier.Engine.
var _ classifier.Engine = (*Engine)(nil)

// Engine runs a TFLite audio tagging model in process.
type Engine struct {
	windowSamples int
	sampleRate    int
	threads       int
	classes       int

	mu      sync.Mutex // serialises Invoke; also guards closed
	model   *tflitelib.Model
	options *tflitelib.InterpreterOptions
	interp  *tflitelib.Interpreter
	closed  bool
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThreads sets the TFLite interpreter thread count. Defaults to 2.
func WithThreads(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threads = n
		}
	}
}

// WithWindowSamples sets the expected model input length in samples.
// Defaults to 15600 (0.975 s at 16 kHz, the YAMNet window).
func WithWindowSamples(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.windowSamples = n
		}
	}
}

// WithSampleRate sets the sample rate the model was trained for. Purely
// informational for upstream plumbing; defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(e *Engine) {
		if rate > 0 {
			e.sampleRate = rate
		}
	}
}

// New loads the TFLite model at modelPath and prepares an interpreter.
// It validates that the model takes a single float32 input of the configured
// window length and produces a single float32 score tensor.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("tflite: modelPath must not be empty")
	}

	e := &Engine{
		windowSamples: defaultWindowSamples,
		sampleRate:    defaultSampleRate,
		threads:       defaultThreads,
	}
	for _, o := range opts {
		o(e)
	}

	e.model = tflitelib.NewModelFromFile(modelPath)
	if e.model == nil {
		return nil, fmt.Errorf("tflite: load model %q", modelPath)
	}

	e.options = tflitelib.NewInterpreterOptions()
	e.options.SetNumThread(e.threads)

	e.interp = tflitelib.NewInterpreter(e.model, e.options)
	if e.interp == nil {
		e.Close()
		return nil, fmt.Errorf("tflite: create interpreter for %q", modelPath)
	}
	if status := e.interp.AllocateTensors(); status != tflitelib.OK {
		e.Close()
		return nil, fmt.Errorf("tflite: allocate tensors: status %v", status)
	}

	input := e.interp.GetInputTensor(0)
	if input == nil {
		e.Close()
		return nil, errors.New("tflite: model has no input tensor")
	}
	if input.Type() != tflitelib.Float32 {
		e.Close()
		return nil, fmt.Errorf("tflite: input tensor type %v, want float32", input.Type())
	}
	if n := len(input.Float32s()); n != e.windowSamples {
		e.Close()
		return nil, fmt.Errorf("tflite: model input length %d, want %d samples", n, e.windowSamples)
	}

	output := e.interp.GetOutputTensor(0)
	if output == nil {
		e.Close()
		return nil, errors.New("tflite: model has no output tensor")
	}
	e.classes = len(output.Float32s())
	if e.classes == 0 {
		e.Close()
		return nil, errors.New("tflite: model output tensor is empty")
	}

	return e, nil
}

// Classify implements classifier.Engine. The call blocks for the duration of
// inference; cancellation is observed before the interpreter is entered.
func (e *Engine) Classify(ctx context.Context, window []float32) (classifier.ScoreVector, error) {
	if len(window) != e.windowSamples {
		return nil, fmt.Errorf("%w: got %d, want %d", classifier.ErrWindowSize, len(window), e.windowSamples)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.New("tflite: engine is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := e.interp.GetInputTensor(0)
	copy(input.Float32s(), window)

	if status := e.interp.Invoke(); status != tflitelib.OK {
		return nil, fmt.Errorf("tflite: invoke: status %v", status)
	}

	raw := e.interp.GetOutputTensor(0).Float32s()
	if len(raw) == 0 {
		return nil, classifier.ErrEmptyScores
	}
	// Copy out: the tensor buffer is reused by the next Invoke.
	scores := make(classifier.ScoreVector, len(raw))
	copy(scores, raw)
	return scores, nil
}

// Classes implements classifier.Engine.
func (e *Engine) Classes() int { return e.classes }

// WindowSamples implements classifier.Engine.
func (e *Engine) WindowSamples() int { return e.windowSamples }

// SampleRate implements classifier.Engine.
func (e *Engine) SampleRate() int { return e.sampleRate }

// Close releases the interpreter and model. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.interp != nil {
		e.interp.Delete()
		e.interp = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}
