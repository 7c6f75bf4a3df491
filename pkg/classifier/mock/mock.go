// Package mock provides a scripted classifier.Engine for tests.
package mock

import (
	"context"
	"sync"

	"github.com/soundsentry/soundsentry/pkg/classifier"
)

// Compile-time assertion that Engine satisfies classifier.Engine.
var _ classifier.Engine = (*Engine)(nil)

// Engine returns canned score vectors in order, then repeats the last one.
// An entry with a non-nil Err is returned as a failure for that call.
// Safe for concurrent use.
type Engine struct {
	// NumClasses is the reported class cardinality. Defaults to the length
	// of the first scripted vector when zero.
	NumClasses int

	// Window and Rate are the reported window length and sample rate.
	// Zero values default to 15600 and 16000.
	Window int
	Rate   int

	// Script is the sequence of results to return.
	Script []Result

	mu    sync.Mutex
	calls int
}

// Result is one scripted Classify outcome.
type Result struct {
	Scores classifier.ScoreVector
	Err    error
}

// Classify returns the next scripted result.
func (e *Engine) Classify(ctx context.Context, window []float32) (classifier.ScoreVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.Script) == 0 {
		return nil, classifier.ErrEmptyScores
	}
	i := e.calls
	if i >= len(e.Script) {
		i = len(e.Script) - 1
	}
	e.calls++
	r := e.Script[i]
	if r.Err != nil {
		return nil, r.Err
	}
	out := make(classifier.ScoreVector, len(r.Scores))
	copy(out, r.Scores)
	return out, nil
}

// Calls reports how many times Classify has been invoked.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Classes implements classifier.Engine.
func (e *Engine) Classes() int {
	if e.NumClasses > 0 {
		return e.NumClasses
	}
	if len(e.Script) > 0 {
		return len(e.Script[0].Scores)
	}
	return 0
}

// WindowSamples implements classifier.Engine.
func (e *Engine) WindowSamples() int {
	if e.Window > 0 {
		return e.Window
	}
	return 15600
}

// SampleRate implements classifier.Engine.
func (e *Engine) SampleRate() int {
	if e.Rate > 0 {
		return e.Rate
	}
	return 16000
}

// Close implements classifier.Engine.
func (e *Engine) Close() error { return nil }
