// Package classifier defines the Engine interface for sound-classification
// backends.
//
// An engine wraps a pretrained audio tagging model (e.g., a YAMNet-style
// TFLite model, or a remote scoring server) and exposes it as a pure
// function: one fixed-length PCM window in, one fixed-length vector of
// per-class confidences out. Engines carry no per-stream state — all
// windowing, pooling, and event logic lives upstream — so a single engine is
// shared by every source worker.
//
// Implementations must be safe for concurrent use; backends whose underlying
// runtime is single-threaded (TFLite interpreters) serialise internally.
package classifier

import (
	"context"
	"errors"
)

// ErrEmptyScores is returned when the backend produced no scores for a
// window. It signals a malformed result as opposed to a uniformly
// low-confidence one; callers skip the window.
var ErrEmptyScores = errors.New("classifier: empty score vector")

// ErrWindowSize is returned when the supplied window does not match the
// sample count the model was built for.
var ErrWindowSize = errors.New("classifier: window sample count mismatch")

// ScoreVector is an ordered array of per-class confidences in [0, 1]. The
// index order is fixed by the model's class table and must match the class
// map used for group scoring.
type ScoreVector []float32

// Engine scores fixed-length audio windows.
type Engine interface {
	// Classify scores one window of normalised mono samples. The window must
	// hold exactly [Engine.WindowSamples] samples at [Engine.SampleRate].
	// The call may block for the duration of inference; it honours ctx
	// cancellation at least between queued invocations. The returned vector
	// always has [Engine.Classes] entries on success. Identical input yields
	// identical output.
	Classify(ctx context.Context, window []float32) (ScoreVector, error)

	// Classes returns the fixed class cardinality of the model's output.
	Classes() int

	// WindowSamples returns the exact window length the model accepts.
	WindowSamples() int

	// SampleRate returns the sample rate (Hz) the model was trained for.
	SampleRate() int

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
