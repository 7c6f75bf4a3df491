// Package remote provides a classifier.Engine backed by an HTTP scoring
// server.
//
// The server is expected to expose POST /score accepting one window of raw
// little-endian float32 samples and responding with a JSON body of the form
//
//	{"scores": [0.01, 0.82, ...]}
//
// in the model's class-index order. This lets the heavyweight model runtime
// live in its own process (or on another host) while the profiler stays a
// plain Go binary.
//
// Usage:
//
//	e, err := remote.New("http://localhost:9077",
//	    remote.WithClasses(521),
//	    remote.WithTimeout(5*time.Second),
//	)
//	scores, err := e.Classify(ctx, window)
package remote

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/soundsentry/soundsentry/pkg/classifier"
)

const (
	defaultWindowSamples = 15600
	defaultSampleRate    = 16000
	defaultClasses       = 521
	defaultTimeout       = 10 * time.Second

	// maxResponseBytes caps the score response body. A 521-class JSON body
	// is a few kilobytes; anything near the cap is malformed.
	maxResponseBytes = 1 << 20
)

// Compile-time assertion that Engine satisfies classifier.Engine.
var _ classifier.Engine = (*Engine)(nil)

// Engine scores windows against a remote HTTP scoring server.
type Engine struct {
	baseURL       string
	classes       int
	windowSamples int
	sampleRate    int
	client        *http.Client
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithClasses sets the expected class cardinality of the server's score
// vectors. Responses of any other length are rejected. Defaults to 521
// (the YAMNet class table).
func WithClasses(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.classes = n
		}
	}
}

// WithWindowSamples sets the window length the server expects. Defaults to
// 15600.
func WithWindowSamples(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.windowSamples = n
		}
	}
}

// WithSampleRate sets the sample rate of submitted audio. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(e *Engine) {
		if rate > 0 {
			e.sampleRate = rate
		}
	}
}

// WithTimeout sets the per-request timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.client = c
		}
	}
}

// New creates an Engine talking to the scoring server at baseURL.
func New(baseURL string, opts ...Option) (*Engine, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	e := &Engine{
		baseURL:       strings.TrimRight(baseURL, "/"),
		classes:       defaultClasses,
		windowSamples: defaultWindowSamples,
		sampleRate:    defaultSampleRate,
		client:        &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// scoreResponse is the JSON body returned by the scoring server.
type scoreResponse struct {
	Scores []float32 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

// Classify implements classifier.Engine.
func (e *Engine) Classify(ctx context.Context, window []float32) (classifier.ScoreVector, error) {
	if len(window) != e.windowSamples {
		return nil, fmt.Errorf("%w: got %d, want %d", classifier.ErrWindowSize, len(window), e.windowSamples)
	}

	body := make([]byte, 4*len(window))
	for i, s := range window {
		binary.LittleEndian.PutUint32(body[4*i:], math.Float32bits(s))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: score request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: scoring server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var sr scoreResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("remote: scoring server error: %s", sr.Error)
	}
	if len(sr.Scores) == 0 {
		return nil, classifier.ErrEmptyScores
	}
	if len(sr.Scores) != e.classes {
		return nil, fmt.Errorf("remote: got %d scores, want %d", len(sr.Scores), e.classes)
	}
	return classifier.ScoreVector(sr.Scores), nil
}

// Classes implements classifier.Engine.
func (e *Engine) Classes() int { return e.classes }

// WindowSamples implements classifier.Engine.
func (e *Engine) WindowSamples() int { return e.windowSamples }

// SampleRate implements classifier.Engine.
func (e *Engine) SampleRate() int { return e.sampleRate }

// Close implements classifier.Engine. The shared HTTP client holds no
// per-engine resources.
func (e *Engine) Close() error { return nil }
