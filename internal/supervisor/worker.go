// Package supervisor runs one worker per configured audio source and keeps
// the set alive: crashed workers restart with fresh detector state, lost
// streams reconnect with bounded backoff, and a periodic summary reports
// events started per group.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soundsentry/soundsentry/internal/detect"
	"github.com/soundsentry/soundsentry/internal/observe"
	"github.com/soundsentry/soundsentry/internal/score"
	"github.com/soundsentry/soundsentry/internal/soundlog"
	"github.com/soundsentry/soundsentry/pkg/audio"
	"github.com/soundsentry/soundsentry/pkg/capture"
	"github.com/soundsentry/soundsentry/pkg/classifier"
	"github.com/soundsentry/soundsentry/pkg/publish"
)

// State is a worker's lifecycle state. The numeric values double as the
// source-state gauge codes.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateStreaming
	StateDegraded
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	default:
		return "stopped"
	}
}

const (
	// connectAttempts bounds the fast reconnect phase before a worker goes
	// degraded.
	connectAttempts = 3

	// connectBackoff is the initial delay between fast reconnect attempts;
	// it doubles per attempt.
	connectBackoff = 1 * time.Second

	// degradedRetryInterval is the fixed retry period of a degraded worker.
	degradedRetryInterval = 60 * time.Second

	// publishTimeout bounds one publish attempt from the worker side, on
	// top of whatever bound the sink itself applies.
	publishTimeout = 5 * time.Second
)

// WorkerConfig assembles everything one source worker needs.
type WorkerConfig struct {
	// SourceName identifies the source in logs, events, and metrics.
	SourceName string

	Source capture.Source
	Engine classifier.Engine
	Scorer *score.Scorer
	Sink   publish.Sink

	// Aggregation pools per-window vectors into the per-sample vector.
	Aggregation score.Aggregation

	// TrackedGroups lists the groups eligible for event detection.
	TrackedGroups []string

	// Detect tunes the per-group hysteresis detectors.
	Detect detect.Params

	// SampleDuration is the audio gathered per sample cycle.
	SampleDuration time.Duration

	// ReadTimeout bounds how long the stream may go silent.
	ReadTimeout time.Duration

	// ConnectBackoff overrides the initial fast-reconnect delay. Zero means
	// the default of 1s.
	ConnectBackoff time.Duration

	// DegradedRetryInterval overrides the degraded retry period. Zero means
	// the default of 60s.
	DegradedRetryInterval time.Duration

	// Metrics to record into. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// SoundLog is optional; nil disables CSV detection logging.
	SoundLog *soundlog.Logger

	// Logger for worker diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Worker owns one capture stream and the full per-sample pipeline for it.
// Run is single-threaded; State and TakeStartCounts may be called from other
// goroutines.
type Worker struct {
	cfg WorkerConfig
	log *slog.Logger

	windowSamples    int
	stepSamples      int
	windowsPerSample int

	detectors map[string]*detect.Detector
	state     atomic.Int32

	mu          sync.Mutex
	startCounts map[string]int

	// now is swapped in tests for deterministic timestamps.
	now func() time.Time
}

// NewWorker validates cfg and derives the per-sample window count from the
// classifier's window geometry and the configured sample duration.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.SourceName == "" {
		return nil, errors.New("supervisor: worker needs a source name")
	}
	if cfg.Source == nil || cfg.Engine == nil || cfg.Scorer == nil || cfg.Sink == nil {
		return nil, errors.New("supervisor: worker needs a source, engine, scorer, and sink")
	}
	if cfg.SampleDuration <= 0 {
		return nil, fmt.Errorf("supervisor: sample duration %s must be positive", cfg.SampleDuration)
	}
	if cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("supervisor: read timeout %s must be positive", cfg.ReadTimeout)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = connectBackoff
	}
	if cfg.DegradedRetryInterval <= 0 {
		cfg.DegradedRetryInterval = degradedRetryInterval
	}

	windowSamples := cfg.Engine.WindowSamples()
	stepSamples := windowSamples / 2
	sampleSamples := int(cfg.SampleDuration.Seconds() * float64(cfg.Engine.SampleRate()))
	windowsPerSample := 1
	if sampleSamples > windowSamples {
		windowsPerSample = (sampleSamples-windowSamples)/stepSamples + 1
	}

	w := &Worker{
		cfg:              cfg,
		log:              cfg.Logger.With("source", cfg.SourceName),
		windowSamples:    windowSamples,
		stepSamples:      stepSamples,
		windowsPerSample: windowsPerSample,
		detectors:        make(map[string]*detect.Detector, len(cfg.TrackedGroups)),
		startCounts:      make(map[string]int),
		now:              time.Now,
	}
	for _, g := range cfg.TrackedGroups {
		d, err := detect.New(cfg.Detect)
		if err != nil {
			return nil, err
		}
		w.detectors[g] = d
	}
	return w, nil
}

// Name returns the worker's source name.
func (w *Worker) Name() string {
	return w.cfg.SourceName
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// TakeStartCounts returns the events started per group since the last call
// and clears the counters.
func (w *Worker) TakeStartCounts() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.startCounts) == 0 {
		return nil
	}
	out := w.startCounts
	w.startCounts = make(map[string]int)
	return out
}

// Reset clears all detector state and counters. The supervisor calls it
// before restarting a crashed worker.
func (w *Worker) Reset() {
	for _, d := range w.detectors {
		d.Reset()
	}
	w.mu.Lock()
	w.startCounts = make(map[string]int)
	w.mu.Unlock()
}

// Run drives the connect/stream/reconnect loop until ctx is cancelled. The
// returned error is always ctx's cause; stream losses are handled in place.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(ctx, StateStopped)

	for {
		stream, err := w.connect(ctx)
		if err != nil {
			return err
		}
		w.setState(ctx, StateStreaming)
		w.log.Info("stream open")

		streamErr := w.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// The stream is gone. Detector state describes audio we are no
		// longer hearing; drop it rather than carry hits across the gap.
		w.resetDetectors()
		w.cfg.Metrics.RecordStreamRestart(ctx, w.cfg.SourceName)
		if errors.Is(streamErr, capture.ErrStreamEnded) {
			w.log.Warn("stream ended, reconnecting")
		} else {
			w.log.Warn("stream lost, reconnecting", "err", streamErr)
		}
	}
}

// connect opens the capture stream: a bounded fast phase with exponential
// backoff, then a degraded phase retrying at a long fixed interval until the
// source recovers or ctx ends.
func (w *Worker) connect(ctx context.Context) (capture.Stream, error) {
	w.setState(ctx, StateConnecting)

	backoff := w.cfg.ConnectBackoff
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		stream, err := w.cfg.Source.Open(ctx)
		if err == nil {
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.log.Warn("open failed", "attempt", attempt, "err", err)
		if attempt == connectAttempts {
			break
		}
		if !sleep(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	w.setState(ctx, StateDegraded)
	w.log.Error("source degraded, retrying on long interval", "interval", w.cfg.DegradedRetryInterval)
	for {
		if !sleep(ctx, w.cfg.DegradedRetryInterval) {
			return nil, ctx.Err()
		}
		stream, err := w.cfg.Source.Open(ctx)
		if err == nil {
			w.log.Info("source recovered")
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.log.Warn("degraded retry failed", "err", err)
	}
}

// consume reads the stream chunk by chunk, builds analysis windows, and runs
// a sample cycle every windowsPerSample windows. Returns when the stream
// ends, times out, or ctx is cancelled.
func (w *Worker) consume(ctx context.Context, stream capture.Stream) error {
	builder, err := audio.NewWindowBuilder(w.windowSamples, w.stepSamples)
	if err != nil {
		return err
	}

	var vectors []classifier.ScoreVector
	windowsSeen := 0

	timer := time.NewTimer(w.cfg.ReadTimeout)
	defer timer.Stop()

	for {
		timer.Reset(w.cfg.ReadTimeout)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("supervisor: no audio for %s: %w", w.cfg.ReadTimeout, capture.ErrStreamEnded)
		case chunk, ok := <-stream.Chunks():
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return capture.ErrStreamEnded
			}
			builder.Write(chunk)
		}

		for {
			window, ok := builder.Next()
			if !ok {
				break
			}
			windowsSeen++

			start := time.Now()
			scores, err := w.cfg.Engine.Classify(ctx, window.Samples)
			w.cfg.Metrics.RecordClassification(ctx, w.cfg.SourceName, time.Since(start).Seconds(), err)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// A failed window is skipped; the sample proceeds with
				// whatever windows did classify.
				w.log.Warn("classification failed, skipping window", "err", err)
			} else {
				vectors = append(vectors, scores)
			}

			if windowsSeen >= w.windowsPerSample {
				if len(vectors) > 0 {
					w.processSample(ctx, vectors)
				} else {
					w.log.Warn("all windows in sample failed classification")
				}
				vectors = vectors[:0]
				windowsSeen = 0
			}
		}
	}
}

// processSample pools the sample's vectors, scores groups, advances each
// tracked group's detector, and publishes any resulting event boundaries.
func (w *Worker) processSample(ctx context.Context, vectors []classifier.ScoreVector) {
	at := w.now()

	pooled, err := score.Pool(vectors, w.cfg.Aggregation)
	if err != nil {
		w.log.Error("pooling failed, dropping sample", "err", err)
		return
	}
	results, err := w.cfg.Scorer.Score(pooled)
	if err != nil {
		w.log.Error("scoring failed, dropping sample", "err", err)
		return
	}
	w.cfg.Metrics.RecordSample(ctx, w.cfg.SourceName)

	byGroup := make(map[string]score.GroupScore, len(results))
	for _, gs := range results {
		byGroup[gs.Group] = gs
		w.log.Debug("group detected",
			"group", gs.Group,
			"score", gs.Score,
			"class", gs.TopClass,
		)
		if err := w.cfg.SoundLog.Detection(at, w.cfg.SourceName, gs.Group, gs.Score, gs.TopClass, gs.TopScore); err != nil {
			w.log.Warn("sound log write failed", "err", err)
		}
	}

	for _, group := range w.cfg.TrackedGroups {
		gs, hit := byGroup[group]
		switch w.detectors[group].Observe(hit, at) {
		case detect.TransitionStart:
			w.emit(ctx, publish.Event{
				ID:        uuid.NewString(),
				Source:    w.cfg.SourceName,
				Group:     group,
				Type:      publish.EventStart,
				Score:     gs.Score,
				Timestamp: at,
			})
			w.countStart(group)
		case detect.TransitionEnd:
			started := w.detectors[group].StartedAt()
			w.emit(ctx, publish.Event{
				ID:        uuid.NewString(),
				Source:    w.cfg.SourceName,
				Group:     group,
				Type:      publish.EventEnd,
				Score:     gs.Score,
				Timestamp: at,
				StartedAt: &started,
			})
		}
	}
}

// emit publishes one event boundary with a bounded timeout. Publish failures
// are logged and counted, never retried.
func (w *Worker) emit(ctx context.Context, ev publish.Event) {
	w.log.Info("sound event",
		"group", ev.Group,
		"event", string(ev.Type),
		"score", ev.Score,
	)
	w.cfg.Metrics.RecordEvent(ctx, ev.Source, ev.Group, string(ev.Type))
	if err := w.cfg.SoundLog.Event(ev.Timestamp, ev.Source, ev.Group, ev.Score, string(ev.Type)); err != nil {
		w.log.Warn("sound log write failed", "err", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := w.cfg.Sink.Publish(pubCtx, ev); err != nil {
		w.cfg.Metrics.RecordPublishError(ctx, ev.Source)
		w.log.Warn("publish failed, event dropped", "event", string(ev.Type), "err", err)
	}
}

func (w *Worker) countStart(group string) {
	w.mu.Lock()
	w.startCounts[group]++
	w.mu.Unlock()
}

func (w *Worker) resetDetectors() {
	for _, d := range w.detectors {
		d.Reset()
	}
}

func (w *Worker) setState(ctx context.Context, s State) {
	w.state.Store(int32(s))
	w.cfg.Metrics.RecordSourceState(ctx, w.cfg.SourceName, int64(s))
}

// sleep waits for d or until ctx is done; it reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
