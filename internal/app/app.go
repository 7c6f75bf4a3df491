// Package app wires all soundsentry subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the supervised worker set, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithEngine, WithSink, WithSource). When an option is not provided, New
// creates real implementations through the config registry.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soundsentry/soundsentry/internal/config"
	"github.com/soundsentry/soundsentry/internal/detect"
	"github.com/soundsentry/soundsentry/internal/score"
	"github.com/soundsentry/soundsentry/internal/soundlog"
	"github.com/soundsentry/soundsentry/internal/supervisor"
	"github.com/soundsentry/soundsentry/pkg/capture"
	"github.com/soundsentry/soundsentry/pkg/classifier"
	"github.com/soundsentry/soundsentry/pkg/publish"
)

// App owns all subsystem lifetimes and orchestrates the profiling pipeline.
type App struct {
	cfg *config.Config

	classMap *score.ClassMap
	engine   classifier.Engine
	sink     publish.Sink
	soundLog *soundlog.Logger
	sup      *supervisor.Supervisor

	// sources holds injected capture overrides by source name.
	sources map[string]capture.Source

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEngine injects a classifier engine instead of creating one from config.
func WithEngine(e classifier.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithSink injects a publish sink instead of creating one from config.
func WithSink(s publish.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithSource injects a capture source for the named config source instead of
// creating it through the registry.
func WithSource(name string, src capture.Source) Option {
	return func(a *App) { a.sources[name] = src }
}

// New creates an App by wiring all subsystems together. Backends not covered
// by an Option are created through reg. New performs all initialisation
// synchronously: class map load, classifier construction, sink connection,
// and worker assembly; the capture streams themselves open lazily in Run.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		sources: make(map[string]capture.Source),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initClassMap(); err != nil {
		return nil, fmt.Errorf("app: init class map: %w", err)
	}
	if err := a.initEngine(reg); err != nil {
		return nil, fmt.Errorf("app: init classifier: %w", err)
	}
	if err := a.initSink(reg); err != nil {
		return nil, fmt.Errorf("app: init sink: %w", err)
	}
	if err := a.initSoundLog(); err != nil {
		return nil, fmt.Errorf("app: init sound log: %w", err)
	}
	if err := a.initSupervisor(reg); err != nil {
		return nil, fmt.Errorf("app: init supervisor: %w", err)
	}

	return a, nil
}

// initClassMap loads the class table and warns about configured groups it
// does not contain.
func (a *App) initClassMap() error {
	cm, err := score.LoadClassMap(a.cfg.Classifier.ClassMapPath)
	if err != nil {
		return err
	}
	a.classMap = cm
	a.cfg.WarnUnknownGroups(cm.Groups())
	slog.Info("class map loaded",
		"path", a.cfg.Classifier.ClassMapPath,
		"classes", cm.Len(),
		"groups", len(cm.Groups()),
	)
	return nil
}

// initEngine creates the classifier backend and cross-checks its class
// cardinality against the class map.
func (a *App) initEngine(reg *config.Registry) error {
	if a.engine == nil {
		eng, err := reg.CreateClassifier(a.cfg.Classifier)
		if err != nil {
			return err
		}
		a.engine = eng
	}
	a.closers = append(a.closers, a.engine.Close)

	if n := a.engine.Classes(); n != 0 && n != a.classMap.Len() {
		return fmt.Errorf("classifier outputs %d classes but the class map has %d", n, a.classMap.Len())
	}
	return nil
}

// initSink creates the publish sink.
func (a *App) initSink(reg *config.Registry) error {
	if a.sink == nil {
		sink, err := reg.CreatePublish(a.cfg.Publish)
		if err != nil {
			return err
		}
		a.sink = sink
	}
	a.closers = append(a.closers, a.sink.Close)
	return nil
}

// initSoundLog opens the CSV detection log when enabled. A nil logger is a
// no-op everywhere downstream.
func (a *App) initSoundLog() error {
	if !a.cfg.SoundLog.Enabled {
		return nil
	}
	l, err := soundlog.New(a.cfg.SoundLog.Dir)
	if err != nil {
		return err
	}
	a.soundLog = l
	a.closers = append(a.closers, l.Close)
	slog.Info("sound log enabled", "path", l.Path())
	return nil
}

// initSupervisor builds one worker per configured source and the supervisor
// over them.
func (a *App) initSupervisor(reg *config.Registry) error {
	scorer, err := score.NewScorer(a.classMap, score.Params{
		NoiseThreshold:  a.cfg.Scoring.NoiseThreshold,
		TopK:            a.cfg.Scoring.TopK,
		DefaultMinScore: a.cfg.Scoring.DefaultMinScore,
		MinScores:       filterMinScores(a.cfg.Sounds.Filters),
		ExcludeGroups:   a.cfg.Scoring.ExcludeGroups,
	})
	if err != nil {
		return err
	}

	workers := make([]*supervisor.Worker, 0, len(a.cfg.Sources))
	for _, sc := range a.cfg.Sources {
		src, ok := a.sources[sc.Name]
		if !ok {
			src, err = reg.CreateCapture(sc)
			if err != nil {
				return fmt.Errorf("source %q: %w", sc.Name, err)
			}
		}

		w, err := supervisor.NewWorker(supervisor.WorkerConfig{
			SourceName:     sc.Name,
			Source:         src,
			Engine:         a.engine,
			Scorer:         scorer,
			Sink:           a.sink,
			Aggregation:    score.Aggregation(a.cfg.Scoring.AggregationMethod),
			TrackedGroups:  a.cfg.Sounds.Track,
			Detect:         detect.Params{
				WindowDetect: a.cfg.Events.WindowDetect,
				Persistence:  a.cfg.Events.Persistence,
				Decay:        a.cfg.Events.Decay,
			},
			SampleDuration: a.cfg.Events.SampleDuration.Std(),
			ReadTimeout:    sc.ReadTimeout.Std(),
			SoundLog:       a.soundLog,
		})
		if err != nil {
			return fmt.Errorf("source %q: %w", sc.Name, err)
		}
		workers = append(workers, w)
		slog.Info("source configured", "name", sc.Name, "backend", sc.Backend)
	}

	sup, err := supervisor.New(workers,
		supervisor.WithSummaryInterval(a.cfg.SummaryInterval.Std()),
	)
	if err != nil {
		return err
	}
	a.sup = sup
	return nil
}

// Run starts the supervised worker set and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("profiler running",
		"sources", len(a.cfg.Sources),
		"tracked_groups", a.cfg.Sounds.Track,
	)
	return a.sup.Run(ctx)
}

// Engine returns the classifier engine, for health checks.
func (a *App) Engine() classifier.Engine {
	return a.engine
}

// Sink returns the publish sink, for health checks.
func (a *App) Sink() publish.Sink {
	return a.sink
}

// SourceStates returns each worker's lifecycle state by source name.
func (a *App) SourceStates() map[string]string {
	states := a.sup.States()
	out := make(map[string]string, len(states))
	for name, s := range states {
		out[name] = s.String()
	}
	return out
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// filterMinScores flattens the per-group filter table into the scorer's
// override map.
func filterMinScores(filters map[string]config.GroupFilter) map[string]float64 {
	if len(filters) == 0 {
		return nil
	}
	out := make(map[string]float64, len(filters))
	for g, f := range filters {
		out[g] = f.MinScore
	}
	return out
}
