package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultRestartDelay is the pause before relaunching a crashed worker.
const defaultRestartDelay = 2 * time.Second

// Supervisor owns the worker set and the summary loop.
type Supervisor struct {
	workers      []*Worker
	log          *slog.Logger
	restartDelay time.Duration

	// summaryInterval of zero disables summaries.
	summaryInterval time.Duration
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSummaryInterval enables periodic event summaries.
func WithSummaryInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.summaryInterval = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// New creates a Supervisor over the given workers.
func New(workers []*Worker, opts ...Option) (*Supervisor, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("supervisor: no workers")
	}
	seen := make(map[string]bool, len(workers))
	for _, w := range workers {
		if seen[w.Name()] {
			return nil, fmt.Errorf("supervisor: duplicate worker %q", w.Name())
		}
		seen[w.Name()] = true
	}
	s := &Supervisor{
		workers:      workers,
		log:          slog.Default(),
		restartDelay: defaultRestartDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks until ctx is cancelled, keeping every worker alive. A worker
// that panics or returns early is restarted with fresh detector state; one
// misbehaving source never takes the others down.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			s.superviseWorker(ctx, w)
			return nil
		})
	}
	if s.summaryInterval > 0 {
		g.Go(func() error {
			s.summaryLoop(ctx)
			return nil
		})
	}
	return g.Wait()
}

// States returns each worker's current lifecycle state by source name.
func (s *Supervisor) States() map[string]State {
	out := make(map[string]State, len(s.workers))
	for _, w := range s.workers {
		out[w.Name()] = w.State()
	}
	return out
}

// superviseWorker runs one worker in a restart loop until ctx ends.
func (s *Supervisor) superviseWorker(ctx context.Context, w *Worker) {
	for {
		err := s.runGuarded(ctx, w)
		if ctx.Err() != nil {
			return
		}
		s.log.Error("worker exited, restarting with fresh state",
			"source", w.Name(),
			"err", err,
		)
		w.Reset()
		if !sleep(ctx, s.restartDelay) {
			return
		}
	}
}

// runGuarded runs the worker, converting a panic into an error so the
// restart loop can handle both uniformly.
func (s *Supervisor) runGuarded(ctx context.Context, w *Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervisor: worker %q panicked: %v", w.Name(), r)
		}
	}()
	return w.Run(ctx)
}

// summaryLoop logs the events started per source and group every
// summaryInterval, clearing the counters after each report. It only reads
// worker counters, never detector state.
func (s *Supervisor) summaryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.summaryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logSummary()
		}
	}
}

func (s *Supervisor) logSummary() {
	total := 0
	var parts []string
	for _, w := range s.workers {
		counts := w.TakeStartCounts()
		if len(counts) == 0 {
			continue
		}
		groups := make([]string, 0, len(counts))
		for g := range counts {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			parts = append(parts, fmt.Sprintf("%s/%s:%d", w.Name(), g, counts[g]))
			total += counts[g]
		}
	}
	if total == 0 {
		s.log.Info("event summary", "interval", s.summaryInterval, "events", 0)
		return
	}
	s.log.Info("event summary",
		"interval", s.summaryInterval,
		"events", total,
		"by_group", strings.Join(parts, " "),
	)
}
