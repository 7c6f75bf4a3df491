package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	capturemock "github.com/soundsentry/soundsentry/pkg/capture/mock"
	"github.com/soundsentry/soundsentry/pkg/classifier"
	classifiermock "github.com/soundsentry/soundsentry/pkg/classifier/mock"
)

// panicOnceEngine panics on its first Classify call and behaves like the
// embedded mock afterwards.
type panicOnceEngine struct {
	classifiermock.Engine

	mu       sync.Mutex
	panicked bool
}

func (e *panicOnceEngine) Classify(ctx context.Context, window []float32) (classifier.ScoreVector, error) {
	e.mu.Lock()
	first := !e.panicked
	e.panicked = true
	e.mu.Unlock()
	if first {
		panic("tensor shape mismatch")
	}
	return e.Engine.Classify(ctx, window)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New accepted an empty worker set")
	}

	eng := &classifiermock.Engine{Window: testWindow, Rate: testRate}
	mk := func() *Worker {
		w, err := NewWorker(testWorkerConfig(t, &capturemock.Source{}, eng, &recordingSink{}))
		if err != nil {
			t.Fatalf("NewWorker: %v", err)
		}
		return w
	}
	if _, err := New([]*Worker{mk(), mk()}); err == nil {
		t.Error("New accepted duplicate worker names")
	}
}

func TestSupervisor_RestartsPanickedWorker(t *testing.T) {
	eng := &panicOnceEngine{Engine: classifiermock.Engine{
		Window: testWindow,
		Rate:   testRate,
		Script: []classifiermock.Result{{Scores: missVector}},
	}}
	// Stream one triggers the panic; stream two serves the restarted worker.
	src := &capturemock.Source{
		Streams: []*capturemock.Stream{
			{Script: [][]byte{pcm(4)}, Hold: true},
			{Script: [][]byte{pcm(4)}, Hold: true},
		},
	}

	w, err := NewWorker(testWorkerConfig(t, src, eng, &recordingSink{}))
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	sup, err := New([]*Worker{w})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sup.restartDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// The restarted worker reaches the second stream and classifies its
	// window without panicking.
	waitFor(t, func() bool { return src.OpenCalls() == 2 }, "worker restart")
	waitFor(t, func() bool { return w.State() == StateStreaming }, "restarted worker streaming")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSupervisor_IsolatesWorkerFailure(t *testing.T) {
	// Worker one can never connect; worker two streams fine.
	failSrc := &capturemock.Source{OpenErrs: make([]error, 100)}
	for i := range failSrc.OpenErrs {
		failSrc.OpenErrs[i] = context.DeadlineExceeded
	}
	okSrc := &capturemock.Source{
		Streams: []*capturemock.Stream{{Script: [][]byte{pcm(4)}, Hold: true}},
	}
	eng := &classifiermock.Engine{Window: testWindow, Rate: testRate,
		Script: []classifiermock.Result{{Scores: missVector}}}

	cfgA := testWorkerConfig(t, failSrc, eng, &recordingSink{})
	cfgA.SourceName = "broken"
	wa, err := NewWorker(cfgA)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	cfgB := testWorkerConfig(t, okSrc, eng, &recordingSink{})
	cfgB.SourceName = "healthy"
	wb, err := NewWorker(cfgB)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	sup, err := New([]*Worker{wa, wb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	waitFor(t, func() bool { return wa.State() == StateDegraded }, "broken source degraded")
	waitFor(t, func() bool { return wb.State() == StateStreaming }, "healthy source streaming")

	states := sup.States()
	if states["broken"] != StateDegraded || states["healthy"] != StateStreaming {
		t.Errorf("states = %v", states)
	}
}

func TestSupervisor_SummaryClearsCounters(t *testing.T) {
	eng := &classifiermock.Engine{Window: testWindow, Rate: testRate}
	w, err := NewWorker(testWorkerConfig(t, &capturemock.Source{}, eng, &recordingSink{}))
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	sup, err := New([]*Worker{w}, WithSummaryInterval(time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w.countStart("birds")
	w.countStart("birds")
	w.countStart("people")

	sup.logSummary()

	if counts := w.TakeStartCounts(); counts != nil {
		t.Errorf("counts after summary = %v, want cleared", counts)
	}
	// An empty interval logs a zero summary without panicking.
	sup.logSummary()
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateStopped:    "stopped",
		StateConnecting: "connecting",
		StateStreaming:  "streaming",
		StateDegraded:   "degraded",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
