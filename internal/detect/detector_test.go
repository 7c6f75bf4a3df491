package detect_test

import (
	"testing"
	"time"

	"github.com/soundsentry/soundsentry/internal/detect"
)

func mustNew(t *testing.T, p detect.Params) *detect.Detector {
	t.Helper()
	d, err := detect.New(p)
	if err != nil {
		t.Fatalf("New(%+v): %v", p, err)
	}
	return d
}

// feed runs a hit/miss sequence through the detector, advancing a synthetic
// clock one second per sample, and returns the non-none transitions with the
// sample index each fired on.
type edge struct {
	index int
	tr    detect.Transition
}

func feed(d *detect.Detector, samples []bool) []edge {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var edges []edge
	for i, hit := range samples {
		if tr := d.Observe(hit, base.Add(time.Duration(i)*time.Second)); tr != detect.TransitionNone {
			edges = append(edges, edge{index: i, tr: tr})
		}
	}
	return edges
}

func TestDetector_StartAfterPersistenceHits(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 5, Persistence: 2, Decay: 3})
	edges := feed(d, []bool{true, true, true})

	if len(edges) != 1 || edges[0].tr != detect.TransitionStart || edges[0].index != 1 {
		t.Fatalf("edges = %v, want a single start on sample 1", edges)
	}
	if !d.Active() {
		t.Error("detector idle after a start")
	}
}

func TestDetector_StartTimestampIsTriggeringSample(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 5, Persistence: 2, Decay: 3})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	d.Observe(true, base)
	tr := d.Observe(true, base.Add(time.Second))
	if tr != detect.TransitionStart {
		t.Fatalf("transition = %v, want start", tr)
	}
	if got := d.StartedAt(); !got.Equal(base.Add(time.Second)) {
		t.Errorf("StartedAt = %v, want %v", got, base.Add(time.Second))
	}
}

func TestDetector_NoStartBelowPersistence(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 5, Persistence: 3, Decay: 2})
	edges := feed(d, []bool{true, false, true, false, true})

	// Window holds [1,0,1,0,1]: 3 hits, and the last sample is a hit.
	if len(edges) != 1 || edges[0].tr != detect.TransitionStart || edges[0].index != 4 {
		t.Fatalf("edges = %v, want a single start on sample 4", edges)
	}

	d.Reset()
	edges = feed(d, []bool{true, false, true})
	if len(edges) != 0 {
		t.Fatalf("edges = %v, want none with only 2 hits in window", edges)
	}
}

func TestDetector_EndAfterConsecutiveMisses(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 5, Persistence: 2, Decay: 3})
	edges := feed(d, []bool{true, true, false, false, false})

	want := []edge{
		{index: 1, tr: detect.TransitionStart},
		{index: 4, tr: detect.TransitionEnd},
	}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v, want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %v, want %v", i, edges[i], want[i])
		}
	}
	if d.Active() {
		t.Error("detector still active after end")
	}
}

func TestDetector_InterruptedMissesDoNotEnd(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 5, Persistence: 2, Decay: 3})
	// Two misses, a hit resetting the run, then two more misses.
	edges := feed(d, []bool{true, true, false, false, true, false, false})

	if len(edges) != 1 || edges[0].tr != detect.TransitionStart {
		t.Fatalf("edges = %v, want only the start", edges)
	}
	if !d.Active() {
		t.Error("detector ended despite the miss run never reaching decay")
	}
}

func TestDetector_EndPreservesStartTime(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 5, Persistence: 1, Decay: 2})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if tr := d.Observe(true, base); tr != detect.TransitionStart {
		t.Fatalf("transition = %v, want start", tr)
	}
	d.Observe(false, base.Add(time.Second))
	if tr := d.Observe(false, base.Add(2*time.Second)); tr != detect.TransitionEnd {
		t.Fatalf("transition = %v, want end", tr)
	}
	if got := d.StartedAt(); !got.Equal(base) {
		t.Errorf("StartedAt after end = %v, want original %v", got, base)
	}
}

func TestDetector_FullEventCycle(t *testing.T) {
	t.Parallel()

	// The canonical shape: scores [hit, hit, miss, miss, miss] with
	// window_detect=5, persistence=2, decay=2 yields exactly one start
	// (sample 1) and one end (sample 3).
	d := mustNew(t, detect.Params{WindowDetect: 5, Persistence: 2, Decay: 2})
	edges := feed(d, []bool{true, true, false, false, false})

	want := []edge{
		{index: 1, tr: detect.TransitionStart},
		{index: 3, tr: detect.TransitionEnd},
	}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v, want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %v, want %v", i, edges[i], want[i])
		}
	}
}

func TestDetector_RestartAfterEnd(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 5, Persistence: 2, Decay: 2})
	edges := feed(d, []bool{true, true, false, false, true, true})

	// The sound returning after the end opens a fresh event.
	want := []detect.Transition{detect.TransitionStart, detect.TransitionEnd, detect.TransitionStart}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v, want transitions %v", edges, want)
	}
	for i := range want {
		if edges[i].tr != want[i] {
			t.Errorf("edge %d = %v, want %v", i, edges[i].tr, want[i])
		}
	}
}

func TestDetector_ReplayAfterResetIsIdentical(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 4, Persistence: 2, Decay: 2})
	seq := []bool{false, true, true, false, false, true, true, true, false, false}

	first := feed(d, seq)
	d.Reset()
	second := feed(d, seq)

	if len(first) != len(second) {
		t.Fatalf("replay edges = %v, first run %v", second, first)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("edge %d differs: first %v, replay %v", i, first[i], second[i])
		}
	}
}

func TestDetector_SlidingWindowForgetsOldHits(t *testing.T) {
	t.Parallel()

	d := mustNew(t, detect.Params{WindowDetect: 3, Persistence: 2, Decay: 2})
	// Two early hits age out of the 3-sample window before the next hit, so
	// the final hit stands alone and no start fires.
	edges := feed(d, []bool{true, true, false})
	if len(edges) != 1 || edges[0].tr != detect.TransitionStart {
		t.Fatalf("edges = %v, want the initial start", edges)
	}

	d.Reset()
	edges = feed(d, []bool{true, false, false, false, true})
	if len(edges) != 0 {
		t.Fatalf("edges = %v, want none once the first hit aged out", edges)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		p    detect.Params
	}{
		{"zero window", detect.Params{WindowDetect: 0, Persistence: 1, Decay: 1}},
		{"zero persistence", detect.Params{WindowDetect: 5, Persistence: 0, Decay: 1}},
		{"persistence above window", detect.Params{WindowDetect: 3, Persistence: 4, Decay: 1}},
		{"zero decay", detect.Params{WindowDetect: 5, Persistence: 2, Decay: 0}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := detect.New(tc.p); err == nil {
				t.Errorf("New accepted %+v", tc.p)
			}
		})
	}
}
