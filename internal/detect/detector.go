// Package detect turns per-sample group hits into discrete sound events
// using sliding-window hysteresis. Each (source, group) pair owns one
// Detector; a start fires once enough recent samples scored above the
// reporting threshold, an end fires after a run of consecutive misses.
package detect

import (
	"fmt"
	"time"
)

// Transition is the event edge produced by one observation.
type Transition int

const (
	// TransitionNone means the detector state did not change.
	TransitionNone Transition = iota

	// TransitionStart marks the beginning of a sound event.
	TransitionStart

	// TransitionEnd marks the end of a sound event.
	TransitionEnd
)

// String implements fmt.Stringer for log output.
func (t Transition) String() string {
	switch t {
	case TransitionStart:
		return "start"
	case TransitionEnd:
		return "end"
	default:
		return "none"
	}
}

// Params tune the hysteresis of a [Detector].
type Params struct {
	// WindowDetect is the number of recent samples considered when deciding
	// whether an event has started.
	WindowDetect int

	// Persistence is the number of hits required within the last
	// WindowDetect samples before a start fires.
	Persistence int

	// Decay is the number of consecutive misses that end an active event.
	Decay int
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.WindowDetect < 1 {
		return fmt.Errorf("detect: window_detect %d must be at least 1", p.WindowDetect)
	}
	if p.Persistence < 1 || p.Persistence > p.WindowDetect {
		return fmt.Errorf("detect: persistence %d out of range [1, %d]", p.Persistence, p.WindowDetect)
	}
	if p.Decay < 1 {
		return fmt.Errorf("detect: decay %d must be at least 1", p.Decay)
	}
	return nil
}

// Detector is the hysteresis state machine for one (source, group) pair.
// It is not safe for concurrent use; each worker owns its detectors.
type Detector struct {
	params Params

	// ring holds the hit/miss outcome of the last WindowDetect samples.
	ring []bool
	pos  int
	hits int

	active    bool
	misses    int
	startedAt time.Time
}

// New creates a Detector in the idle state.
func New(p Params) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		params: p,
		ring:   make([]bool, p.WindowDetect),
	}, nil
}

// Observe records one sample outcome and returns the resulting transition.
// at is the sample timestamp; it becomes the event start time when a start
// fires. A start is only evaluated on a hit sample, so a lingering majority
// of old hits cannot re-trigger an event while the sound is absent.
func (d *Detector) Observe(hit bool, at time.Time) Transition {
	if d.ring[d.pos] {
		d.hits--
	}
	d.ring[d.pos] = hit
	if hit {
		d.hits++
	}
	d.pos = (d.pos + 1) % len(d.ring)

	if d.active {
		if hit {
			d.misses = 0
			return TransitionNone
		}
		d.misses++
		if d.misses >= d.params.Decay {
			d.active = false
			d.misses = 0
			return TransitionEnd
		}
		return TransitionNone
	}

	if hit && d.hits >= d.params.Persistence {
		d.active = true
		d.misses = 0
		d.startedAt = at
		return TransitionStart
	}
	return TransitionNone
}

// Active reports whether an event is currently in progress.
func (d *Detector) Active() bool {
	return d.active
}

// StartedAt returns the timestamp of the current or most recent event start.
// Zero until the first start fires.
func (d *Detector) StartedAt() time.Time {
	return d.startedAt
}

// Reset returns the detector to its initial idle state with an empty
// sample history. Used when a source worker restarts after a stream loss.
func (d *Detector) Reset() {
	clear(d.ring)
	d.pos = 0
	d.hits = 0
	d.active = false
	d.misses = 0
	d.startedAt = time.Time{}
}
