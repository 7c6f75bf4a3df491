// Package publish defines the Sink interface for outbound sound-event
// notifications and a slog-backed sink for broker-less deployments.
//
// Delivery is best-effort by contract: a sink may drop an event after a
// bounded attempt, but it must never block the publishing source worker
// beyond its configured timeout.
package publish

import (
	"context"
	"log/slog"
	"time"
)

// EventType distinguishes event boundaries.
type EventType string

const (
	// EventStart marks the onset of a sustained sound event.
	EventStart EventType = "start"

	// EventEnd marks the end of a sound event, carrying the original start
	// timestamp alongside the end timestamp.
	EventEnd EventType = "end"
)

// Event is one sound-event boundary notification.
type Event struct {
	// ID uniquely identifies this notification.
	ID string `json:"event_id"`

	// Source is the originating audio source name.
	Source string `json:"source"`

	// Group is the semantic sound group (e.g. "birds", "alarms").
	Group string `json:"group"`

	// Type is "start" or "end".
	Type EventType `json:"event"`

	// Score is the group score of the sample that triggered the boundary.
	Score float64 `json:"score"`

	// Timestamp is when the boundary occurred.
	Timestamp time.Time `json:"timestamp"`

	// StartedAt is the start timestamp of the event; set on "end" events
	// only.
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Sink delivers events to an external consumer.
type Sink interface {
	// Publish delivers one event. Implementations bound their own attempt
	// duration and honour ctx; an error means the event was dropped.
	Publish(ctx context.Context, ev Event) error

	// Close flushes and releases the sink. Safe to call more than once.
	Close() error
}

// Compile-time assertion that LogSink satisfies Sink.
var _ Sink = (*LogSink)(nil)

// LogSink writes events to the default slog logger. Used when no broker is
// configured and in tests of the surrounding pipeline.
type LogSink struct{}

// Publish implements Sink.
func (LogSink) Publish(_ context.Context, ev Event) error {
	attrs := []any{
		"source", ev.Source,
		"group", ev.Group,
		"event", string(ev.Type),
		"score", ev.Score,
	}
	if ev.StartedAt != nil {
		attrs = append(attrs, "started_at", ev.StartedAt.Format(time.RFC3339))
	}
	slog.Info("sound event", attrs...)
	return nil
}

// Close implements Sink.
func (LogSink) Close() error { return nil }
