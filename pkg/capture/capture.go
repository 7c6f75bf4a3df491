// Package capture defines the Source interface for continuous audio capture
// transports.
//
// A source represents one remote audio endpoint (an RTSP camera, a
// PCM-over-WebSocket bridge). Opening it yields a Stream that delivers raw
// s16le PCM chunks over a channel until the transport ends or fails; the
// chunk sizes are transport-determined and carry no framing meaning.
// Reconnecting after a failure is the caller's job — a Stream is dead once
// its channel closes.
//
// Implementations must tolerate Close being called concurrently with channel
// reads and more than once.
package capture

import (
	"context"
	"errors"
)

// ErrStreamEnded is the Err result when the transport reached a clean end of
// stream (remote closed the connection without a transport error).
var ErrStreamEnded = errors.New("capture: stream ended")

// Stream is one live capture connection delivering PCM chunks.
type Stream interface {
	// Chunks returns the channel of raw s16le PCM chunks. The channel is
	// closed when the stream ends for any reason; consult Err afterwards.
	// Chunk slices are owned by the receiver once delivered.
	Chunks() <-chan []byte

	// Err returns the reason the chunk channel closed: [ErrStreamEnded] for
	// a clean remote end, a transport error otherwise, or nil if the close
	// was caused by Close.
	Err() error

	// Close tears down the connection and releases transport resources.
	// Safe to call more than once.
	Close() error
}

// Source opens capture streams for one audio endpoint.
type Source interface {
	// Open connects to the endpoint and starts delivering chunks. The ctx
	// bounds both connection setup and the lifetime of the returned stream:
	// cancelling it ends the stream as if Close had been called.
	Open(ctx context.Context) (Stream, error)
}
