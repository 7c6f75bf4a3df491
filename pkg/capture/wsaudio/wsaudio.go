// Package wsaudio provides a capture.Source for audio bridges that expose
// raw PCM over a WebSocket.
//
// Each binary WebSocket message is treated as one s16le PCM chunk; text
// messages are ignored. This suits doorbell/intercom firmwares and small
// relay daemons that cannot speak RTSP but can push audio frames over a
// plain WebSocket.
package wsaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/soundsentry/soundsentry/pkg/capture"
)

// Compile-time assertion that Source satisfies capture.Source.
var _ capture.Source = (*Source)(nil)

// Source dials one WebSocket connection per Open call.
type Source struct {
	url       string
	readLimit int64
}

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithReadLimit caps the size of a single WebSocket message in bytes.
// Defaults to 1 MiB.
func WithReadLimit(n int64) Option {
	return func(s *Source) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// New creates a Source for the given ws:// or wss:// URL.
func New(url string, opts ...Option) (*Source, error) {
	if url == "" {
		return nil, errors.New("wsaudio: url must not be empty")
	}
	s := &Source{
		url:       url,
		readLimit: 1 << 20,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Open implements capture.Source.
func (s *Source) Open(ctx context.Context) (capture.Stream, error) {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsaudio: dial %q: %w", s.url, err)
	}
	conn.SetReadLimit(s.readLimit)

	streamCtx, cancel := context.WithCancel(ctx)
	st := &stream{
		conn:   conn,
		cancel: cancel,
		chunks: make(chan []byte, 4),
	}

	go func() {
		defer close(st.chunks)
		for {
			typ, data, err := conn.Read(streamCtx)
			if err != nil {
				st.finish(err)
				return
			}
			if typ != websocket.MessageBinary || len(data) == 0 {
				continue
			}
			select {
			case st.chunks <- data:
			case <-streamCtx.Done():
				st.finish(streamCtx.Err())
				return
			}
		}
	}()

	return st, nil
}

type stream struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	chunks chan []byte

	mu     sync.Mutex
	err    error
	closed bool
}

func (st *stream) Chunks() <-chan []byte { return st.chunks }

func (st *stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *stream) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.mu.Unlock()

	st.cancel()
	return st.conn.Close(websocket.StatusNormalClosure, "capture closed")
}

// finish records why the read loop stopped. Normal remote closure maps to
// ErrStreamEnded; a local Close leaves the error nil.
func (st *stream) finish(readErr error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return
	}
	if websocket.CloseStatus(readErr) == websocket.StatusNormalClosure {
		st.err = capture.ErrStreamEnded
		return
	}
	st.err = fmt.Errorf("wsaudio: read: %w", readErr)
}
