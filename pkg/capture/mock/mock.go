// Package mock provides a scripted capture.Source for tests.
package mock

import (
	"context"
	"sync"

	"github.com/soundsentry/soundsentry/pkg/capture"
)

// Compile-time assertions.
var (
	_ capture.Source = (*Source)(nil)
	_ capture.Stream = (*Stream)(nil)
)

// Source yields scripted streams in order. Once the script is exhausted,
// Open blocks until ctx is cancelled — simulating a source that never comes
// back.
type Source struct {
	// OpenErrs are errors returned by Open before any stream is produced,
	// consumed one per call. Use to simulate connect failures.
	OpenErrs []error

	// Streams are returned by Open after OpenErrs is exhausted.
	Streams []*Stream

	mu        sync.Mutex
	openCalls int
}

// Open implements capture.Source.
func (s *Source) Open(ctx context.Context) (capture.Stream, error) {
	s.mu.Lock()
	i := s.openCalls
	s.openCalls++

	if i < len(s.OpenErrs) {
		err := s.OpenErrs[i]
		s.mu.Unlock()
		return nil, err
	}
	i -= len(s.OpenErrs)
	if i < len(s.Streams) {
		st := s.Streams[i]
		s.mu.Unlock()
		st.start()
		return st, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

// OpenCalls reports how many times Open was invoked.
func (s *Source) OpenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCalls
}

// Stream delivers its scripted chunks and then closes with FinalErr.
type Stream struct {
	// Chunks to deliver in order.
	Script [][]byte

	// FinalErr is reported by Err after the script is exhausted.
	// Leave nil to simulate a stream ended by Close.
	FinalErr error

	// Hold, when true, keeps the channel open (but idle) after the script
	// instead of closing it; the stream then only ends via Close.
	Hold bool

	once   sync.Once
	ch     chan []byte
	done   chan struct{}
	mu     sync.Mutex
	err    error
	closed bool
}

func (st *Stream) start() {
	st.once.Do(func() {
		st.ch = make(chan []byte)
		st.done = make(chan struct{})
		go func() {
			for _, c := range st.Script {
				select {
				case st.ch <- c:
				case <-st.done:
					close(st.ch)
					return
				}
			}
			if st.Hold {
				<-st.done
			} else {
				st.mu.Lock()
				if !st.closed {
					st.err = st.FinalErr
				}
				st.mu.Unlock()
			}
			close(st.ch)
		}()
	})
}

// Chunks implements capture.Stream.
func (st *Stream) Chunks() <-chan []byte {
	st.start()
	return st.ch
}

// Err implements capture.Stream.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close implements capture.Stream.
func (st *Stream) Close() error {
	st.start()
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.mu.Unlock()
	close(st.done)
	return nil
}
