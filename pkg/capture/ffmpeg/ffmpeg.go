// Package ffmpeg provides a capture.Source that spawns an ffmpeg process to
// pull audio from an RTSP (or any ffmpeg-readable) URL and decode it to
// s16le mono PCM on stdout.
//
// Decoding, resampling, and channel downmix all happen inside ffmpeg; the
// stream delivers ready-to-window PCM at the configured sample rate. ffmpeg's
// stderr is tailed at debug level for connection diagnostics.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/soundsentry/soundsentry/pkg/capture"
)

const (
	defaultBinary     = "ffmpeg"
	defaultSampleRate = 16000
	defaultChunkBytes = 4096

	// rtspTimeoutUS is appended to RTSP URLs so a stalled camera surfaces
	// as an ffmpeg exit instead of a silent hang (microseconds).
	rtspTimeoutUS = 30_000_000
)

// Compile-time assertion that Source satisfies capture.Source.
var _ capture.Source = (*Source)(nil)

// Source spawns one ffmpeg process per Open call.
type Source struct {
	url        string
	binary     string
	sampleRate int
	chunkBytes int
}

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithBinary overrides the ffmpeg executable path. Defaults to "ffmpeg"
// resolved via PATH.
func WithBinary(path string) Option {
	return func(s *Source) {
		if path != "" {
			s.binary = path
		}
	}
}

// WithSampleRate sets the output PCM sample rate in Hz. Must match what the
// classifier expects. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithChunkBytes sets the stdout read size per delivered chunk. Defaults to
// 4096 bytes.
func WithChunkBytes(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.chunkBytes = n
		}
	}
}

// New creates a Source for the given URL.
func New(url string, opts ...Option) (*Source, error) {
	if url == "" {
		return nil, errors.New("ffmpeg: url must not be empty")
	}
	s := &Source{
		url:        url,
		binary:     defaultBinary,
		sampleRate: defaultSampleRate,
		chunkBytes: defaultChunkBytes,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// args builds the ffmpeg invocation: RTSP over TCP, video dropped, raw
// s16le mono PCM at the configured rate on stdout, low-delay flags.
func (s *Source) args() []string {
	url := s.url
	var a []string
	if strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "rtsps://") {
		a = append(a, "-rtsp_transport", "tcp")
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = fmt.Sprintf("%s%stimeout=%d", url, sep, rtspTimeoutUS)
	}
	a = append(a,
		"-i", url,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(s.sampleRate),
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-",
	)
	return a
}

// Open implements capture.Source. The returned stream lives until the ffmpeg
// process exits, ctx is cancelled, or Close is called.
func (s *Source) Open(ctx context.Context) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, s.binary, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start %q: %w", s.binary, err)
	}

	st := &stream{
		cmd:    cmd,
		chunks: make(chan []byte, 4),
		done:   make(chan struct{}),
	}

	// Tail stderr for diagnostics; keep the last line for error context.
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := sc.Text()
			st.setLastStderr(line)
			slog.Debug("ffmpeg stderr", "url", s.url, "line", line)
		}
	}()

	// Pump stdout into the chunk channel. Every exit path reaps the process
	// via wait, so a closed stream never leaves a zombie ffmpeg behind.
	go func() {
		defer close(st.chunks)
		for {
			buf := make([]byte, s.chunkBytes)
			n, err := stdout.Read(buf)
			if n > 0 {
				select {
				case st.chunks <- buf[:n]:
				case <-st.done:
					_ = st.wait()
					return
				case <-ctx.Done():
					_ = st.wait()
					return
				}
			}
			if err != nil {
				st.finish(err, st.wait())
				return
			}
		}
	}()

	return st, nil
}

// stream wraps a running ffmpeg process.
type stream struct {
	cmd      *exec.Cmd
	chunks   chan []byte
	done     chan struct{}
	waitOnce sync.Once

	mu         sync.Mutex
	err        error
	lastStderr string
	closed     bool
	waited     bool
	waitErr    error
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
	close(st.done)
	st.mu.Unlock()

	if st.cmd.Process != nil {
		_ = st.cmd.Process.Kill()
	}
	return nil
}

// wait reaps the ffmpeg process exactly once and returns its exit error.
// Safe to call from any goroutine; later callers block until the first
// Wait completes.
func (st *stream) wait() error {
	st.waitOnce.Do(func() {
		err := st.cmd.Wait()
		st.mu.Lock()
		st.waitErr = err
		st.waited = true
		st.mu.Unlock()
	})
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.waitErr
}

func (st *stream) setLastStderr(line string) {
	st.mu.Lock()
	st.lastStderr = line
	st.mu.Unlock()
}

// finish records why the stdout pump stopped. A clean EOF from a process
// that exited successfully is a plain end of stream; anything else carries
// the exit error and the last stderr line for context.
func (st *stream) finish(readErr, waitErr error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		// Deliberate teardown; report no error.
		return
	}
	switch {
	case waitErr != nil:
		if st.lastStderr != "" {
			st.err = fmt.Errorf("ffmpeg: process exited: %w (%s)", waitErr, st.lastStderr)
		} else {
			st.err = fmt.Errorf("ffmpeg: process exited: %w", waitErr)
		}
	case errors.Is(readErr, io.EOF):
		st.err = capture.ErrStreamEnded
	default:
		st.err = fmt.Errorf("ffmpeg: read stdout: %w", readErr)
	}
}
