package ffmpeg

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/soundsentry/soundsentry/pkg/capture"
)

// The tests stand in other binaries for ffmpeg: "yes" produces endless
// stdout like a live stream, "true" and "false" exit immediately with and
// without success.

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not on PATH", name)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func drain(t *testing.T, st capture.Stream) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		for range st.Chunks() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("chunk channel did not close")
	}
}

func TestClose_ReapsProcess(t *testing.T) {
	t.Parallel()
	requireBinary(t, "yes")

	src, err := New("pipe:0", WithBinary("yes"), WithChunkBytes(32))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case <-st.Chunks():
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk delivered")
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	drain(t, st)

	fst := st.(*stream)
	waitFor(t, func() bool {
		fst.mu.Lock()
		defer fst.mu.Unlock()
		return fst.waited
	}, "process to be reaped")

	if err := st.Err(); err != nil {
		t.Errorf("Err after Close = %v, want nil", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpen_CleanExitEndsStream(t *testing.T) {
	t.Parallel()
	requireBinary(t, "true")

	src, err := New("pipe:0", WithBinary("true"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	drain(t, st)

	if !errors.Is(st.Err(), capture.ErrStreamEnded) {
		t.Errorf("Err = %v, want ErrStreamEnded", st.Err())
	}
}

func TestOpen_ProcessFailureSurfaces(t *testing.T) {
	t.Parallel()
	requireBinary(t, "false")

	src, err := New("pipe:0", WithBinary("false"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	drain(t, st)

	if err := st.Err(); err == nil || errors.Is(err, capture.ErrStreamEnded) {
		t.Errorf("Err = %v, want a process exit error", err)
	}
}
