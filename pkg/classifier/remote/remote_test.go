package remote_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundsentry/soundsentry/pkg/classifier"
	"github.com/soundsentry/soundsentry/pkg/classifier/remote"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClassify_SubmitsWindowAndDecodesScores(t *testing.T) {
	t.Parallel()

	window := []float32{0.25, -0.5, 1}
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/score" {
			t.Errorf("request = %s %s, want POST /score", r.Method, r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if len(body) != 4*len(window) {
			t.Errorf("body length = %d, want %d", len(body), 4*len(window))
		}
		for i, want := range window {
			got := math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
			if got != want {
				t.Errorf("sample %d = %f, want %f", i, got, want)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"scores": []float32{0.1, 0.9}})
	})

	e, err := remote.New(srv.URL, remote.WithClasses(2), remote.WithWindowSamples(len(window)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	scores, err := e.Classify(context.Background(), window)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.1 || scores[1] != 0.9 {
		t.Errorf("scores = %v, want [0.1 0.9]", scores)
	}
}

func TestClassify_WindowSizeMismatch(t *testing.T) {
	t.Parallel()

	e, err := remote.New("http://localhost:1", remote.WithWindowSamples(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Classify(context.Background(), make([]float32, 3))
	if !errors.Is(err, classifier.ErrWindowSize) {
		t.Errorf("Classify error = %v, want ErrWindowSize", err)
	}
}

func TestClassify_EmptyScores(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"scores": []float32{}})
	})
	e, err := remote.New(srv.URL, remote.WithWindowSamples(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Classify(context.Background(), []float32{0})
	if !errors.Is(err, classifier.ErrEmptyScores) {
		t.Errorf("Classify error = %v, want ErrEmptyScores", err)
	}
}

func TestClassify_CardinalityMismatch(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"scores": []float32{0.1, 0.2, 0.3}})
	})
	e, err := remote.New(srv.URL, remote.WithClasses(2), remote.WithWindowSamples(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Classify(context.Background(), []float32{0}); err == nil {
		t.Error("Classify succeeded on a 3-score response with 2 expected classes")
	}
}

func TestClassify_ServerError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})
	e, err := remote.New(srv.URL, remote.WithWindowSamples(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Classify(context.Background(), []float32{0}); err == nil {
		t.Error("Classify succeeded on a 503 response")
	}
}

func TestNew_EmptyBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := remote.New(""); err == nil {
		t.Error("New(\"\") succeeded, want error")
	}
}
