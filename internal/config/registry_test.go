package config_test

import (
	"errors"
	"testing"

	"github.com/soundsentry/soundsentry/internal/config"
	"github.com/soundsentry/soundsentry/pkg/capture"
	capturemock "github.com/soundsentry/soundsentry/pkg/capture/mock"
	"github.com/soundsentry/soundsentry/pkg/classifier"
	classifiermock "github.com/soundsentry/soundsentry/pkg/classifier/mock"
	"github.com/soundsentry/soundsentry/pkg/publish"
)

func TestRegistry_CreateCapture(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var gotURL string
	r.RegisterCapture("mock", func(src config.SourceConfig) (capture.Source, error) {
		gotURL = src.URL
		return &capturemock.Source{}, nil
	})

	src, err := r.CreateCapture(config.SourceConfig{Backend: "mock", URL: "rtsp://cam"})
	if err != nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	if src == nil {
		t.Fatal("CreateCapture returned nil source")
	}
	if gotURL != "rtsp://cam" {
		t.Errorf("factory saw url %q, want rtsp://cam", gotURL)
	}
}

func TestRegistry_CreateClassifier(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterClassifier("mock", func(config.ClassifierConfig) (classifier.Engine, error) {
		return &classifiermock.Engine{}, nil
	})

	if _, err := r.CreateClassifier(config.ClassifierConfig{Backend: "mock"}); err != nil {
		t.Fatalf("CreateClassifier: %v", err)
	}
}

func TestRegistry_CreatePublish(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterPublish("log", func(config.PublishConfig) (publish.Sink, error) {
		return publish.LogSink{}, nil
	})

	if _, err := r.CreatePublish(config.PublishConfig{Sink: "log"}); err != nil {
		t.Fatalf("CreatePublish: %v", err)
	}
}

func TestRegistry_UnregisteredBackend(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	if _, err := r.CreateCapture(config.SourceConfig{Backend: "gstreamer"}); !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateCapture error = %v, want ErrBackendNotRegistered", err)
	}
	if _, err := r.CreateClassifier(config.ClassifierConfig{Backend: "onnx"}); !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateClassifier error = %v, want ErrBackendNotRegistered", err)
	}
	if _, err := r.CreatePublish(config.PublishConfig{Sink: "kafka"}); !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreatePublish error = %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterClassifier("mock", func(config.ClassifierConfig) (classifier.Engine, error) {
		return nil, errors.New("first")
	})
	r.RegisterClassifier("mock", func(config.ClassifierConfig) (classifier.Engine, error) {
		return &classifiermock.Engine{}, nil
	})

	if _, err := r.CreateClassifier(config.ClassifierConfig{Backend: "mock"}); err != nil {
		t.Fatalf("second registration not used: %v", err)
	}
}
