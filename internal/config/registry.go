package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/soundsentry/soundsentry/pkg/capture"
	"github.com/soundsentry/soundsentry/pkg/classifier"
	"github.com/soundsentry/soundsentry/pkg/publish"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions for each
// backend type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	capture    map[string]func(SourceConfig) (capture.Source, error)
	classifier map[string]func(ClassifierConfig) (classifier.Engine, error)
	publish    map[string]func(PublishConfig) (publish.Sink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:    make(map[string]func(SourceConfig) (capture.Source, error)),
		classifier: make(map[string]func(ClassifierConfig) (classifier.Engine, error)),
		publish:    make(map[string]func(PublishConfig) (publish.Sink, error)),
	}
}

// RegisterCapture registers a capture backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(SourceConfig) (capture.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterClassifier registers a classifier backend factory under name.
func (r *Registry) RegisterClassifier(name string, factory func(ClassifierConfig) (classifier.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// RegisterPublish registers a publish sink factory under name.
func (r *Registry) RegisterPublish(name string, factory func(PublishConfig) (publish.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish[name] = factory
}

// CreateCapture instantiates a capture source using the factory registered
// under src.Backend. Returns [ErrBackendNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateCapture(src SourceConfig) (capture.Source, error) {
	r.mu.RLock()
	factory, ok := r.capture[src.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrBackendNotRegistered, src.Backend)
	}
	return factory(src)
}

// CreateClassifier instantiates a classifier engine using the factory
// registered under cc.Backend.
func (r *Registry) CreateClassifier(cc ClassifierConfig) (classifier.Engine, error) {
	r.mu.RLock()
	factory, ok := r.classifier[cc.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrBackendNotRegistered, cc.Backend)
	}
	return factory(cc)
}

// CreatePublish instantiates a publish sink using the factory registered
// under pc.Sink.
func (r *Registry) CreatePublish(pc PublishConfig) (publish.Sink, error) {
	r.mu.RLock()
	factory, ok := r.publish[pc.Sink]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: publish/%q", ErrBackendNotRegistered, pc.Sink)
	}
	return factory(pc)
}
