package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

// ErrBackendNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Factory constructs a transcription client from its configuration block.
type Factory func(TranscriberConfig) (transcribe.Client, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a backend factory under name. Subsequent calls with the
// same name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a transcription client using the factory registered
// under tc.Backend. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) Create(tc TranscriberConfig) (transcribe.Client, error) {
	r.mu.RLock()
	factory, ok := r.factories[tc.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, tc.Backend)
	}
	return factory(tc)
}
