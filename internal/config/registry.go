package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
	"github.com/tandemvoice/tandem/pkg/provider/speech"
	"github.com/tandemvoice/tandem/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	speech    map[string]func(ProviderEntry) (speech.Provider, error)
	reasoning map[string]func(ProviderEntry) (reasoning.Provider, error)
	vad       map[string]func(ProviderEntry) (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		speech:    make(map[string]func(ProviderEntry) (speech.Provider, error)),
		reasoning: make(map[string]func(ProviderEntry) (reasoning.Provider, error)),
		vad:       make(map[string]func(ProviderEntry) (vad.Engine, error)),
	}
}

// RegisterSpeech registers a speech provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (speech.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// RegisterReasoning registers a reasoning backend factory under name.
func (r *Registry) RegisterReasoning(name string, factory func(ProviderEntry) (reasoning.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasoning[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateSpeech instantiates a speech provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (speech.Provider, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateReasoning instantiates a reasoning backend using the factory
// registered under entry.Name.
func (r *Registry) CreateReasoning(entry ProviderEntry) (reasoning.Provider, error) {
	r.mu.RLock()
	factory, ok := r.reasoning[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: reasoning/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under
// entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
