package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/moonlit/pkg/provider/llm"
)

// ErrProviderNotRegistered means no factory exists for a provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory opens the backend described by entry.
type LLMFactory func(ctx context.Context, entry ProviderEntry) (llm.Provider, error)

// Registry resolves providers.llm and providers.llm_fallbacks entries to
// backends. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]LLMFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]LLMFactory{}}
}

// RegisterLLM binds name to factory, replacing any earlier binding.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

// LLMNames lists the registered names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// CreateLLM runs the factory registered for entry.Name. Factory errors are
// wrapped with the name; a factory returning no provider is an error too.
func (r *Registry) CreateLLM(ctx context.Context, entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrProviderNotRegistered, entry.Name, r.LLMNames())
	}

	p, err := factory(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("config: open llm %q: %w", entry.Name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("config: open llm %q: factory returned no provider", entry.Name)
	}
	return p, nil
}
