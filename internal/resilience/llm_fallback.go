package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/moonlit/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that routes each completion to the first
// LLM backend whose breaker is not open.
type LLMFallback struct {
	router *Router[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg RouterConfig) *LLMFallback {
	return &LLMFallback{router: NewRouter(primary, primaryName, cfg)}
}

// AddFallback registers another backend after those already added.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.router.Add(name, p)
}

// Backends returns the backend names in routing order.
func (f *LLMFallback) Backends() []string { return f.router.Names() }

// Breaker returns the breaker guarding the named backend, or nil.
func (f *LLMFallback) Breaker(name string) *CircuitBreaker { return f.router.Breaker(name) }

// Complete sends req to the first admitted backend. Its error, if any, is
// returned as is, prefixed with the backend name.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, name, err := ExecuteWithResult(f.router, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err != nil && name != "" {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return resp, err
}

// Capabilities reports the primary backend's capabilities.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.router.Primary().Capabilities()
}
