package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/moonlit/internal/config"
	"github.com/MrWong99/moonlit/internal/observe"
	"github.com/MrWong99/moonlit/internal/resilience"
	"github.com/MrWong99/moonlit/pkg/provider/llm"
	"github.com/MrWong99/moonlit/pkg/provider/llm/anyllm"
	"github.com/MrWong99/moonlit/pkg/provider/llm/genai"
	"github.com/MrWong99/moonlit/pkg/provider/llm/openai"
)

// RegisterBuiltinProviders wires the LLM factories that ship with Moonlit
// into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// Every any-llm-go backend shares the same pattern: optional APIKey and
	// optional BaseURL. ollama is local and ignores the key.
	for _, name := range anyllm.Backends {
		reg.RegisterLLM(name, func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && name != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// Native Gemini client; the default backend.
	reg.RegisterLLM("genai", func(ctx context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		return genai.New(ctx, entry.APIKey, entry.Model, entry.BaseURL)
	})

	reg.RegisterLLM("openai-native", func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil && d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n, ok := entry.Options["max_retries"].(int); ok && n >= 0 {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})
}

// BuildLLM instantiates the primary backend and every fallback and puts them
// behind a [resilience.LLMFallback]. Breaker transitions are counted in m.
func BuildLLM(ctx context.Context, pc config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*resilience.LLMFallback, error) {
	primary, err := reg.CreateLLM(ctx, pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm %q: %w", pc.LLM.Name, err)
	}

	rc := resilience.RouterConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}
	chain := resilience.NewLLMFallback(primary, backendLabel(pc.LLM), rc)

	for i, entry := range pc.LLMFallbacks {
		p, err := reg.CreateLLM(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("app: create llm fallback %d (%q): %w", i, entry.Name, err)
		}
		chain.AddFallback(backendLabel(entry), p)
	}

	slog.Info("llm backends ready", "chain", chain.Backends())
	return chain, nil
}

func backendLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
