// Package textgen is the single text-generation boundary of Moonlit. It turns
// a prompt into text using an [llm.Provider] and never returns an error:
// failures come back as an "Error: ..." string so callers always have
// something to show.
package textgen

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/moonlit/internal/observe"
	"github.com/MrWong99/moonlit/pkg/provider/llm"
)

// ErrorPrefix starts every degraded reply.
const ErrorPrefix = "Error: "

// errEmptyResponse is reported when a provider returns neither content nor an
// error.
var errEmptyResponse = errors.New("empty response from model")

// Generator calls an LLM with single-prompt requests.
type Generator struct {
	provider    llm.Provider
	name        string
	timeout     time.Duration
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
}

// Option configures a [Generator].
type Option func(*Generator)

// WithProviderName sets the provider label used in metrics and spans.
// Default: "llm".
func WithProviderName(name string) Option {
	return func(g *Generator) { g.name = name }
}

// WithTimeout bounds each call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens caps completion length. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// New creates a [Generator] over p.
func New(p llm.Provider, opts ...Option) *Generator {
	g := &Generator{provider: p, name: "llm"}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// GenerateText sends prompt as a single user message and returns the trimmed
// reply. Any failure, including a timeout or a cancelled ctx, yields
// "Error: <reason>".
func (g *Generator) GenerateText(ctx context.Context, prompt string) string {
	return g.complete(ctx, llm.CompletionRequest{Messages: []llm.Message{llm.UserText(prompt)}})
}

// GenerateWithSystem is [Generator.GenerateText] with a system instruction
// placed ahead of the prompt.
func (g *Generator) GenerateWithSystem(ctx context.Context, system, prompt string) string {
	return g.complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{llm.UserText(prompt)},
	})
}

func (g *Generator) complete(ctx context.Context, req llm.CompletionRequest) string {
	req.Temperature = g.temperature
	req.MaxTokens = g.maxTokens

	ctx, span := observe.StartSpan(ctx, "textgen.generate", trace.WithAttributes(
		attribute.String("llm.provider", g.name),
		attribute.Int("llm.prompt_tokens_estimate", estimate(req)),
	))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, req)
	g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && resp == nil {
		err = errEmptyResponse
	}
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, g.name, "llm", "error")
		g.metrics.RecordProviderError(ctx, g.name, "llm")
		observe.FailSpan(span, err)
		observe.Logger(ctx).Warn("textgen: generation failed", "provider", g.name, "err", err)
		return ErrorPrefix + err.Error()
	}

	g.metrics.RecordProviderRequest(ctx, g.name, "llm", "ok")
	span.SetAttributes(attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens))
	return strings.TrimSpace(resp.Content)
}

func estimate(req llm.CompletionRequest) int {
	n := llm.EstimateTokens(req.SystemPrompt)
	for _, m := range req.Messages {
		n += llm.EstimateTokens(m.Content)
	}
	return n
}

// IsError reports whether text is a degraded reply produced by a [Generator].
func IsError(text string) bool { return strings.HasPrefix(text, ErrorPrefix) }
