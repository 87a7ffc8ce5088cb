// Package genai provides an LLM provider backed by Google's Gen AI SDK
// (google.golang.org/genai), talking to the Gemini API directly.
package genai

import (
	"context"
	"fmt"
	"strings"

	gg "google.golang.org/genai"

	"github.com/MrWong99/moonlit/pkg/provider/llm"
)

// DefaultModel is used when New is called with an empty model name.
const DefaultModel = "gemini-2.5-flash"

// Provider implements llm.Provider over the Gemini generateContent API.
type Provider struct {
	models generator
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// generator is the subset of *genai.Models used by Provider. Tests replace it.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*gg.Content, config *gg.GenerateContentConfig) (*gg.GenerateContentResponse, error)
}

// New creates a Provider authenticated with apiKey. baseURL may be empty.
func New(ctx context.Context, apiKey, model, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cc := &gg.ClientConfig{
		APIKey:  apiKey,
		Backend: gg.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = gg.HTTPOptions{BaseURL: baseURL}
	}
	client, err := gg.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &Provider{models: client.Models, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, cfg := p.buildRequest(req)

	resp, err := p.models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("genai: empty candidates in response")
	}

	out := &llm.CompletionResponse{Content: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	if strings.HasPrefix(strings.ToLower(p.model), "gemini-2.5") {
		return llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 65_536}
	}
	return llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}
}

// buildRequest maps a CompletionRequest onto Gemini contents. Gemini has no
// system role inside contents, so system messages join the system instruction
// and assistant turns use the "model" role.
func (p *Provider) buildRequest(req llm.CompletionRequest) ([]*gg.Content, *gg.GenerateContentConfig) {
	cfg := &gg.GenerateContentConfig{}

	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	contents := make([]*gg.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, gg.NewContentFromText(m.Content, gg.RoleModel))
		default:
			contents = append(contents, gg.NewContentFromText(m.Content, gg.RoleUser))
		}
	}

	if len(system) > 0 {
		cfg.SystemInstruction = gg.NewContentFromText(strings.Join(system, "\n\n"), gg.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = gg.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}
