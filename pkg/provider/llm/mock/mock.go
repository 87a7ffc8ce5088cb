// Package mock is a scriptable [llm.Provider] for tests.
//
// A Provider answers from, in order of precedence: CompleteFunc, the Replies
// queue, then the fixed CompleteResponse/CompleteErr pair.
//
//	p := &mock.Provider{Replies: []string{"kui", "The tide took it, Judge."}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/moonlit/pkg/provider/llm"
)

// Call is one recorded Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider records requests and returns scripted answers. Configure the
// exported fields before first use.
type Provider struct {
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Replies are handed out one per call. When exhausted, the fixed
	// response below is used.
	Replies []string

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls holds every call in order. Read it only after the
	// calls under test have returned.
	CompleteCalls []Call

	mu sync.Mutex
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var scripted *llm.CompletionResponse
	if fn == nil && len(p.Replies) > 0 {
		scripted = &llm.CompletionResponse{Content: p.Replies[0]}
		p.Replies = p.Replies[1:]
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, req)
	case scripted != nil:
		return scripted, nil
	default:
		return resp, err
	}
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.ModelCapabilities
}

// Prompts returns the last message of every recorded request, which is the
// rendered prompt for the single-message calls the tribunal makes.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.CompleteCalls))
	for _, c := range p.CompleteCalls {
		if n := len(c.Req.Messages); n > 0 {
			out = append(out, c.Req.Messages[n-1].Content)
		} else {
			out = append(out, "")
		}
	}
	return out
}
