package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/moonlit/pkg/provider/llm"
)

func TestProvider_Precedence(t *testing.T) {
	t.Parallel()

	fixedErr := errors.New("down")
	tests := []struct {
		name    string
		p       *Provider
		want    string
		wantErr error
	}{
		{
			name: "func wins over replies",
			p: &Provider{
				Replies: []string{"queued"},
				CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
					return &llm.CompletionResponse{Content: "func"}, nil
				},
			},
			want: "func",
		},
		{
			name: "replies before fixed",
			p:    &Provider{Replies: []string{"queued"}, CompleteErr: fixedErr},
			want: "queued",
		},
		{
			name:    "fixed error",
			p:       &Provider{CompleteErr: fixedErr},
			wantErr: fixedErr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := tt.p.Complete(context.Background(), llm.CompletionRequest{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
		})
	}
}

func TestProvider_Prompts(t *testing.T) {
	t.Parallel()

	p := &Provider{}
	ctx := context.Background()
	_, _ = p.Complete(ctx, llm.CompletionRequest{Messages: []llm.Message{llm.UserText("who is next?")}})
	_, _ = p.Complete(ctx, llm.CompletionRequest{SystemPrompt: "only system"})
	_, _ = p.Complete(ctx, llm.CompletionRequest{Messages: []llm.Message{
		{Role: llm.RoleAssistant, Content: "Not I."},
		llm.UserText("then who?"),
	}})

	want := []string{"who is next?", "", "then who?"}
	if diff := cmp.Diff(want, p.Prompts()); diff != "" {
		t.Errorf("prompts mismatch (-want +got):\n%s", diff)
	}
}
