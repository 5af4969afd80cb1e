package llm

import (
	"context"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// AnthropicProvider is a base Client over the Anthropic Messages API —
// one of the two independently-failing real providers SPEC_FULL.md
// pairs into the Ensemble decorator.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicProvider builds an AnthropicProvider for model, using
// apiKey for auth. When httpClient is non-nil (typically a
// pool.ConnectionPool's HTTPClient()) it replaces the SDK's default
// transport, routing this provider's traffic through C1's circuit
// breaker and load balancing.
func NewAnthropicProvider(model, apiKey string, httpClient *http.Client) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 1024,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error) {
	system, user := BuildAnalyzePrompt(event, neighbors)
	return p.Generate(ctx, system, user)
}

func (p *AnthropicProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", sderrors.FailedTo("call anthropic messages api", err)
	}
	if len(msg.Content) == 0 {
		return "", sderrors.FailedTo("read anthropic response", errEmptyResponse)
	}
	return msg.Content[0].Text, nil
}
