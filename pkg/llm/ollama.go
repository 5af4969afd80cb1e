package llm

import (
	"context"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// OllamaProvider is a base Client over a locally-hosted Ollama model,
// giving this repo a fully offline LLM provider alongside the two
// cloud-hosted ones.
type OllamaProvider struct {
	llm llms.Model
}

// NewOllamaLLMProvider builds an OllamaProvider for model served at
// endpoint. See NewAnthropicProvider for the httpClient contract.
func NewOllamaLLMProvider(model, endpoint string, httpClient *http.Client) (*OllamaProvider, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if endpoint != "" {
		opts = append(opts, ollama.WithServerURL(endpoint))
	}
	if httpClient != nil {
		opts = append(opts, ollama.WithHTTPClient(httpClient))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, sderrors.FailedTo("construct ollama llm client", err)
	}
	return &OllamaProvider{llm: m}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error) {
	system, user := BuildAnalyzePrompt(event, neighbors)
	return p.Generate(ctx, system, user)
}

func (p *OllamaProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	resp, err := p.llm.GenerateContent(ctx, content)
	if err != nil {
		return "", sderrors.FailedTo("call ollama generate content", err)
	}
	if len(resp.Choices) == 0 {
		return "", sderrors.FailedTo("read ollama response", errEmptyResponse)
	}
	return resp.Choices[0].Content, nil
}
