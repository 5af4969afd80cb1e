package embedding

import (
	"context"
	"net/http"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// RemoteProvider adapts a langchaingo embeddings.Embedder to this
// package's Embedder contract, matching Embeddings.provider ∈ {Ollama,
// OpenAI} onto langchaingo's own provider constructors (spec §6,
// SPEC_FULL.md §"C2 Embedder").
type RemoteProvider struct {
	name     string
	embedder embeddings.Embedder
}

// NewOllamaProvider builds a RemoteProvider backed by an Ollama model
// served at endpoint. When httpClient is non-nil (typically a
// pool.ConnectionPool's HTTPClient()), every request routes through it
// instead of the default transport, giving C1 control of retries,
// circuit breaking and load balancing across this provider's traffic.
func NewOllamaProvider(model, endpoint string, httpClient *http.Client) (*RemoteProvider, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if endpoint != "" {
		opts = append(opts, ollama.WithServerURL(endpoint))
	}
	if httpClient != nil {
		opts = append(opts, ollama.WithHTTPClient(httpClient))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, sderrors.FailedTo("construct ollama embedding client", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, sderrors.FailedTo("wrap ollama client as embedder", err)
	}
	return &RemoteProvider{name: "ollama", embedder: emb}, nil
}

// NewOpenAIProvider builds a RemoteProvider backed by an OpenAI-compatible
// embeddings endpoint. See NewOllamaProvider for the httpClient contract.
func NewOpenAIProvider(model, apiKey, endpoint string, httpClient *http.Client) (*RemoteProvider, error) {
	opts := []openai.Option{openai.WithModel(model)}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	if endpoint != "" {
		opts = append(opts, openai.WithBaseURL(endpoint))
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, sderrors.FailedTo("construct openai embedding client", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, sderrors.FailedTo("wrap openai client as embedder", err)
	}
	return &RemoteProvider{name: "openai", embedder: emb}, nil
}

func (p *RemoteProvider) Name() string { return p.name }

// Embed delegates to the underlying langchaingo embedder's single-query
// path. A transport error is returned wrapped by FailedTo; the Resilience decorator
// classifies and retries it.
func (p *RemoteProvider) Embed(ctx context.Context, text string) (types.Embedding, error) {
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, sderrors.FailedTo("embed text via "+p.name, err)
	}
	return types.Embedding(vec), nil
}
