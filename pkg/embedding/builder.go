package embedding

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/pool"
)

// Build composes the full C2 decorator chain — base provider selected by
// cfg.Embeddings.Provider, wrapped Telemetry(Caching(Resilience(Base)))
// per spec §4.2's fixed outermost-first ordering. When httpPool is
// non-nil its HTTPClient() fronts the base provider's remote calls, so
// C1's circuit breaker, retry and load balancing cover embedding
// traffic exactly as SPEC_FULL.md's C1 section describes.
func Build(cfg config.Config, httpPool *pool.ConnectionPool) (Embedder, error) {
	base, err := buildProvider(cfg.Embeddings, httpPool)
	if err != nil {
		return nil, err
	}

	resilient := NewResilientEmbedder(base, base.Name(), cfg.Resilience.Embedding)
	cached, err := NewCachingEmbedder(resilient, cfg.EmbeddingCache)
	if err != nil {
		return nil, sderrors.FailedTo("construct embedding cache", err)
	}
	return NewTelemetryEmbedder(cached, base.Name()), nil
}

// BuildPool constructs the C1 pool fronting this provider's HTTP
// traffic, named "embedding", fronting cfg.Embeddings.Endpoint. Remote
// providers with no endpoint configured (Mock) have no pool to build,
// in which case BuildPool returns (nil, nil).
func BuildPool(cfg config.Config, logger *logrus.Logger) (*pool.ConnectionPool, error) {
	if cfg.Embeddings.Provider == config.EmbeddingProviderMock || cfg.Embeddings.Provider == "" {
		return nil, nil
	}
	if cfg.Embeddings.Endpoint == "" {
		return nil, nil
	}
	breakerCfg := pool.DefaultBreakerConfig(cfg.ConnectionPools)
	return pool.NewConnectionPool("embedding", cfg.ConnectionPools, breakerCfg, []string{cfg.Embeddings.Endpoint}, logger)
}

func buildProvider(cfg config.EmbeddingsConfig, httpPool *pool.ConnectionPool) (Provider, error) {
	var httpClient *http.Client
	if httpPool != nil {
		httpClient = httpPool.HTTPClient()
	}

	switch cfg.Provider {
	case config.EmbeddingProviderOllama:
		return NewOllamaProvider(cfg.Model, cfg.Endpoint, httpClient)
	case config.EmbeddingProviderOpenAI:
		return NewOpenAIProvider(cfg.Model, "", cfg.Endpoint, httpClient)
	case config.EmbeddingProviderMock, "":
		return NewMockProvider(cfg.VectorSize), nil
	default:
		return nil, &sderrors.OperationError{
			Operation: "select embedding provider",
			Component: "embedding",
			Resource:  string(cfg.Provider),
			Kind:      sderrors.KindValidation,
			Cause:     errUnknownProvider,
		}
	}
}

var errUnknownProvider = sderrors.FailedTo("recognize embedding provider", nil)
