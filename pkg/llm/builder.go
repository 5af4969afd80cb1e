package llm

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/pool"
)

// Build composes the full C3 decorator chain: base (or Ensemble of
// bases) wrapped by StrictJSON, per spec §4.3. When httpPool is
// non-nil, every member provider's traffic routes through its
// HTTPClient(), giving C1 control of retries, circuit breaking and
// load balancing across LLM calls exactly as the embedding side does.
func Build(ctx context.Context, cfg config.Config, httpPool *pool.ConnectionPool) (Client, error) {
	base, err := buildProvider(ctx, cfg.LLM, httpPool)
	if err != nil {
		return nil, err
	}

	var chained Client = base
	if cfg.Ensemble.Enabled && len(cfg.Ensemble.Models) > 0 {
		members := map[string]Client{}
		weights := map[string]float64{}
		for _, m := range cfg.Ensemble.Models {
			memberCfg := cfg.LLM
			memberCfg.Provider = m.Provider
			memberCfg.Model = m.Name
			p, err := buildProvider(ctx, memberCfg, httpPool)
			if err != nil {
				return nil, err
			}
			members[m.Name] = p
			weights[m.Name] = m.Weight
		}
		chained = NewEnsembleClient(members, weights, base, cfg.Ensemble)
	}

	return NewStrictJSONClient(chained, cfg.StrictJSON), nil
}

// BuildPool constructs the C1 pool fronting cfg.LLM.Endpoint. Providers
// with no configurable endpoint (Anthropic, Bedrock both reach fixed
// cloud hosts via their own SDKs' internal resolution) and Mock return
// (nil, nil) — nothing for a pool to front.
func BuildPool(cfg config.Config, logger *logrus.Logger) (*pool.ConnectionPool, error) {
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Endpoint == "" {
		return nil, nil
	}
	breakerCfg := pool.DefaultBreakerConfig(cfg.ConnectionPools)
	return pool.NewConnectionPool("llm", cfg.ConnectionPools, breakerCfg, []string{cfg.LLM.Endpoint}, logger)
}

func buildProvider(ctx context.Context, cfg config.LLMConfig, httpPool *pool.ConnectionPool) (Provider, error) {
	var httpClient *http.Client
	if httpPool != nil {
		httpClient = httpPool.HTTPClient()
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.Model, cfg.APIKey, httpClient), nil
	case "bedrock":
		return NewBedrockProvider(ctx, cfg.Model, httpClient)
	case "ollama":
		return NewOllamaLLMProvider(cfg.Model, cfg.Endpoint, httpClient)
	case "mock", "":
		return NewMockClient(), nil
	default:
		return nil, &sderrors.OperationError{
			Operation: "select llm provider",
			Component: "llm",
			Resource:  cfg.Provider,
			Kind:      sderrors.KindValidation,
			Cause:     errUnknownLLMProvider,
		}
	}
}

var errUnknownLLMProvider = sderrors.FailedTo("recognize llm provider", nil)
