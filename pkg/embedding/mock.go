package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/sentineld/sentineld/pkg/types"
)

// MockProvider is a deterministic, dependency-free base provider: a
// hashed bag-of-tokens embedding, L2-normalized, grounded on the
// teacher's pkg/storage/vector.LocalEmbeddingService
// (embedding_service_test.go asserts deterministic, normalized output
// for the same input text). Used for tests and for Embeddings.provider
// == "Mock".
type MockProvider struct {
	dim int
}

// NewMockProvider builds a MockProvider producing vectors of length dim.
func NewMockProvider(dim int) *MockProvider {
	return &MockProvider{dim: dim}
}

func (p *MockProvider) Name() string { return "mock" }

// Embed hashes each whitespace-separated token of text into a bucket of
// the output vector and L2-normalizes the result. The empty string
// still produces a vector of length p.dim (all zeros), satisfying
// spec §8's "embedding of empty string must succeed."
func (p *MockProvider) Embed(ctx context.Context, text string) (types.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, p.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		bucket := int(h.Sum32()) % p.dim
		if bucket < 0 {
			bucket += p.dim
		}
		vec[bucket] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i, v := range vec {
			vec[i] = float32(float64(v) / norm)
		}
	}

	return types.Embedding(vec), nil
}
