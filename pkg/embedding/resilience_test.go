package embedding

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

type flakyEmbedder struct {
	failures int64
	calls    int64
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (types.Embedding, error) {
	n := atomic.AddInt64(&f.calls, 1)
	if n <= atomic.LoadInt64(&f.failures) {
		return nil, errors.New("transient network error")
	}
	return types.Embedding{0.1, 0.2}, nil
}

var _ = Describe("ResilientEmbedder", func() {
	cfg := config.EmbeddingResilienceConfig{
		Enabled:                       true,
		RetryCount:                    2,
		RetryBaseDelayMs:              1,
		TimeoutSeconds:                1,
		CircuitBreakerThreshold:       5,
		CircuitBreakerDurationMinutes: 1,
	}

	It("succeeds after transient failures within the retry budget", func() {
		inner := &flakyEmbedder{failures: 2}
		r := NewResilientEmbedder(inner, "test", cfg)

		vec, err := r.Embed(context.Background(), "hello")
		Expect(err).ToNot(HaveOccurred())
		Expect(vec).To(Equal(types.Embedding{0.1, 0.2}))
		Expect(r.Stats().RetriedCalls).To(BeNumerically(">=", 2))
	})

	It("degrades gracefully to the empty embedding on terminal failure", func() {
		inner := &flakyEmbedder{failures: 100}
		r := NewResilientEmbedder(inner, "test-fail", cfg)

		vec, err := r.Embed(context.Background(), "hello")
		Expect(err).ToNot(HaveOccurred())
		Expect(vec.Empty()).To(BeTrue())
		Expect(r.Stats().FailedCalls).To(Equal(int64(1)))
	})

	It("treats an empty-vector result from the base as a failure", func() {
		inner := &emptyVectorEmbedder{}
		r := NewResilientEmbedder(inner, "test-empty", cfg)

		vec, err := r.Embed(context.Background(), "hello")
		Expect(err).ToNot(HaveOccurred())
		Expect(vec.Empty()).To(BeTrue())
		Expect(r.Stats().FailedCalls).To(Equal(int64(1)))
	})
})

type emptyVectorEmbedder struct{}

func (emptyVectorEmbedder) Embed(ctx context.Context, text string) (types.Embedding, error) {
	return types.Embedding{}, nil
}
