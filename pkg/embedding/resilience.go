package embedding

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sentineld/sentineld/internal/config"
	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// ResilienceStats is the counters exposed by ResilientEmbedder, matching
// spec §4.2's `{totalCalls, successfulCalls, failedCalls, retriedCalls,
// circuitBreakerOpens, timeouts, successRate}`.
type ResilienceStats struct {
	TotalCalls         int64
	SuccessfulCalls    int64
	FailedCalls        int64
	RetriedCalls       int64
	CircuitBreakerOpens int64
	Timeouts           int64
	SuccessRate        float64
}

// ResilientEmbedder wraps a base Provider with retry, per-call timeout,
// and a circuit breaker. Empty-vector results from the base count as a
// provider failure (spec §4.2), not a success. On terminal failure it
// degrades gracefully: returns the empty Embedding rather than an error.
type ResilientEmbedder struct {
	inner  Embedder
	name   string
	cfg    config.EmbeddingResilienceConfig
	breaker *gobreaker.CircuitBreaker[interface{}]

	totalCalls, successfulCalls, failedCalls int64
	retriedCalls, breakerOpens, timeouts     int64
}

// NewResilientEmbedder builds the decorator around inner, named for
// breaker/log attribution.
func NewResilientEmbedder(inner Embedder, name string, cfg config.EmbeddingResilienceConfig) *ResilientEmbedder {
	r := &ResilientEmbedder{inner: inner, name: name, cfg: cfg}
	r.breaker = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "embedding-" + name,
		Timeout:     time.Duration(cfg.CircuitBreakerDurationMinutes) * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.CircuitBreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				atomic.AddInt64(&r.breakerOpens, 1)
			}
		},
	})
	return r
}

// Embed runs inner.Embed with retry-with-jitter-backoff and a per-call
// timeout, guarded by the circuit breaker. On every terminal condition —
// circuit open, exhausted retries, context cancellation aside — it
// returns the empty Embedding (graceful degradation) rather than an
// error, per spec §4.2.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) (types.Embedding, error) {
	return r.embed(ctx, text)
}

func (r *ResilientEmbedder) embed(ctx context.Context, text string) (types.Embedding, error) {
	atomic.AddInt64(&r.totalCalls, 1)

	if !r.cfg.Enabled {
		vec, err := r.inner.Embed(ctx, text)
		if err != nil || vec.Empty() {
			atomic.AddInt64(&r.failedCalls, 1)
			return nil, nil
		}
		atomic.AddInt64(&r.successfulCalls, 1)
		return vec, nil
	}

	maxAttempts := r.cfg.RetryCount + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 1 {
			atomic.AddInt64(&r.retriedCalls, 1)
			r.sleepBackoff(ctx, attempt)
		}

		result, err := r.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSeconds)*time.Second)
			defer cancel()

			vec, err := r.inner.Embed(callCtx, text)
			if err != nil {
				return nil, err
			}
			if vec.Empty() {
				return nil, errEmptyEmbedding
			}
			return vec, nil
		})

		if err == nil {
			atomic.AddInt64(&r.successfulCalls, 1)
			return result.(types.Embedding), nil
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			atomic.AddInt64(&r.timeouts, 1)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// circuit open: fail fast, no further retry benefit.
			break
		}
		if sderrors.Classify(err) == sderrors.KindCancelled {
			break
		}
	}

	_ = lastErr
	atomic.AddInt64(&r.failedCalls, 1)
	return nil, nil
}

var errEmptyEmbedding = errors.New("embedding provider returned an empty vector")

func (r *ResilientEmbedder) sleepBackoff(ctx context.Context, attempt int) {
	base := time.Duration(r.cfg.RetryBaseDelayMs) * time.Millisecond
	delay := base * time.Duration(1<<uint(attempt-2))
	jitter := time.Duration(rand.Int63n(int64(base/4) + 1))
	delay += jitter
	const cap = 30 * time.Second
	if delay > cap {
		delay = cap
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// Stats returns a point-in-time snapshot of the resilience counters.
func (r *ResilientEmbedder) Stats() ResilienceStats {
	total := atomic.LoadInt64(&r.totalCalls)
	successful := atomic.LoadInt64(&r.successfulCalls)
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total)
	}
	return ResilienceStats{
		TotalCalls:          total,
		SuccessfulCalls:      successful,
		FailedCalls:          atomic.LoadInt64(&r.failedCalls),
		RetriedCalls:         atomic.LoadInt64(&r.retriedCalls),
		CircuitBreakerOpens:  atomic.LoadInt64(&r.breakerOpens),
		Timeouts:             atomic.LoadInt64(&r.timeouts),
		SuccessRate:          rate,
	}
}
