// Package pool implements C1: per-instance circuit breakers, rate
// limiting, health checks and load balancing across pooled remote
// endpoints (embedding providers, LLM providers, the vector store).
package pool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sentineld/sentineld/internal/config"
)

// State mirrors the teacher's infrahttp.State three-value circuit
// breaker FSM (test/unit/infrastructure/circuit_breaker_test.go),
// string-typed here instead of gobreaker's own int-typed State so
// callers outside this package never import gobreaker directly.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Metrics is the read-only snapshot returned by GetMetrics, matching
// the fields asserted throughout circuit_breaker_test.go.
type Metrics struct {
	State               State
	TotalRequests        int64
	SuccessfulRequests   int64
	FailedRequests       int64
	RejectedRequests     int64
	RateLimitHits        int64
	ConsecutiveFailures  int64
	HealthScore          float64
}

// CircuitBreaker wraps an *http.Client with a sony/gobreaker state
// machine, a token-bucket rate limiter, and metrics counters, matching
// the contract of the teacher's pkg/infrastructure/http.CircuitBreaker:
// NewCircuitBreaker(name, config, client, logger), Do, GetState,
// IsHealthy, GetMetrics, Reset, Stop.
type CircuitBreaker struct {
	name   string
	cfg    *config.CircuitBreakerConfig
	client *http.Client
	logger *logrus.Logger

	limiter *rate.Limiter

	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker[*http.Response]

	totalRequests       int64
	successfulRequests  int64
	failedRequests      int64
	rejectedRequests    int64
	rateLimitHits       int64
	consecutiveFailures int64

	stopCh chan struct{}
}

var errRateLimitExceeded = errors.New("rate limit exceeded")

// NewCircuitBreaker constructs a breaker named name, guarding calls to
// client according to cfg.
func NewCircuitBreaker(name string, cfg *config.CircuitBreakerConfig, client *http.Client, logger *logrus.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstLimit),
		stopCh:  make(chan struct{}),
	}
	cb.breaker = cb.newGobreaker()

	if cfg.EnableMetrics && cfg.MetricsInterval > 0 {
		go cb.metricsLoop()
	}

	return cb
}

func (cb *CircuitBreaker) newGobreaker() *gobreaker.CircuitBreaker[*http.Response] {
	settings := gobreaker.Settings{
		Name:        cb.name,
		MaxRequests: uint32(cb.cfg.SuccessThreshold),
		Timeout:     cb.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cb.cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cb.logger.WithFields(logrus.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Info("circuit breaker state transition")
		},
	}
	return gobreaker.NewCircuitBreaker[*http.Response](settings)
}

// Do executes req through the breaker, subject to rate limiting and
// cfg.RequestTimeout. A rejected (rate-limited or open-circuit)
// request returns a non-nil error without ever reaching client.
func (cb *CircuitBreaker) Do(req *http.Request) (*http.Response, error) {
	if !cb.limiter.Allow() {
		atomic.AddInt64(&cb.rateLimitHits, 1)
		atomic.AddInt64(&cb.rejectedRequests, 1)
		return nil, errRateLimitExceeded
	}

	atomic.AddInt64(&cb.totalRequests, 1)

	ctx, cancel := context.WithTimeout(req.Context(), cb.cfg.RequestTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := cb.breaker.Execute(func() (*http.Response, error) {
		resp, err := cb.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
		}
		return resp, nil
	})

	if err != nil {
		atomic.AddInt64(&cb.failedRequests, 1)
		atomic.AddInt64(&cb.consecutiveFailures, 1)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			atomic.AddInt64(&cb.rejectedRequests, 1)
		}
		return nil, err
	}

	atomic.AddInt64(&cb.successfulRequests, 1)
	atomic.StoreInt64(&cb.consecutiveFailures, 0)
	return resp, nil
}

// GetState returns the breaker's current FSM state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// IsHealthy reports whether the breaker is presently accepting traffic.
func (cb *CircuitBreaker) IsHealthy() bool {
	return cb.GetState() != StateOpen
}

// GetMetrics returns a point-in-time snapshot of the breaker's counters.
func (cb *CircuitBreaker) GetMetrics() Metrics {
	total := atomic.LoadInt64(&cb.totalRequests)
	successful := atomic.LoadInt64(&cb.successfulRequests)

	healthScore := 1.0
	if total > 0 {
		healthScore = float64(successful) / float64(total)
	}

	return Metrics{
		State:               cb.GetState(),
		TotalRequests:       total,
		SuccessfulRequests:  successful,
		FailedRequests:      atomic.LoadInt64(&cb.failedRequests),
		RejectedRequests:    atomic.LoadInt64(&cb.rejectedRequests),
		RateLimitHits:       atomic.LoadInt64(&cb.rateLimitHits),
		ConsecutiveFailures: atomic.LoadInt64(&cb.consecutiveFailures),
		HealthScore:         healthScore,
	}
}

// Reset clears all counters and returns the breaker to StateClosed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.breaker = cb.newGobreaker()
	cb.mu.Unlock()

	atomic.StoreInt64(&cb.totalRequests, 0)
	atomic.StoreInt64(&cb.successfulRequests, 0)
	atomic.StoreInt64(&cb.failedRequests, 0)
	atomic.StoreInt64(&cb.rejectedRequests, 0)
	atomic.StoreInt64(&cb.rateLimitHits, 0)
	atomic.StoreInt64(&cb.consecutiveFailures, 0)
}

func (cb *CircuitBreaker) metricsLoop() {
	ticker := time.NewTicker(cb.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m := cb.GetMetrics()
			cb.logger.WithFields(logrus.Fields{
				"circuit":      cb.name,
				"state":        m.State,
				"health_score": m.HealthScore,
				"total":        m.TotalRequests,
			}).Debug("circuit breaker metrics")
		case <-cb.stopCh:
			return
		}
	}
}

// Stop terminates the breaker's background metrics loop, if any.
func (cb *CircuitBreaker) Stop() {
	select {
	case <-cb.stopCh:
	default:
		close(cb.stopCh)
	}
}
