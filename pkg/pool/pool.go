package pool

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/sentineld/sentineld/internal/config"
	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// Strategy selects which pooled instance handles the next request,
// matching the `loadBalancing.strategy` values spec §6 enumerates.
type Strategy string

const (
	StrategyRoundRobin         Strategy = "RoundRobin"
	StrategyWeightedRoundRobin Strategy = "WeightedRoundRobin"
	StrategyLeastConnections   Strategy = "LeastConnections"
	StrategyHealthAware        Strategy = "HealthAware"
	StrategyRandom             Strategy = "Random"
)

const (
	minWeightMultiplier = 0.1
	maxWeightMultiplier = 2.0
)

// DefaultBreakerConfig synthesizes a per-instance CircuitBreakerConfig
// from ConnectionPoolsConfig's flat breaker fields, filling in the
// fields ConnectionPoolsConfig has no equivalent for (success threshold,
// rate limiting, health-check cadence) with conservative defaults. This
// lets callers building a pool from the top-level connectionPools
// section avoid hand-assembling a second config block per endpoint.
func DefaultBreakerConfig(cfg config.ConnectionPoolsConfig) *config.CircuitBreakerConfig {
	return &config.CircuitBreakerConfig{
		FailureThreshold:    cfg.CircuitBreakerFailureThreshold,
		RecoveryTimeout:     time.Duration(cfg.CircuitBreakerRetryTimeoutMs) * time.Millisecond,
		SuccessThreshold:    1,
		RequestTimeout:      time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		RequestsPerSecond:   50,
		BurstLimit:          100,
		HealthCheckInterval: time.Duration(cfg.HealthCheck.HealthCheckIntervalMs) * time.Millisecond,
		HealthCheckPath:     "/healthz",
		EnableMetrics:       true,
		MetricsInterval:     time.Duration(cfg.Metrics.MetricsRetentionMinutes) * time.Minute,
	}
}

// instance is one pooled endpoint: an HTTP base URL guarded by its own
// circuit breaker, with a load-balancing weight that drifts within
// [minWeightMultiplier, maxWeightMultiplier] based on observed health.
type instance struct {
	id      string
	baseURL string
	breaker *CircuitBreaker
	slots   chan struct{}

	mu                sync.Mutex
	weight            float64
	activeConnections int64
	totalConnections  int64
	connsFromPool     int64
	newConns           int64
	warmed             bool
	lastResponseTime   time.Duration
	lastError          string
	lastChecked        time.Time
	manualOverride     *bool
}

func (inst *instance) isHealthy() bool {
	inst.mu.Lock()
	override := inst.manualOverride
	inst.mu.Unlock()
	if override != nil {
		return *override
	}
	return inst.breaker.IsHealthy()
}

// ConnectionPool is C1: a pool of instances behind one logical remote
// dependency (an embedding provider, an LLM provider, or the vector
// store), load-balanced and individually circuit-broken.
type ConnectionPool struct {
	name      string
	cfg       config.ConnectionPoolsConfig
	strategy  Strategy
	instances []*instance
	logger    *logrus.Logger

	rrCounter uint64

	stopCh chan struct{}
}

// NewConnectionPool builds a pool named name fronting the given base
// URLs, each wrapped in its own CircuitBreaker built from
// breakerCfg, and begins a background health-check loop if
// cfg.HealthCheck.EnableHealthChecks is set.
func NewConnectionPool(name string, cfg config.ConnectionPoolsConfig, breakerCfg *config.CircuitBreakerConfig, baseURLs []string, logger *logrus.Logger) (*ConnectionPool, error) {
	if len(baseURLs) == 0 {
		return nil, &sderrors.OperationError{
			Operation: "create connection pool",
			Component: "pool",
			Resource:  name,
			Kind:      sderrors.KindValidation,
			Cause:     errNoInstances,
		}
	}

	maxPoolSize := cfg.DefaultMaxPoolSize
	if maxPoolSize <= 0 {
		maxPoolSize = 1
	}

	strategy := Strategy(cfg.LoadBalancing.Strategy)
	p := &ConnectionPool{
		name:     name,
		cfg:      cfg,
		strategy: strategy,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	for i, u := range baseURLs {
		httpClient := &http.Client{}
		inst := &instance{
			id:      idFor(name, i),
			baseURL: u,
			breaker: NewCircuitBreaker(idFor(name, i), breakerCfg, httpClient, logger),
			weight:  1.0,
			slots:   make(chan struct{}, maxPoolSize),
		}
		p.instances = append(p.instances, inst)
	}

	if cfg.HealthCheck.EnableHealthChecks {
		go p.healthCheckLoop()
	}

	return p, nil
}

func idFor(name string, i int) string {
	return name + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

var errNoInstances = sderrors.FailedTo("select a pooled instance", errEmptyPool)
var errEmptyPool = emptyPoolError{}

type emptyPoolError struct{}

func (emptyPoolError) Error() string { return "connection pool has no configured instances" }

var errCircuitOpen = circuitOpenError{}

type circuitOpenError struct{}

func (circuitOpenError) Error() string { return "selected instance's circuit breaker is open" }

// PooledClient is a handle on one acquired pool slot — spec §4.1's
// `get(preferredInstanceId?) → PooledClient`. Close releases the slot
// back to the pool; callers MUST call Close exactly once.
type PooledClient struct {
	pool     *ConnectionPool
	instance *instance
	released int32
}

// InstanceID identifies which pooled instance this client is bound to.
func (c *PooledClient) InstanceID() string { return c.instance.id }

// HTTPClient returns an *http.Client whose outgoing requests are routed
// to this client's bound instance (URL rewritten to the instance's
// base URL) and guarded by its circuit breaker.
func (c *PooledClient) HTTPClient() *http.Client {
	return &http.Client{Transport: instanceRoundTripper{pool: c.pool, inst: c.instance}}
}

// Close releases the pool slot this client acquired. Safe to call more
// than once; only the first call has effect.
func (c *PooledClient) Close() {
	if !atomic.CompareAndSwapInt32(&c.released, 0, 1) {
		return
	}
	c.instance.mu.Lock()
	c.instance.activeConnections--
	c.instance.mu.Unlock()
	<-c.instance.slots
}

// Get selects a healthy instance (preferring preferredInstanceID when
// supplied and healthy), blocks on that instance's bounded slot
// semaphore until one is free or ctx is cancelled, and returns a
// PooledClient bound to it. Returns a KindTransientRemote error if no
// instance is healthy; an instance whose breaker is open counts as
// unhealthy and is never selected. A KindCircuitOpen error is returned
// only when the selected instance turns unhealthy before the re-check.
func (p *ConnectionPool) Get(ctx context.Context, preferredInstanceID string) (*PooledClient, error) {
	inst := p.selectInstance(preferredInstanceID)
	if inst == nil {
		return nil, &sderrors.OperationError{
			Operation: "select a pooled instance",
			Component: "pool",
			Resource:  p.name,
			Kind:      sderrors.KindTransientRemote,
			Cause:     errEmptyPool,
		}
	}
	if !inst.isHealthy() {
		return nil, &sderrors.OperationError{
			Operation: "acquire pooled client",
			Component: "pool",
			Resource:  inst.id,
			Kind:      sderrors.KindCircuitOpen,
			Cause:     errCircuitOpen,
		}
	}

	select {
	case inst.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, sderrors.Cancelled(ctx.Err())
	}

	inst.mu.Lock()
	inst.activeConnections++
	inst.totalConnections++
	if inst.warmed {
		inst.connsFromPool++
	} else {
		inst.newConns++
		inst.warmed = true
	}
	inst.mu.Unlock()

	return &PooledClient{pool: p, instance: inst}, nil
}

// SetInstanceHealth manually overrides instance id's health status —
// the admin-tooling escape hatch spec §4.1 names. Pass nil to clear the
// override and resume deriving health from the circuit breaker.
func (p *ConnectionPool) SetInstanceHealth(id string, healthy *bool) {
	for _, inst := range p.instances {
		if inst.id == id {
			inst.mu.Lock()
			inst.manualOverride = healthy
			inst.mu.Unlock()
			return
		}
	}
}

// instanceRoundTripper routes every request through one fixed pooled
// instance, rewriting the request's scheme/host to the instance's base
// URL while preserving path/query.
type instanceRoundTripper struct {
	pool *ConnectionPool
	inst *instance
}

func (rt instanceRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.pool.doOn(rt.inst, req)
}

// RoundTrip implements http.RoundTripper directly against the pool
// itself (selecting a fresh instance per request per p.strategy), so a
// *ConnectionPool can be handed to an SDK client as its HTTP transport.
func (p *ConnectionPool) RoundTrip(req *http.Request) (*http.Response, error) {
	return p.Do(req)
}

// HTTPClient returns an *http.Client backed directly by the pool's
// RoundTripper, selecting a (possibly different) healthy instance for
// every outbound request.
func (p *ConnectionPool) HTTPClient() *http.Client {
	return &http.Client{Transport: p}
}

// Do selects an instance per p.strategy and executes req against it,
// rewriting req's scheme/host to the instance's base URL, retrying on
// that same instance per spec §4.1's retry policy. It does not fail
// over to a different instance — failover across instances happens at
// the next Get/Do call once the unhealthy instance's breaker trips.
func (p *ConnectionPool) Do(req *http.Request) (*http.Response, error) {
	inst := p.selectInstance("")
	if inst == nil {
		return nil, &sderrors.OperationError{
			Operation: "select a pooled instance",
			Component: "pool",
			Resource:  p.name,
			Kind:      sderrors.KindTransientRemote,
			Cause:     errEmptyPool,
		}
	}
	return p.doOn(inst, req)
}

// doOn executes req against inst, retrying up to cfg.MaxRetryAttempts
// additional times with exponential-plus-jitter backoff (spec §4.1:
// `base·2^(attempt-1)+jitter≤base/4`, capped at 30s) when the failure
// is retriable: transport errors, timeouts, or a textual match on
// "timeout"/"connection"/"network". Circuit-open rejections and
// explicit cancellation are never retried.
func (p *ConnectionPool) doOn(inst *instance, req *http.Request) (*http.Response, error) {
	rewritten, err := rewriteRequestURL(req, inst.baseURL)
	if err != nil {
		return nil, sderrors.FailedTo("rewrite request for pooled instance "+inst.id, err)
	}

	maxAttempts := p.cfg.MaxRetryAttempts + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var resp *http.Response
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := rewritten.Context().Err(); ctxErr != nil {
			return nil, sderrors.Cancelled(ctxErr)
		}

		if attempt > 1 {
			if !p.sleepRetryBackoff(rewritten.Context(), attempt) {
				return nil, sderrors.Cancelled(rewritten.Context().Err())
			}
		}

		inst.mu.Lock()
		inst.activeConnections++
		inst.totalConnections++
		inst.mu.Unlock()

		start := time.Now()
		var callErr error
		resp, callErr = inst.breaker.Do(rewritten)
		elapsed := time.Since(start)

		inst.mu.Lock()
		inst.activeConnections--
		inst.lastResponseTime = elapsed
		inst.lastChecked = time.Now()
		if callErr != nil {
			inst.lastError = callErr.Error()
		} else {
			inst.lastError = ""
		}
		inst.mu.Unlock()

		p.adjustWeight(inst, callErr == nil)

		if callErr == nil {
			return resp, nil
		}
		err = callErr

		if errors.Is(callErr, context.Canceled) {
			return nil, sderrors.Cancelled(callErr)
		}
		if isCircuitOpen(callErr) || !isRetriableFailure(callErr) {
			break
		}
	}

	return resp, err
}

// isCircuitOpen reports whether err is the breaker's own fast-fail
// rejection. Per spec §7 a circuit-open rejection is transient but
// "does not count as a retriable attempt" — it fails fast rather than
// consuming the retry budget.
func isCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// isRetriableFailure classifies a pooled call's failure per spec
// §4.1's vocabulary: context deadlines and a textual match on
// "timeout"/"connection"/"network" in the error chain.
func isRetriableFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection") ||
		strings.Contains(lower, "network")
}

// sleepRetryBackoff waits base·2^(attempt-2)+jitter (jitter ≤ base/4),
// capped at 30s, before the next retry attempt. Returns false if ctx is
// cancelled while waiting.
func (p *ConnectionPool) sleepRetryBackoff(ctx context.Context, attempt int) bool {
	base := time.Duration(p.cfg.RetryDelayMs) * time.Millisecond
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<uint(attempt-2))
	jitter := time.Duration(rand.Int63n(int64(base/4) + 1))
	delay += jitter
	const cap = 30 * time.Second
	if delay > cap {
		delay = cap
	}
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// rewriteRequestURL clones req with its scheme/host replaced by
// baseURL's, preserving the original path and query. When req's path is
// empty, baseURL's own path is used instead (so callers may pass a bare
// "http://host:port" base with the real path already on baseURL).
func rewriteRequestURL(req *http.Request, baseURL string) (*http.Request, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.URL.Scheme = base.Scheme
	out.URL.Host = base.Host
	if out.URL.Path == "" || out.URL.Path == "/" {
		out.URL.Path = base.Path
	}
	out.Host = base.Host
	return out, nil
}

// adjustWeight nudges inst.weight toward maxWeightMultiplier on
// success and toward minWeightMultiplier on failure, scaled by
// cfg.LoadBalancing.WeightAdjustmentFactor — a hand-rolled heuristic;
// no pooled library expresses a domain-specific weight-drift rule
// (see DESIGN.md).
func (p *ConnectionPool) adjustWeight(inst *instance, success bool) {
	factor := p.cfg.LoadBalancing.WeightAdjustmentFactor
	if factor <= 0 {
		return
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if success {
		inst.weight += factor * 0.01
	} else {
		inst.weight -= factor * 0.01
	}
	if inst.weight < minWeightMultiplier {
		inst.weight = minWeightMultiplier
	}
	if inst.weight > maxWeightMultiplier {
		inst.weight = maxWeightMultiplier
	}
}

// healthyInstances returns the subset of p.instances presently healthy,
// with preferredID moved to the front when it is among them (spec §4.1
// step 1: "If preferredInstanceId is supplied and healthy, use it.").
func (p *ConnectionPool) healthyInstances(preferredID string) []*instance {
	healthy := make([]*instance, 0, len(p.instances))
	var preferred *instance
	for _, inst := range p.instances {
		if !inst.isHealthy() {
			continue
		}
		if inst.id == preferredID {
			preferred = inst
			continue
		}
		healthy = append(healthy, inst)
	}
	if preferred != nil {
		healthy = append([]*instance{preferred}, healthy...)
	}
	return healthy
}

func (p *ConnectionPool) selectInstance(preferredID string) *instance {
	if preferredID != "" {
		for _, inst := range p.instances {
			if inst.id == preferredID && inst.isHealthy() {
				return inst
			}
		}
	}

	candidates := p.healthyInstances("")
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	switch p.strategy {
	case StrategyWeightedRoundRobin:
		return p.selectWeighted(candidates)
	case StrategyLeastConnections:
		return p.selectLeastConnections(candidates)
	case StrategyHealthAware:
		return p.selectHealthAware(candidates)
	case StrategyRandom:
		return candidates[rand.Intn(len(candidates))]
	default:
		return p.selectRoundRobin(candidates)
	}
}

func (p *ConnectionPool) selectRoundRobin(candidates []*instance) *instance {
	n := atomic.AddUint64(&p.rrCounter, 1)
	return candidates[(n-1)%uint64(len(candidates))]
}

func (p *ConnectionPool) selectWeighted(candidates []*instance) *instance {
	total := 0.0
	for _, inst := range candidates {
		inst.mu.Lock()
		total += inst.weight
		inst.mu.Unlock()
	}
	if total <= 0 {
		return p.selectRoundRobin(candidates)
	}

	target := rand.Float64() * total
	cursor := 0.0
	for _, inst := range candidates {
		inst.mu.Lock()
		w := inst.weight
		inst.mu.Unlock()
		cursor += w
		if target <= cursor {
			return inst
		}
	}
	return candidates[len(candidates)-1]
}

func (p *ConnectionPool) selectLeastConnections(candidates []*instance) *instance {
	var best *instance
	var bestActive int64 = -1
	for _, inst := range candidates {
		inst.mu.Lock()
		active := inst.activeConnections
		inst.mu.Unlock()
		if best == nil || active < bestActive {
			best = inst
			bestActive = active
		}
	}
	return best
}

func (p *ConnectionPool) selectHealthAware(candidates []*instance) *instance {
	var best *instance
	var bestScore float64 = -1
	for _, inst := range candidates {
		m := inst.breaker.GetMetrics()
		inst.mu.Lock()
		w := inst.weight
		inst.mu.Unlock()
		score := m.HealthScore * w
		if score > bestScore {
			best = inst
			bestScore = score
		}
	}
	if best == nil {
		return p.selectRoundRobin(candidates)
	}
	return best
}

func (p *ConnectionPool) healthCheckLoop() {
	interval := time.Duration(p.cfg.HealthCheck.HealthCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	timeout := time.Duration(p.cfg.HealthCheck.HealthCheckTimeoutMs) * time.Millisecond

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.checkAll(timeout)
		case <-p.stopCh:
			return
		}
	}
}

func (p *ConnectionPool) checkAll(timeout time.Duration) {
	client := &http.Client{Timeout: timeout}
	for _, inst := range p.instances {
		req, err := http.NewRequest(http.MethodGet, inst.baseURL, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		inst.mu.Lock()
		inst.lastChecked = time.Now()
		if err != nil {
			inst.lastError = err.Error()
		} else {
			inst.lastError = ""
			_ = resp.Body.Close()
		}
		inst.mu.Unlock()
	}
}

// Health returns a per-instance health snapshot.
func (p *ConnectionPool) Health() []types.ConnectionHealth {
	out := make([]types.ConnectionHealth, 0, len(p.instances))
	for _, inst := range p.instances {
		healthy := inst.isHealthy()
		inst.mu.Lock()
		health := types.ConnectionHealth{
			InstanceID:   inst.id,
			IsHealthy:    healthy,
			LastChecked:  inst.lastChecked,
			ResponseTime: inst.lastResponseTime,
			Error:        inst.lastError,
		}
		inst.mu.Unlock()
		if health.IsHealthy {
			health.Status = "healthy"
		} else {
			health.Status = "unhealthy"
		}
		out = append(out, health)
	}
	return out
}

// InstanceMetrics returns per-instance pool metrics keyed by instance ID.
func (p *ConnectionPool) InstanceMetrics() map[string]types.InstanceMetrics {
	out := make(map[string]types.InstanceMetrics, len(p.instances))
	for _, inst := range p.instances {
		bm := inst.breaker.GetMetrics()
		inst.mu.Lock()
		out[inst.id] = types.InstanceMetrics{
			ActiveConnections:    int(inst.activeConnections),
			TotalConnections:     inst.totalConnections,
			ConnectionsFromPool:  inst.connsFromPool,
			NewConnections:       inst.newConns,
			MaxPoolSize:          p.cfg.DefaultMaxPoolSize,
			AvailableConnections: p.cfg.DefaultMaxPoolSize - int(inst.activeConnections),
			AvgResponseTime:      inst.lastResponseTime,
			ErrorRate:            1.0 - bm.HealthScore,
			LastError:            inst.lastError,
		}
		inst.mu.Unlock()
	}
	return out
}

// Stop terminates the pool's health-check loop and every instance's
// circuit breaker background loop.
func (p *ConnectionPool) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	for _, inst := range p.instances {
		inst.breaker.Stop()
	}
}
