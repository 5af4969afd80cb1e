// Package metrics exposes sentineld's Prometheus instrumentation,
// mirroring the teacher's pkg/gateway/metrics package: a single Metrics
// struct of pre-registered collectors under one namespace, constructed
// against either the default registry or (in tests) an isolated one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentineld/sentineld/pkg/types"
)

const namespace = "sentineld"

// Metrics holds every collector this process registers. Fields are
// exported so callers (the httpserver middleware, tests) can reference
// them directly, matching the teacher's gateway Metrics shape.
type Metrics struct {
	// Gatherer is the registry these collectors live in — New uses
	// prometheus.DefaultGatherer (what promhttp.Handler() reads by
	// default); NewWithRegistry's caller supplies its own, so the
	// /metrics endpoint and test assertions always agree on where to
	// look.
	Gatherer prometheus.Gatherer

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	PoolActiveConnections *prometheus.GaugeVec
	PoolAvailableSlots    *prometheus.GaugeVec
	PoolInstanceHealthy   *prometheus.GaugeVec
	PoolRequestErrors     *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec

	EmbeddingCacheHitsTotal   prometheus.Counter
	EmbeddingCacheMissesTotal prometheus.Counter

	EventsIngestedTotal    prometheus.Counter
	EventsPersistedTotal   prometheus.Counter
	EventsDroppedTotal     *prometheus.CounterVec
	PipelineStageDuration  *prometheus.HistogramVec
	CorrelationsFoundTotal *prometheus.CounterVec
	ActiveCorrelations     prometheus.Gauge

	WebsocketClientsConnected prometheus.Gauge
	WebsocketMessagesSent     prometheus.Counter
}

// New registers every collector against the default Prometheus
// registry — the constructor cmd/sentineld calls at startup.
func New() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry registers every collector against registry, letting
// tests build an isolated *prometheus.Registry per the teacher's
// NewMetricsWithRegistry(registry) convention. registry also serves as
// the Gatherer its own /metrics assertions read back from.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	return newMetrics(registry, registry)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := prometheusFactory{registerer}

	m := &Metrics{
		Gatherer: gatherer,
		HTTPRequestsTotal: factory.counterVec(
			"http_requests_total", "Total HTTP requests by method, path and status.",
			[]string{"method", "path", "status"}),
		HTTPRequestDuration: factory.histogramVec(
			"http_request_duration_seconds", "HTTP request duration in seconds.",
			prometheus.DefBuckets, []string{"method", "path", "status"}),
		HTTPRequestsInFlight: factory.gauge(
			"http_requests_in_flight", "HTTP requests currently being served."),

		PoolActiveConnections: factory.gaugeVec(
			"pool_active_connections", "Connections currently checked out, by pool and instance.",
			[]string{"pool", "instance"}),
		PoolAvailableSlots: factory.gaugeVec(
			"pool_available_slots", "Unused connection slots, by pool and instance.",
			[]string{"pool", "instance"}),
		PoolInstanceHealthy: factory.gaugeVec(
			"pool_instance_healthy", "1 if the instance is healthy, 0 otherwise.",
			[]string{"pool", "instance"}),
		PoolRequestErrors: factory.counterVec(
			"pool_request_errors_total", "Requests that failed after routing through the pool.",
			[]string{"pool", "instance"}),

		CircuitBreakerState: factory.gaugeVec(
			"circuit_breaker_state", "0=closed, 1=half-open, 2=open.",
			[]string{"pool", "instance"}),

		EmbeddingCacheHitsTotal: factory.counter(
			"embedding_cache_hits_total", "Embedding cache hits."),
		EmbeddingCacheMissesTotal: factory.counter(
			"embedding_cache_misses_total", "Embedding cache misses."),

		EventsIngestedTotal: factory.counter(
			"events_ingested_total", "Log events read from the event source."),
		EventsPersistedTotal: factory.counter(
			"events_persisted_total", "Security events written to the event store."),
		EventsDroppedTotal: factory.counterVec(
			"events_dropped_total", "Events dropped before persistence, by reason.",
			[]string{"reason"}),
		PipelineStageDuration: factory.histogramVec(
			"pipeline_stage_duration_seconds", "Time spent in each pipeline stage.",
			prometheus.DefBuckets, []string{"stage"}),
		CorrelationsFoundTotal: factory.counterVec(
			"correlations_found_total", "Correlations found, by type.",
			[]string{"type"}),
		ActiveCorrelations: factory.gauge(
			"active_correlations", "Correlations currently tracked in the analysis window."),

		WebsocketClientsConnected: factory.gauge(
			"websocket_clients_connected", "Connected dashboard websocket clients."),
		WebsocketMessagesSent: factory.counter(
			"websocket_messages_sent_total", "Broadcast messages delivered to websocket clients."),
	}
	return m
}

// ObserveHTTPRequest records one HTTP request's outcome — the
// instrumentation hook internal/httpserver's chi middleware calls.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObservePoolHealth mirrors a pool.ConnectionPool's Health() snapshot
// into the per-instance health gauge. The circuit-state gauge is not
// set here.
func (m *Metrics) ObservePoolHealth(poolName string, health []types.ConnectionHealth) {
	for _, h := range health {
		v := 0.0
		if h.IsHealthy {
			v = 1.0
		}
		m.PoolInstanceHealthy.WithLabelValues(poolName, h.InstanceID).Set(v)
	}
}

// ObservePoolMetrics mirrors a pool.ConnectionPool's InstanceMetrics()
// snapshot into the connection-count gauges.
func (m *Metrics) ObservePoolMetrics(poolName string, perInstance map[string]types.InstanceMetrics) {
	for instance, im := range perInstance {
		m.PoolActiveConnections.WithLabelValues(poolName, instance).Set(float64(im.ActiveConnections))
		m.PoolAvailableSlots.WithLabelValues(poolName, instance).Set(float64(im.AvailableConnections))
	}
}

type prometheusFactory struct {
	registerer prometheus.Registerer
}

func (f prometheusFactory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	f.registerer.MustRegister(c)
	return c
}

func (f prometheusFactory) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	f.registerer.MustRegister(c)
	return c
}

func (f prometheusFactory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	f.registerer.MustRegister(g)
	return g
}

func (f prometheusFactory) gaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	f.registerer.MustRegister(g)
	return g
}

func (f prometheusFactory) histogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	f.registerer.MustRegister(h)
	return h
}
