// Package httpserver assembles the ambient process HTTP surface —
// health/readiness probes, the Prometheus /metrics endpoint, a
// read-only configuration snapshot, and the dashboard websocket
// upgrade — behind a go-chi/chi router, matching the teacher's own
// chi-based gateway server wiring (test/unit/gateway/middleware/
// http_metrics_test.go builds a *chi.Mux and attaches an HTTP metrics
// middleware exactly as New does here).
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/metrics"
	"github.com/sentineld/sentineld/internal/wsserver"
)

// HealthChecker reports whether a dependency the process relies on
// (a connection pool, the event store) is currently reachable.
type HealthChecker interface {
	Name() string
	Healthy() bool
}

// Server wraps a chi.Mux exposing this process's ambient endpoints.
type Server struct {
	router *chi.Mux
	addr   string
	logger *logrus.Logger

	http *http.Server
}

// New builds the router: CORS, request metrics, /healthz, /readyz,
// /metrics, /debug/config, and the websocket upgrade endpoint at /ws.
func New(cfg config.ServerConfig, m *metrics.Metrics, fw *config.FileWatcher, ws *wsserver.Server, checkers []HealthChecker, logger *logrus.Logger) *Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(httpMetricsMiddleware(m))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", readinessHandler(checkers))

	r.Handle("/metrics", promhttp.HandlerFor(m.Gatherer, promhttp.HandlerOpts{}))

	if fw != nil {
		r.Get("/debug/config", debugConfigHandler(fw))
	}

	if ws != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWS(r.Context())(w, r)
		})
	}

	return &Server{
		router: r,
		addr:   cfg.ListenAddr,
		logger: logger,
	}
}

// Run starts the server and blocks until ctx is cancelled, then drains
// in-flight requests with a bounded grace period before returning.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func readinessHandler(checkers []HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]bool{}
		allHealthy := true
		for _, c := range checkers {
			healthy := c.Healthy()
			status[c.Name()] = healthy
			allHealthy = allHealthy && healthy
		}
		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	}
}

func debugConfigHandler(fw *config.FileWatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fw.Current().Redacted())
	}
}

func httpMetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			m.ObserveHTTPRequest(r.Method, routePattern(r), statusLabel(rec.status), time.Since(start))
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
