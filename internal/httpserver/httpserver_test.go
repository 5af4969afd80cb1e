package httpserver

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/metrics"
)

func testMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

type fakeChecker struct {
	name    string
	healthy bool
}

func (f fakeChecker) Name() string   { return f.name }
func (f fakeChecker) Healthy() bool  { return f.healthy }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

var _ = Describe("Server routes", func() {
	It("reports ok on /healthz", func() {
		s := New(config.ServerConfig{}, testMetrics(), nil, nil, nil, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("reports 503 on /readyz when a dependency is unhealthy", func() {
		s := New(config.ServerConfig{}, testMetrics(), nil, nil,
			[]HealthChecker{fakeChecker{name: "postgres", healthy: true}, fakeChecker{name: "vectorstore", healthy: false}},
			testLogger())

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("reports 200 on /readyz when every dependency is healthy", func() {
		s := New(config.ServerConfig{}, testMetrics(), nil, nil,
			[]HealthChecker{fakeChecker{name: "postgres", healthy: true}},
			testLogger())

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("exposes Prometheus collectors on /metrics", func() {
		s := New(config.ServerConfig{}, testMetrics(), nil, nil, nil, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("sentineld_"))
	})
})
