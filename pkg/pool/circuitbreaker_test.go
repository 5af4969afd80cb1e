package pool

import (
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
)

var _ = Describe("CircuitBreaker", func() {
	var (
		cb         *CircuitBreaker
		logger     *logrus.Logger
		testServer *httptest.Server
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)

		testServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/success":
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			case "/failure":
				w.WriteHeader(http.StatusInternalServerError)
			case "/slow":
				time.Sleep(200 * time.Millisecond)
				w.WriteHeader(http.StatusOK)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		cfg := &config.CircuitBreakerConfig{
			FailureThreshold:    3,
			RecoveryTimeout:     100 * time.Millisecond,
			SuccessThreshold:    2,
			RequestTimeout:      50 * time.Millisecond,
			RequestsPerSecond:   1000,
			BurstLimit:          1000,
			HealthCheckInterval: 50 * time.Millisecond,
			HealthCheckPath:     "/health",
			EnableMetrics:       false,
		}
		cb = NewCircuitBreaker("test-circuit", cfg, &http.Client{}, logger)
	})

	AfterEach(func() {
		cb.Stop()
		testServer.Close()
	})

	doRequest := func(path string) (*http.Response, error) {
		req, err := http.NewRequest(http.MethodGet, testServer.URL+path, nil)
		Expect(err).ToNot(HaveOccurred())
		return cb.Do(req)
	}

	It("starts closed and healthy", func() {
		Expect(cb.GetState()).To(Equal(StateClosed))
		Expect(cb.IsHealthy()).To(BeTrue())
		Expect(cb.GetMetrics().TotalRequests).To(Equal(int64(0)))
	})

	It("stays closed across successful requests", func() {
		for i := 0; i < 5; i++ {
			resp, err := doRequest("/success")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		}

		Expect(cb.GetState()).To(Equal(StateClosed))
		m := cb.GetMetrics()
		Expect(m.TotalRequests).To(Equal(int64(5)))
		Expect(m.SuccessfulRequests).To(Equal(int64(5)))
	})

	It("opens after consecutive failures reach the threshold", func() {
		for i := 0; i < 3; i++ {
			_, _ = doRequest("/failure")
		}

		Expect(cb.GetState()).To(Equal(StateOpen))
		Expect(cb.IsHealthy()).To(BeFalse())
		Expect(cb.GetMetrics().ConsecutiveFailures).To(BeNumerically(">=", 3))
	})

	It("rejects requests once the rate limiter is exhausted", func() {
		tight := &config.CircuitBreakerConfig{
			FailureThreshold:  3,
			RecoveryTimeout:   time.Second,
			SuccessThreshold:  2,
			RequestTimeout:    time.Second,
			RequestsPerSecond: 1,
			BurstLimit:        1,
		}
		tightCB := NewCircuitBreaker("tight-circuit", tight, &http.Client{}, logger)
		defer tightCB.Stop()

		req, _ := http.NewRequest(http.MethodGet, testServer.URL+"/success", nil)
		_, err := tightCB.Do(req)
		Expect(err).ToNot(HaveOccurred())

		req2, _ := http.NewRequest(http.MethodGet, testServer.URL+"/success", nil)
		_, err = tightCB.Do(req2)
		Expect(err).To(MatchError(errRateLimitExceeded))
		Expect(tightCB.GetMetrics().RateLimitHits).To(Equal(int64(1)))
	})

	It("transitions to half-open after the recovery timeout elapses", func() {
		for i := 0; i < 3; i++ {
			_, _ = doRequest("/failure")
		}
		Expect(cb.GetState()).To(Equal(StateOpen))

		time.Sleep(150 * time.Millisecond)

		resp, err := doRequest("/success")
		Expect(err).ToNot(HaveOccurred())
		resp.Body.Close()

		Expect(cb.GetState()).To(Equal(StateHalfOpen))
	})

	It("closes again after enough successes in half-open", func() {
		for i := 0; i < 3; i++ {
			_, _ = doRequest("/failure")
		}
		time.Sleep(150 * time.Millisecond)

		for i := 0; i < 2; i++ {
			resp, err := doRequest("/success")
			Expect(err).ToNot(HaveOccurred())
			resp.Body.Close()
		}

		Expect(cb.GetState()).To(Equal(StateClosed))
		Expect(cb.IsHealthy()).To(BeTrue())
	})

	It("fails a request that exceeds RequestTimeout", func() {
		resp, err := doRequest("/slow")

		Expect(err).To(HaveOccurred())
		Expect(resp).To(BeNil())
	})

	It("resets counters and state on Reset", func() {
		for i := 0; i < 3; i++ {
			_, _ = doRequest("/failure")
		}
		Expect(cb.GetState()).To(Equal(StateOpen))

		cb.Reset()

		Expect(cb.GetState()).To(Equal(StateClosed))
		Expect(cb.IsHealthy()).To(BeTrue())
		Expect(cb.GetMetrics().TotalRequests).To(Equal(int64(0)))
	})
})
