package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	sderrors "github.com/sentineld/sentineld/internal/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testPoolCfg(strategy string) config.ConnectionPoolsConfig {
	return config.ConnectionPoolsConfig{
		DefaultMaxPoolSize: 2,
		LoadBalancing: config.LoadBalancingConfig{
			Strategy:               strategy,
			WeightAdjustmentFactor: 1.0,
		},
	}
}

func testBreakerCfg() *config.CircuitBreakerConfig {
	return &config.CircuitBreakerConfig{
		FailureThreshold:  3,
		RecoveryTimeout:   50 * time.Millisecond,
		SuccessThreshold:  1,
		RequestTimeout:    time.Second,
		RequestsPerSecond: 1000,
		BurstLimit:        1000,
	}
}

func echoServer(id string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Instance", id)
		w.WriteHeader(http.StatusOK)
	}))
}

var _ = Describe("ConnectionPool", func() {
	It("rejects construction with zero instances", func() {
		_, err := NewConnectionPool("empty", testPoolCfg("RoundRobin"), testBreakerCfg(), nil, testLogger())
		Expect(err).To(HaveOccurred())
		Expect(sderrors.Classify(err)).To(Equal(sderrors.KindValidation))
	})

	It("round-robins across instances and rewrites the request URL to each instance's base", func() {
		a := echoServer("a")
		defer a.Close()
		b := echoServer("b")
		defer b.Close()

		p, err := NewConnectionPool("rr", testPoolCfg("RoundRobin"), testBreakerCfg(), []string{a.URL, b.URL}, testLogger())
		Expect(err).ToNot(HaveOccurred())
		defer p.Stop()

		seen := map[string]int{}
		for i := 0; i < 4; i++ {
			req, _ := http.NewRequest(http.MethodGet, "http://ignored/path", nil)
			resp, err := p.Do(req)
			Expect(err).ToNot(HaveOccurred())
			seen[resp.Header.Get("X-Instance")]++
			resp.Body.Close()
		}
		Expect(seen["a"]).To(Equal(2))
		Expect(seen["b"]).To(Equal(2))
	})

	It("fails over to the healthy instance once one is marked unhealthy (scenario 5)", func() {
		a := echoServer("a")
		defer a.Close()
		b := echoServer("b")
		defer b.Close()

		p, err := NewConnectionPool("failover", testPoolCfg("RoundRobin"), testBreakerCfg(), []string{a.URL, b.URL}, testLogger())
		Expect(err).ToNot(HaveOccurred())
		defer p.Stop()

		unhealthy := false
		p.SetInstanceHealth(idFor("failover", 0), &unhealthy)

		for i := 0; i < 3; i++ {
			req, _ := http.NewRequest(http.MethodGet, "http://ignored/path", nil)
			resp, err := p.Do(req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Header.Get("X-Instance")).To(Equal("b"))
			resp.Body.Close()
		}

		health := p.Health()
		byID := map[string]bool{}
		for _, h := range health {
			byID[h.InstanceID] = h.IsHealthy
		}
		Expect(byID[idFor("failover", 0)]).To(BeFalse())
		Expect(byID[idFor("failover", 1)]).To(BeTrue())

		metrics := p.InstanceMetrics()
		Expect(metrics).To(HaveLen(2))
	})

	It("returns NoHealthyInstances when every instance is overridden unhealthy", func() {
		a := echoServer("a")
		defer a.Close()

		p, err := NewConnectionPool("allbad", testPoolCfg("RoundRobin"), testBreakerCfg(), []string{a.URL}, testLogger())
		Expect(err).ToNot(HaveOccurred())
		defer p.Stop()

		unhealthy := false
		p.SetInstanceHealth(idFor("allbad", 0), &unhealthy)

		req, _ := http.NewRequest(http.MethodGet, "http://ignored/path", nil)
		_, err = p.Do(req)
		Expect(err).To(HaveOccurred())
	})

	It("prefers the lowest-active instance under LeastConnections", func() {
		a := echoServer("a")
		defer a.Close()
		b := echoServer("b")
		defer b.Close()

		p, err := NewConnectionPool("lc", testPoolCfg("LeastConnections"), testBreakerCfg(), []string{a.URL, b.URL}, testLogger())
		Expect(err).ToNot(HaveOccurred())
		defer p.Stop()

		ctx := context.Background()
		pcA, err := p.Get(ctx, idFor("lc", 0))
		Expect(err).ToNot(HaveOccurred())
		Expect(pcA.InstanceID()).To(Equal(idFor("lc", 0)))

		req, _ := http.NewRequest(http.MethodGet, "http://ignored/path", nil)
		resp, err := p.Do(req)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Header.Get("X-Instance")).To(Equal("b"))
		resp.Body.Close()
		pcA.Close()
	})

	It("Get blocks until a slot frees and Close releases it", func() {
		a := echoServer("a")
		defer a.Close()

		cfg := testPoolCfg("RoundRobin")
		cfg.DefaultMaxPoolSize = 1
		p, err := NewConnectionPool("bounded", cfg, testBreakerCfg(), []string{a.URL}, testLogger())
		Expect(err).ToNot(HaveOccurred())
		defer p.Stop()

		ctx := context.Background()
		first, err := p.Get(ctx, "")
		Expect(err).ToNot(HaveOccurred())

		acquired := make(chan struct{})
		go func() {
			second, err := p.Get(context.Background(), "")
			Expect(err).ToNot(HaveOccurred())
			second.Close()
			close(acquired)
		}()

		Consistently(acquired, 50*time.Millisecond).ShouldNot(BeClosed())
		first.Close()
		Eventually(acquired).Should(BeClosed())
	})

	It("Get respects context cancellation while waiting for a slot", func() {
		a := echoServer("a")
		defer a.Close()

		cfg := testPoolCfg("RoundRobin")
		cfg.DefaultMaxPoolSize = 1
		p, err := NewConnectionPool("cancel", cfg, testBreakerCfg(), []string{a.URL}, testLogger())
		Expect(err).ToNot(HaveOccurred())
		defer p.Stop()

		first, err := p.Get(context.Background(), "")
		Expect(err).ToNot(HaveOccurred())
		defer first.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = p.Get(ctx, "")
		Expect(err).To(HaveOccurred())
		Expect(sderrors.Classify(err)).To(Equal(sderrors.KindCancelled))
	})

	It("PooledClient.HTTPClient pins requests to its bound instance", func() {
		a := echoServer("a")
		defer a.Close()
		b := echoServer("b")
		defer b.Close()

		p, err := NewConnectionPool("pin", testPoolCfg("RoundRobin"), testBreakerCfg(), []string{a.URL, b.URL}, testLogger())
		Expect(err).ToNot(HaveOccurred())
		defer p.Stop()

		pc, err := p.Get(context.Background(), idFor("pin", 1))
		Expect(err).ToNot(HaveOccurred())
		defer pc.Close()

		client := pc.HTTPClient()
		for i := 0; i < 3; i++ {
			resp, err := client.Get("http://ignored/path")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Header.Get("X-Instance")).To(Equal("b"))
			resp.Body.Close()
		}
	})
})
