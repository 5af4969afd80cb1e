package llm

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

type fixedClient struct {
	verdict string
	delay   time.Duration
	fail    bool
}

func (f *fixedClient) Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail {
		return "", errBoom
	}
	return f.verdict, nil
}

func (f *fixedClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.verdict, nil
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }

var _ = Describe("EnsembleClient", func() {
	It("majority-votes on risk and weighted-means confidence", func() {
		members := map[string]Client{
			"a": &fixedClient{verdict: `{"risk":"high","confidence":90,"summary":"a says high","mitre":["T1059"]}`},
			"b": &fixedClient{verdict: `{"risk":"high","confidence":80,"summary":"b says high","mitre":["T1027"]}`},
			"c": &fixedClient{verdict: `{"risk":"low","confidence":10,"summary":"c says low"}`},
		}
		weights := map[string]float64{"a": 1, "b": 1, "c": 1}
		def := &fixedClient{verdict: `{"risk":"low","confidence":25,"summary":"default"}`}

		e := NewEnsembleClient(members, weights, def, config.EnsembleConfig{MinQuorum: 2, DeadlineMs: 1000})
		out, err := e.Analyze(context.Background(), types.LogEvent{}, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring(`"risk":"high"`))
		Expect(out).To(ContainSubstring("T1059"))
		Expect(out).To(ContainSubstring("T1027"))
	})

	It("falls back to the default client's verdict below quorum", func() {
		members := map[string]Client{
			"a": &fixedClient{delay: 200 * time.Millisecond, verdict: `{"risk":"high","confidence":90,"summary":"late"}`},
		}
		weights := map[string]float64{"a": 1}
		def := &fixedClient{verdict: `{"risk":"low","confidence":25,"summary":"default verdict"}`}

		e := NewEnsembleClient(members, weights, def, config.EnsembleConfig{MinQuorum: 1, DeadlineMs: 20})
		out, err := e.Analyze(context.Background(), types.LogEvent{}, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(`{"risk":"low","confidence":25,"summary":"default verdict"}`))
	})

	It("ignores members that error", func() {
		members := map[string]Client{
			"a": &fixedClient{fail: true},
			"b": &fixedClient{verdict: `{"risk":"medium","confidence":60,"summary":"b only"}`},
		}
		weights := map[string]float64{"a": 1, "b": 1}
		def := &fixedClient{verdict: `{"risk":"low","confidence":25,"summary":"default"}`}

		e := NewEnsembleClient(members, weights, def, config.EnsembleConfig{MinQuorum: 1, DeadlineMs: 1000})
		out, err := e.Analyze(context.Background(), types.LogEvent{}, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring(`"risk":"medium"`))
	})
})
