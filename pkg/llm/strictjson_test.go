package llm

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

type scriptedClient struct {
	responses []string
	i         int
	errs      []error
}

func (s *scriptedClient) Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error) {
	idx := s.i
	s.i++
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], err
	}
	return "", err
}

func (s *scriptedClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

var _ = Describe("ExtractJSON", func() {
	It("extracts a fenced json block", func() {
		raw := "here you go:\n```json\n{\"risk\":\"low\",\"summary\":\"ok\"}\n```\nthanks"
		Expect(ExtractJSON(raw)).To(Equal(`{"risk":"low","summary":"ok"}`))
	})

	It("extracts the first balanced object when unfenced", func() {
		raw := `noise {"risk":"high","summary":"bad","nested":{"a":1}} trailer`
		Expect(ExtractJSON(raw)).To(Equal(`{"risk":"high","summary":"bad","nested":{"a":1}}`))
	})

	It("falls back to the trimmed whole response", func() {
		raw := "  not json at all  "
		Expect(ExtractJSON(raw)).To(Equal("not json at all"))
	})
})

var _ = Describe("StrictJSONClient", func() {
	It("passes through a well-formed verdict unchanged in content", func() {
		inner := &scriptedClient{responses: []string{`{"risk":"high","confidence":90,"summary":"bad stuff","mitre":["T1059.001"],"recommended_actions":["isolate host"]}`}}
		s := NewStrictJSONClient(inner, config.StrictJSONConfig{Enabled: true})

		out, err := s.Analyze(context.Background(), types.LogEvent{}, nil)
		Expect(err).ToNot(HaveOccurred())

		var v types.LLMVerdict
		Expect(json.Unmarshal([]byte(out), &v)).To(Succeed())
		Expect(v.Risk).To(Equal("high"))
		Expect(v.Confidence).To(Equal(90))
	})

	It("retries once on malformed output then falls back", func() {
		inner := &scriptedClient{responses: []string{"not json", "still not json"}}
		s := NewStrictJSONClient(inner, config.StrictJSONConfig{Enabled: true, EnableRetryOnFailure: true})

		out, err := s.Analyze(context.Background(), types.LogEvent{Channel: "Security", EventID: 4624}, nil)
		Expect(err).ToNot(HaveOccurred())

		var v types.LLMVerdict
		Expect(json.Unmarshal([]byte(out), &v)).To(Succeed())
		Expect(v.Risk).To(Equal("low"))
		Expect(v.Confidence).To(Equal(25))
		Expect(inner.i).To(Equal(2))

		stats := s.Stats()
		Expect(stats.FallbackUsed).To(Equal(int64(1)))
		Expect(stats.RetriedCalls).To(Equal(int64(1)))
	})

	It("always produces output that parses and contains risk and summary", func() {
		inner := &scriptedClient{responses: []string{"garbage"}}
		s := NewStrictJSONClient(inner, config.StrictJSONConfig{Enabled: true})

		out, err := s.Analyze(context.Background(), types.LogEvent{}, nil)
		Expect(err).ToNot(HaveOccurred())

		var generic map[string]interface{}
		Expect(json.Unmarshal([]byte(out), &generic)).To(Succeed())
		Expect(generic).To(HaveKey("risk"))
		Expect(generic).To(HaveKey("summary"))
	})

	It("passes through raw output unvalidated when disabled", func() {
		inner := &scriptedClient{responses: []string{"not json"}}
		s := NewStrictJSONClient(inner, config.StrictJSONConfig{Enabled: false})

		out, err := s.Analyze(context.Background(), types.LogEvent{}, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal("not json"))
	})
})
