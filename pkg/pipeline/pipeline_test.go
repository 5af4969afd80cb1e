package pipeline

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/broadcast"
	"github.com/sentineld/sentineld/pkg/detector"
	"github.com/sentineld/sentineld/pkg/types"
)

func newTestPipeline(llmResponse string, store *fakeStore, bc *broadcast.Broadcaster, vec types.Embedding) *Pipeline {
	engine, err := detector.NewElevatorEngine(context.Background(), nil)
	Expect(err).ToNot(HaveOccurred())
	det := detector.NewDetector(map[detector.RuleKey]detector.Rule{}, engine)

	cfg := config.PipelineConfig{
		MaxInFlight:        4,
		NeighborK:          3,
		MinRiskToPersist:   "medium",
		PerEventDeadlineMs: 5000,
	}

	return New(cfg, nil, Deps{
		Detector:    det,
		Embedder:    &fakeEmbedder{vec: vec},
		VectorStore: &fakeVectorStore{},
		LLMClient:   &fakeLLMClient{response: llmResponse},
		Store:       store,
		Broadcaster: bc,
		Logger:      logrus.New(),
	})
}

var _ = Describe("Pipeline.Run", func() {
	It("persists and broadcasts an event whose merged risk meets the minimum", func() {
		store := &fakeStore{}
		bc := broadcast.NewBroadcaster(4)
		sub := bc.Subscribe("conn-1", broadcast.TopicSecurityEvents)
		p := newTestPipeline(`{"risk":"high","confidence":90,"summary":"bad stuff","mitre":["T1059"],"recommended_actions":["isolate"]}`,
			store, bc, types.Embedding{0.1, 0.2})

		events := make(chan types.LogEvent, 1)
		events <- types.LogEvent{Channel: "Security", EventID: 4624, Message: "hello", UniqueID: "u1", Time: time.Now()}
		close(events)

		Expect(p.Run(context.Background(), events)).To(Succeed())
		Expect(store.count()).To(Equal(1))

		Eventually(sub).Should(Receive())
	})

	It("does not persist an event whose merged risk is below the minimum", func() {
		store := &fakeStore{}
		bc := broadcast.NewBroadcaster(4)
		p := newTestPipeline(`{"risk":"low","confidence":10,"summary":"benign"}`, store, bc, types.Embedding{0.1})

		events := make(chan types.LogEvent, 1)
		events <- types.LogEvent{Channel: "Security", EventID: 4624, Message: "hello", UniqueID: "u2", Time: time.Now()}
		close(events)

		Expect(p.Run(context.Background(), events)).To(Succeed())
		Expect(store.count()).To(Equal(0))
	})

	It("skips an event matching an ignore pattern", func() {
		store := &fakeStore{}
		bc := broadcast.NewBroadcaster(4)
		p := newTestPipeline(`{"risk":"critical","confidence":99,"summary":"should be ignored"}`, store, bc, types.Embedding{0.1})
		eventID := 4624
		p.ignorePatterns = []compiledIgnorePattern{{channel: "Security", eventID: &eventID}}

		events := make(chan types.LogEvent, 1)
		events <- types.LogEvent{Channel: "Security", EventID: 4624, Message: "hello", UniqueID: "u3", Time: time.Now()}
		close(events)

		Expect(p.Run(context.Background(), events)).To(Succeed())
		Expect(store.count()).To(Equal(0))
	})
})
