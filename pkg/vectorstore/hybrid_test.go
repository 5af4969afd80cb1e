package vectorstore

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

var _ = Describe("HybridStore", func() {
	var (
		base *memoryStore
		cfg  config.HybridSearchConfig
	)

	BeforeEach(func() {
		base = &memoryStore{}
		cfg = config.HybridSearchConfig{
			Enabled:             true,
			VectorWeight:        0.5,
			MetadataWeight:      0.5,
			RecencyWeight:       1.0,
			RecencyDecayHours:   12,
			OverFetchMultiplier: 2,
		}
	})

	It("ranks the more recent of two equal-vector-score candidates first", func() {
		now := time.Now()
		vec := types.Embedding{1, 0, 0}

		Expect(base.Upsert(context.Background(), types.LogEvent{
			UniqueID: "old", Time: now.Add(-24 * time.Hour), Message: "old",
		}, vec)).To(Succeed())
		Expect(base.Upsert(context.Background(), types.LogEvent{
			UniqueID: "recent", Time: now.Add(-1 * time.Hour), Message: "recent",
		}, vec)).To(Succeed())

		hybrid := NewHybridStore(base, cfg)
		hits, err := hybrid.Search(context.Background(), vec, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(hits).To(HaveLen(2))
		Expect(hits[0].Event.UniqueID).To(Equal("recent"))
	})

	It("returns at most k hits ordered by descending hybrid score", func() {
		now := time.Now()
		for i := 0; i < 5; i++ {
			Expect(base.Upsert(context.Background(), types.LogEvent{
				UniqueID: string(rune('a' + i)), Time: now.Add(-time.Duration(i) * time.Hour),
			}, types.Embedding{float32(i), 1, 0})).To(Succeed())
		}

		hybrid := NewHybridStore(base, cfg)
		hits, err := hybrid.Search(context.Background(), types.Embedding{0, 1, 0}, 3)
		Expect(err).ToNot(HaveOccurred())
		Expect(hits).To(HaveLen(3))
		for i := 1; i < len(hits); i++ {
			Expect(hits[i-1].Score).To(BeNumerically(">=", hits[i].Score))
		}
	})

	It("passes through to the base store when disabled", func() {
		cfg.Enabled = false
		Expect(base.Upsert(context.Background(), types.LogEvent{UniqueID: "x"}, types.Embedding{1, 0})).To(Succeed())

		hybrid := NewHybridStore(base, cfg)
		hits, err := hybrid.Search(context.Background(), types.Embedding{1, 0}, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(hits).To(HaveLen(1))
	})

	It("k=0 returns the empty list without contacting the base store", func() {
		hybrid := NewHybridStore(base, cfg)
		hits, err := hybrid.Search(context.Background(), types.Embedding{1, 0}, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(hits).To(BeEmpty())
	})
})

var _ = Describe("PointIDFromUniqueID", func() {
	It("derives the same UUID for the same uniqueId", func() {
		id1 := types.PointIDFromUniqueID("abc-123")
		id2 := types.PointIDFromUniqueID("abc-123")
		Expect(id1).To(Equal(id2))
	})

	It("derives a different UUID for an empty uniqueId on every call", func() {
		id1 := types.PointIDFromUniqueID("")
		id2 := types.PointIDFromUniqueID("")
		Expect(id1).ToNot(Equal(id2))
	})
})
