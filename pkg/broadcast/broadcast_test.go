package broadcast

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Broadcaster", func() {
	It("delivers published messages with a monotonic per-topic sequence", func() {
		b := NewBroadcaster(4)
		ch := b.Subscribe("conn-1", TopicSecurityEvents)

		b.Publish(TopicSecurityEvents, "first")
		b.Publish(TopicSecurityEvents, "second")

		m1 := <-ch
		m2 := <-ch
		Expect(m1.Sequence).To(Equal(uint64(1)))
		Expect(m2.Sequence).To(Equal(uint64(2)))
		Expect(m1.Payload).To(Equal("first"))
	})

	It("only delivers to subscribers of the published topic", func() {
		b := NewBroadcaster(4)
		ch := b.Subscribe("conn-1", TopicSecurityEvents)
		b.Publish(TopicCorrelationAlerts, "unrelated")

		Consistently(ch, 50*time.Millisecond).ShouldNot(Receive())
	})

	It("drops the oldest message and flags a lag on overflow", func() {
		b := NewBroadcaster(2)
		ch := b.Subscribe("conn-1", TopicSystemMetrics)

		b.Publish(TopicSystemMetrics, 1)
		b.Publish(TopicSystemMetrics, 2)
		b.Publish(TopicSystemMetrics, 3) // buffer holds 2; this evicts payload 1

		first := <-ch
		Expect(first.Payload).To(Equal(2))
		Expect(first.Dropped).To(Equal(0))

		second := <-ch
		Expect(second.Payload).To(Equal(3))
		Expect(second.Dropped).To(Equal(1))
	})

	It("stops delivering after Unsubscribe", func() {
		b := NewBroadcaster(4)
		ch := b.Subscribe("conn-1", TopicDashboardUpdates)
		b.Unsubscribe("conn-1", TopicDashboardUpdates)
		b.Publish(TopicDashboardUpdates, "ignored")

		_, ok := <-ch
		Expect(ok).To(BeFalse())
	})

	It("tracks per-topic subscriber counts", func() {
		b := NewBroadcaster(4)
		b.Subscribe("conn-1", TopicScanProgressUpdates)
		b.Subscribe("conn-2", TopicScanProgressUpdates)
		Expect(b.SubscriberCount(TopicScanProgressUpdates)).To(Equal(2))

		b.UnsubscribeAll("conn-1")
		Expect(b.SubscriberCount(TopicScanProgressUpdates)).To(Equal(1))
	})
})
