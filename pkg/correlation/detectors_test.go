package correlation

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

func mkEvent(id string, host, user string, eventID int, t time.Time, mitre ...string) types.SecurityEvent {
	return types.SecurityEvent{
		ID:              id,
		OriginalEvent:   types.LogEvent{Host: host, User: user, EventID: eventID, Time: t},
		MitreTechniques: mitre,
	}
}

var _ = Describe("TemporalBurstDetector", func() {
	It("flags a burst of events on the same host within the window", func() {
		base := time.Now()
		var events []types.SecurityEvent
		for i := 0; i < 5; i++ {
			events = append(events, mkEvent("e"+string(rune('0'+i)), "host-1", "", 4104, base.Add(time.Duration(i)*time.Second)))
		}
		cfg := config.CorrelationConfig{BurstThreshold: 3, BurstWindowSeconds: 60}

		cs, err := TemporalBurstDetector{}.Detect(context.Background(), events, cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(cs).ToNot(BeEmpty())
		Expect(cs[0].ConfidenceScore).To(BeNumerically(">=", 1.0))
	})
})

var _ = Describe("LateralMovementDetector", func() {
	It("flags a user succeeding on multiple hosts after a failed logon", func() {
		base := time.Now()
		events := []types.SecurityEvent{
			mkEvent("e1", "host-1", "alice", eventIDLogonFailure, base),
			mkEvent("e2", "host-2", "alice", eventIDLogonSuccess, base.Add(time.Minute)),
			mkEvent("e3", "host-3", "alice", eventIDLogonSuccess, base.Add(2*time.Minute)),
		}
		cfg := config.CorrelationConfig{LateralThreshold: 2, LateralWindowMinutes: 10}

		cs, err := LateralMovementDetector{}.Detect(context.Background(), events, cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(cs).To(HaveLen(1))
		Expect(cs[0].EventIDs).To(ContainElements("e2", "e3"))
	})

	It("does not flag a user with no failed logon", func() {
		base := time.Now()
		events := []types.SecurityEvent{
			mkEvent("e1", "host-1", "bob", eventIDLogonSuccess, base),
			mkEvent("e2", "host-2", "bob", eventIDLogonSuccess, base.Add(time.Minute)),
		}
		cfg := config.CorrelationConfig{LateralThreshold: 2, LateralWindowMinutes: 10}

		cs, err := LateralMovementDetector{}.Detect(context.Background(), events, cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(cs).To(BeEmpty())
	})
})

var _ = Describe("PrivilegeEscalationDetector", func() {
	It("flags a privileged logon following a standard session", func() {
		base := time.Now()
		events := []types.SecurityEvent{
			mkEvent("e1", "host-1", "carol", eventIDLogonSuccess, base),
			mkEvent("e2", "host-1", "carol", eventIDSpecialPrivileges, base.Add(time.Minute)),
		}
		cfg := config.CorrelationConfig{ChainWindowMinutes: 30}

		cs, err := PrivilegeEscalationDetector{}.Detect(context.Background(), events, cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(cs).To(HaveLen(1))
	})
})

var _ = Describe("Engine.RunOnce", func() {
	It("persists de-duplicated correlations and updates per-event scores", func() {
		store := &fakeStore{}
		base := time.Now()
		for i := 0; i < 5; i++ {
			store.events = append(store.events, mkEvent("e"+string(rune('0'+i)), "host-1", "", 4104, base.Add(time.Duration(i)*time.Second)))
		}
		cfg := config.CorrelationConfig{
			AnalysisIntervalSeconds: 60,
			LookbackMinutes:         60,
			BurstThreshold:          3,
			BurstWindowSeconds:      60,
			ChainWindowMinutes:      30,
			LateralThreshold:        2,
			LateralWindowMinutes:    30,
		}
		engine := NewEngine(store, []Detector{TemporalBurstDetector{}}, cfg)

		Expect(engine.RunOnce(context.Background())).To(Succeed())
		Expect(store.correlations).ToNot(BeEmpty())
		Expect(store.scoreUpdates).To(BeNumerically(">", 0))

		firstCount := len(store.correlations)
		Expect(engine.RunOnce(context.Background())).To(Succeed())
		Expect(len(store.correlations)).To(Equal(firstCount))
	})
})
