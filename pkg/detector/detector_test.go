package detector

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sentineld/sentineld/pkg/types"
)

var _ = Describe("Detector", func() {
	var d *Detector

	BeforeEach(func() {
		engine, err := NewElevatorEngine(context.Background(), DefaultElevators())
		Expect(err).ToNot(HaveOccurred())
		d = NewDetector(DefaultRules(), engine)
	})

	It("classifies a suspicious encoded PowerShell command as high risk per the seed scenario", func() {
		event := types.LogEvent{
			Channel: "Microsoft-Windows-PowerShell/Operational",
			EventID: 4104,
			Message: "powershell.exe -EncodedCommand SQBuAHYAbwBrAGUA",
		}

		v, err := d.Detect(context.Background(), event)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).ToNot(BeNil())
		Expect(v.RiskLevel).To(Equal(types.RiskHigh))
		Expect(v.Confidence).To(Equal(95))
		Expect(v.MitreTechniques).To(ContainElements("T1059.001", "T1027", "T1140"))
	})

	It("returns nil for events with no matching rule", func() {
		event := types.LogEvent{Channel: "Security", EventID: 4624, User: "alice"}
		v, err := d.Detect(context.Background(), event)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(BeNil())
	})

	It("elevates risk to critical when the message matches an offensive-tooling pattern", func() {
		event := types.LogEvent{
			Channel: "Microsoft-Windows-PowerShell/Operational",
			EventID: 4103,
			Message: "Invoke-Mimikatz -DumpCreds",
		}
		v, err := d.Detect(context.Background(), event)
		Expect(err).ToNot(HaveOccurred())
		Expect(v.RiskLevel).To(Equal(types.RiskCritical))
	})
})

var _ = Describe("RulesEngine.Merge", func() {
	engine := NewRulesEngine()

	It("takes the maximum of deterministic and LLM risk, unions mitre/actions", func() {
		det := &Verdict{
			EventType:          "PowerShellExecution",
			RiskLevel:          types.RiskMedium,
			Confidence:         60,
			Summary:            "deterministic summary",
			MitreTechniques:    []string{"T1059.001"},
			RecommendedActions: []string{"review script"},
		}
		llmJSON := `{"risk":"high","confidence":80,"summary":"llm summary","mitre":["T1027"],"recommended_actions":["isolate host"]}`

		_, risk, confidence, summary, mitre, actions, isDet := engine.Merge(det, llmJSON)
		Expect(risk).To(Equal(types.RiskHigh))
		Expect(confidence).To(Equal(80))
		Expect(summary).To(Equal("deterministic summary"))
		Expect(mitre).To(ContainElements("T1059.001", "T1027"))
		Expect(actions).To(ContainElements("review script", "isolate host"))
		Expect(isDet).To(BeTrue())
	})

	It("falls through to the LLM verdict when no deterministic rule fired", func() {
		llmJSON := `{"risk":"low","confidence":25,"summary":"fallback summary"}`
		_, risk, confidence, summary, _, _, isDet := engine.Merge(nil, llmJSON)
		Expect(risk).To(Equal(types.RiskLow))
		Expect(confidence).To(Equal(25))
		Expect(summary).To(Equal("fallback summary"))
		Expect(isDet).To(BeFalse())
	})
})
