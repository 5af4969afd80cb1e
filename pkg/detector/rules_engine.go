package detector

import (
	"encoding/json"

	"github.com/sentineld/sentineld/pkg/types"
)

// RulesEngine reconciles a deterministic Verdict (possibly nil) with an
// LLM verdict, per spec §4.5: take the maximum of the two risks, union
// their MITRE sets and recommended actions, prefer the deterministic
// summary when present, and mark IsDeterministic when the deterministic
// rule fired.
type RulesEngine struct{}

func NewRulesEngine() *RulesEngine { return &RulesEngine{} }

// Merge combines det (nil if no rule matched) with the LLM's raw
// strict-JSON verdict string into a SecurityEvent's classification
// fields. A malformed llmVerdictJSON degrades to an empty LLM verdict
// rather than an error — StrictJSON already guarantees well-formed
// output, so this is defense in depth only.
func (RulesEngine) Merge(det *Verdict, llmVerdictJSON string) (eventType string, risk types.RiskLevel, confidence int, summary string, mitre []string, actions []string, isDeterministic bool) {
	var llm types.LLMVerdict
	_ = json.Unmarshal([]byte(llmVerdictJSON), &llm)

	llmRisk := types.RiskLevel(llm.Risk)

	if det == nil {
		return "", llmRisk, llm.Confidence, llm.Summary, llm.MitreTechniques, llm.RecommendedActions, false
	}

	risk = types.MaxRisk(det.RiskLevel, llmRisk)
	confidence = det.Confidence
	if llm.Confidence > confidence {
		confidence = llm.Confidence
	}
	summary = det.Summary
	if summary == "" {
		summary = llm.Summary
	}
	mitre = unionStrings(det.MitreTechniques, llm.MitreTechniques)
	actions = unionStrings(det.RecommendedActions, llm.RecommendedActions)

	return det.EventType, risk, confidence, summary, mitre, actions, true
}
