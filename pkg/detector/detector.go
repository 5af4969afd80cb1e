// Package detector implements C5: deterministic first-pass
// classification of a LogEvent (SecurityEventDetector) plus the
// reconciliation of that deterministic verdict with the LLM's
// (RulesEngine), per spec §4.5.
package detector

import (
	"context"

	"github.com/sentineld/sentineld/pkg/types"
)

// Verdict is the deterministic classification SecurityEventDetector
// produces for a matched LogEvent. A nil *Verdict means "no rule
// matched" and the pipeline continues without a deterministic verdict.
type Verdict struct {
	EventType          string
	RiskLevel          types.RiskLevel
	Confidence         int
	Summary            string
	MitreTechniques    []string
	RecommendedActions []string
}

// Rule is one base deterministic rule, indexed by (channel, eventId).
type Rule struct {
	EventType          string
	RiskLevel          types.RiskLevel
	Confidence         int
	Summary            string
	MitreTechniques    []string
	RecommendedActions []string
}

// RuleKey indexes the rule table by (channel, eventId), per spec §4.5.
type RuleKey struct {
	Channel string
	EventID int
}

// Detector turns a LogEvent into at most one Verdict by deterministic
// rules, then scans the message for pattern elevators that may raise
// the risk ladder, add MITRE tags, and append actions.
type Detector struct {
	rules     map[RuleKey]Rule
	elevators *ElevatorEngine
}

// NewDetector builds a Detector over rules, evaluating elevators
// through engine.
func NewDetector(rules map[RuleKey]Rule, engine *ElevatorEngine) *Detector {
	return &Detector{rules: rules, elevators: engine}
}

// Detect returns the deterministic Verdict for event, or nil if no base
// rule matches (channel, eventId).
func (d *Detector) Detect(ctx context.Context, event types.LogEvent) (*Verdict, error) {
	rule, ok := d.rules[RuleKey{Channel: event.Channel, EventID: event.EventID}]
	if !ok {
		return nil, nil
	}

	v := &Verdict{
		EventType:          rule.EventType,
		RiskLevel:          rule.RiskLevel,
		Confidence:         rule.Confidence,
		Summary:            rule.Summary,
		MitreTechniques:    append([]string(nil), rule.MitreTechniques...),
		RecommendedActions: append([]string(nil), rule.RecommendedActions...),
	}

	if d.elevators != nil {
		elevations, err := d.elevators.Evaluate(ctx, event.Message)
		if err != nil {
			return v, nil // elevator failure degrades to the base rule, not an error.
		}
		for _, e := range elevations {
			v.RiskLevel = types.MaxRisk(v.RiskLevel, e.ElevateTo)
			v.MitreTechniques = unionStrings(v.MitreTechniques, e.AddMitre)
			v.RecommendedActions = unionStrings(v.RecommendedActions, e.AddActions)
			if e.MaxConfidence > 0 && v.Confidence < e.MaxConfidence {
				v.Confidence = e.MaxConfidence
			}
		}
	}

	return v, nil
}

func unionStrings(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := append([]string(nil), base...)
	for _, s := range out {
		seen[s] = true
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
