// Package llm implements C3: producing a strict-JSON LLMVerdict from an
// event and its neighbors, and a free-text generate() path used by the
// out-of-scope chat assistant. A base client is wrapped by StrictJSON
// and, optionally, Ensemble (spec §4.3).
package llm

import (
	"context"

	"github.com/sentineld/sentineld/pkg/types"
)

// Client is the contract every layer of the decorator chain satisfies.
type Client interface {
	// Analyze returns a raw model response for the given event and its
	// retrieved neighbors; the response is not guaranteed to be valid
	// JSON — that is StrictJSON's job.
	Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error)
	// Generate answers a free-form system/user prompt pair.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Neighbor is one hit returned by C4's search, passed to Analyze for
// context.
type Neighbor struct {
	Event types.LogEvent
	Score float64
}

// Provider is a base client identified by name, for ensemble attribution
// and logging.
type Provider interface {
	Client
	Name() string
}
