// Package embedding implements C2: turning event text into fixed-length
// vectors through a base provider wrapped by Resilient -> Caching ->
// Telemetry decorators (spec §4.2), composed outermost-first as
// Telemetry(Caching(Resilience(Base))).
package embedding

import (
	"context"

	"github.com/sentineld/sentineld/pkg/types"
)

// Embedder is the contract every layer of the decorator chain satisfies.
// A zero-length Embedding is the documented graceful-degradation signal.
type Embedder interface {
	Embed(ctx context.Context, text string) (types.Embedding, error)
}

// Provider is a base embedding backend identified by name, used for
// telemetry attribution and log fields.
type Provider interface {
	Embedder
	Name() string
}
