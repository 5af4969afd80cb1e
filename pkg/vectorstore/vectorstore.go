// Package vectorstore implements C4: upsert/search/prune vectors with
// payload, backed by Postgres+pgvector, wrapped by an optional Hybrid
// decorator that re-ranks on recency (spec §4.4).
package vectorstore

import (
	"context"

	"github.com/sentineld/sentineld/pkg/types"
)

// Hit is one search result: the stored event and its similarity score.
type Hit struct {
	Event types.LogEvent
	Score float64
}

// VectorStore is the contract both the base Postgres store and the
// Hybrid decorator satisfy.
type VectorStore interface {
	// EnsureCollection idempotently creates the backing table, named by
	// the configured collection, with a vector column of size D. The
	// distance metric is not configurable: PostgresStore always searches
	// by cosine distance.
	EnsureCollection(ctx context.Context) error
	// Upsert stores event's vector and payload, deduplicating by the
	// UUID derived from event.UniqueID.
	Upsert(ctx context.Context, event types.LogEvent, vec types.Embedding) error
	// BatchUpsert upserts every (event, vector) pair, in batches.
	BatchUpsert(ctx context.Context, events []types.LogEvent, vecs []types.Embedding) error
	// Search returns up to k hits ordered by descending score.
	Search(ctx context.Context, query types.Embedding, k int) ([]Hit, error)
	// Has24HoursOfData reports the cold-start gate spec §4.4 defines:
	// at least 10 points and at least one point within the last 24h.
	Has24HoursOfData(ctx context.Context) (bool, error)
	// DeleteOlderThan24Hours prunes every point whose payload time is
	// older than 24 hours.
	DeleteOlderThan24Hours(ctx context.Context) (int64, error)
}
