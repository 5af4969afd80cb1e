package vectorstore

import (
	"context"
	"math"
	"sort"

	"github.com/sentineld/sentineld/pkg/types"
)

// memoryStore is a test-only VectorStore fake: linear-scan cosine
// similarity over an in-process slice, used to drive HybridStore specs
// without a live Postgres instance.
type memoryStore struct {
	points []memoryPoint
}

type memoryPoint struct {
	event types.LogEvent
	vec   types.Embedding
}

func (m *memoryStore) EnsureCollection(ctx context.Context) error { return nil }

func (m *memoryStore) Upsert(ctx context.Context, event types.LogEvent, vec types.Embedding) error {
	id := types.PointIDFromUniqueID(event.UniqueID)
	for i, p := range m.points {
		if types.PointIDFromUniqueID(p.event.UniqueID) == id {
			m.points[i] = memoryPoint{event: event, vec: vec}
			return nil
		}
	}
	m.points = append(m.points, memoryPoint{event: event, vec: vec})
	return nil
}

func (m *memoryStore) BatchUpsert(ctx context.Context, events []types.LogEvent, vecs []types.Embedding) error {
	for i, e := range events {
		if err := m.Upsert(ctx, e, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryStore) Search(ctx context.Context, query types.Embedding, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	hits := make([]Hit, 0, len(m.points))
	for _, p := range m.points {
		hits = append(hits, Hit{Event: p.event, Score: cosine(query, p.vec)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memoryStore) Has24HoursOfData(ctx context.Context) (bool, error) { return len(m.points) >= 10, nil }

func (m *memoryStore) DeleteOlderThan24Hours(ctx context.Context) (int64, error) { return 0, nil }

func cosine(a, b types.Embedding) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
