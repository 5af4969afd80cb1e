package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

// HybridStats exposes the one counter spec §4.4 names: how often the
// decorator fell back to pure vector search.
type HybridStats struct {
	FallbackSearches int64
}

// HybridStore wraps a base VectorStore's Search with metadata-aware
// re-ranking on recency, per spec §4.4's algorithm. Every other method
// delegates unchanged.
type HybridStore struct {
	VectorStore
	cfg config.HybridSearchConfig

	fallbackSearches int64
}

// NewHybridStore wraps base with hybrid re-ranking per cfg.
func NewHybridStore(base VectorStore, cfg config.HybridSearchConfig) *HybridStore {
	return &HybridStore{VectorStore: base, cfg: cfg}
}

// Search over-fetches ceil(k*overFetchMultiplier) from the base, scores
// each hit's recency, blends it with the vector score, and truncates to
// k. Any failure anywhere in this path falls back to a plain base
// search and increments FallbackSearches.
func (h *HybridStore) Search(ctx context.Context, query types.Embedding, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if !h.cfg.Enabled {
		return h.VectorStore.Search(ctx, query, k)
	}

	overFetch := int(math.Ceil(float64(k) * h.cfg.OverFetchMultiplier))
	if overFetch < k {
		overFetch = k
	}

	hits, err := h.VectorStore.Search(ctx, query, overFetch)
	if err != nil {
		atomic.AddInt64(&h.fallbackSearches, 1)
		return h.VectorStore.Search(ctx, query, k)
	}

	now := time.Now()
	scored := make([]Hit, len(hits))
	for i, hit := range hits {
		ageHours := now.Sub(hit.Event.Time).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		metadataScore := h.cfg.RecencyWeight * math.Exp(-ageHours/h.cfg.RecencyDecayHours)
		metadataScore = clamp(metadataScore, 0, 1)
		hybridScore := h.cfg.VectorWeight*hit.Score + h.cfg.MetadataWeight*metadataScore
		scored[i] = Hit{Event: hit.Event, Score: hybridScore}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Stats returns a point-in-time snapshot of the hybrid-decorator counters.
func (h *HybridStore) Stats() HybridStats {
	return HybridStats{FallbackSearches: atomic.LoadInt64(&h.fallbackSearches)}
}
