package embedding

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

// CacheStats is the counters exposed by CachingEmbedder, matching spec
// §4.2's `{totalRequests, hits, misses, evictions, hitRate}`.
type CacheStats struct {
	TotalRequests int64
	Hits          int64
	Misses        int64
	Evictions     int64
	HitRate       float64
}

type cacheEntry struct {
	vec       types.Embedding
	expiresAt time.Time
}

// CachingEmbedder keys by the normalized form of the input text (spec
// §4.2: trim, collapse internal whitespace, lowercase) so `" Hello
// World "` and `"hello world"` are the same cache key. Backed by Redis
// when cfg.RedisAddr is set, else by an in-process bounded LRU.
type CachingEmbedder struct {
	inner Embedder
	cfg   config.EmbeddingCacheConfig

	local *lru.Cache[string, cacheEntry]
	redis *redis.Client

	totalRequests, hits, misses, evictions int64
}

// NewCachingEmbedder builds the decorator around inner. When
// cfg.Enabled is false, Embed passes through and never records a hit.
func NewCachingEmbedder(inner Embedder, cfg config.EmbeddingCacheConfig) (*CachingEmbedder, error) {
	c := &CachingEmbedder{inner: inner, cfg: cfg}
	if !cfg.Enabled {
		return c, nil
	}

	if cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return c, nil
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	local, err := lru.NewWithEvict[string, cacheEntry](maxEntries, func(string, cacheEntry) {
		atomic.AddInt64(&c.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	c.local = local
	return c, nil
}

// NormalizeText implements spec §4.2's normalization contract: trim,
// collapse internal whitespace, lowercase.
func NormalizeText(text string) string {
	fields := strings.Fields(text)
	return strings.ToLower(strings.Join(fields, " "))
}

// Embed looks up the normalized key in the cache before delegating to
// inner. Concurrent lookups of the same key may race past each other to
// the inner provider (single-flight is not required by spec §4.2) but
// the hit/miss counters remain monotone.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) (types.Embedding, error) {
	atomic.AddInt64(&c.totalRequests, 1)

	if !c.cfg.Enabled {
		return c.inner.Embed(ctx, text)
	}

	key := NormalizeText(text)

	if vec, ok := c.get(ctx, key); ok {
		atomic.AddInt64(&c.hits, 1)
		return vec, nil
	}
	atomic.AddInt64(&c.misses, 1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if !vec.Empty() {
		c.set(ctx, key, vec)
	}
	return vec, nil
}

func (c *CachingEmbedder) get(ctx context.Context, key string) (types.Embedding, bool) {
	if c.local != nil {
		entry, ok := c.local.Get(key)
		if !ok {
			return nil, false
		}
		if time.Now().After(entry.expiresAt) {
			c.local.Remove(key)
			return nil, false
		}
		return entry.vec, true
	}
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, redisKey(key)).Bytes()
		if err != nil {
			return nil, false
		}
		return decodeEmbedding(raw), true
	}
	return nil, false
}

func (c *CachingEmbedder) set(ctx context.Context, key string, vec types.Embedding) {
	ttl := time.Duration(c.cfg.TTLMinutes) * time.Minute
	if c.local != nil {
		c.local.Add(key, cacheEntry{vec: vec, expiresAt: time.Now().Add(ttl)})
		return
	}
	if c.redis != nil {
		_ = c.redis.Set(ctx, redisKey(key), encodeEmbedding(vec), ttl).Err()
	}
}

func redisKey(key string) string { return "embedcache:" + key }

func encodeEmbedding(vec types.Embedding) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		bits := math.Float32bits(v)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeEmbedding(buf []byte) types.Embedding {
	n := len(buf) / 4
	vec := make(types.Embedding, n)
	for i := 0; i < n; i++ {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// Stats returns a point-in-time snapshot of the cache counters.
func (c *CachingEmbedder) Stats() CacheStats {
	total := atomic.LoadInt64(&c.totalRequests)
	hits := atomic.LoadInt64(&c.hits)
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		TotalRequests: total,
		Hits:          hits,
		Misses:        atomic.LoadInt64(&c.misses),
		Evictions:     atomic.LoadInt64(&c.evictions),
		HitRate:       rate,
	}
}
