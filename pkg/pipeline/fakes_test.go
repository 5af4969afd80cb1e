package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sentineld/sentineld/pkg/eventstore"
	"github.com/sentineld/sentineld/pkg/llm"
	"github.com/sentineld/sentineld/pkg/types"
	"github.com/sentineld/sentineld/pkg/vectorstore"
)

type fakeEmbedder struct {
	vec types.Embedding
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (types.Embedding, error) {
	return f.vec, f.err
}

type fakeVectorStore struct {
	mu      sync.Mutex
	upserts int
	hits    []vectorstore.Hit
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeVectorStore) Upsert(ctx context.Context, event types.LogEvent, vec types.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return nil
}

func (f *fakeVectorStore) BatchUpsert(ctx context.Context, events []types.LogEvent, vecs []types.Embedding) error {
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, query types.Embedding, k int) ([]vectorstore.Hit, error) {
	return f.hits, nil
}

func (f *fakeVectorStore) Has24HoursOfData(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeVectorStore) DeleteOlderThan24Hours(ctx context.Context) (int64, error) { return 0, nil }

type fakeLLMClient struct {
	response string
	err      error
}

func (f *fakeLLMClient) Analyze(ctx context.Context, event types.LogEvent, neighbors []llm.Neighbor) (string, error) {
	return f.response, f.err
}

func (f *fakeLLMClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

type fakeStore struct {
	mu     sync.Mutex
	events []types.SecurityEvent
}

func (s *fakeStore) Save(ctx context.Context, event types.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*types.SecurityEvent, error) { return nil, nil }

func (s *fakeStore) List(ctx context.Context, page, perPage int, filter eventstore.Filter) ([]types.SecurityEvent, error) {
	return nil, nil
}

func (s *fakeStore) Count(ctx context.Context) (int64, error) { return 0, nil }

func (s *fakeStore) CountByRiskLevel(ctx context.Context) (map[types.RiskLevel]int64, error) {
	return nil, nil
}

func (s *fakeStore) CountByStatus(ctx context.Context) (map[types.EventStatus]int64, error) {
	return nil, nil
}

func (s *fakeStore) GetInRange(ctx context.Context, from, to time.Time, eventTypes []string) ([]types.SecurityEvent, error) {
	return nil, nil
}

func (s *fakeStore) SaveCorrelation(ctx context.Context, correlation types.Correlation) error { return nil }

func (s *fakeStore) GetCorrelations(ctx context.Context, from, to time.Time) ([]types.Correlation, error) {
	return nil, nil
}

func (s *fakeStore) UpdateScores(ctx context.Context, eventID string, correlationScore, burstScore, anomalyScore float64, correlationID string) error {
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

var _ eventstore.Store = (*fakeStore)(nil)
var _ vectorstore.VectorStore = (*fakeVectorStore)(nil)
var _ llm.Client = (*fakeLLMClient)(nil)
