package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/sentineld/sentineld/pkg/eventstore"
	"github.com/sentineld/sentineld/pkg/types"
)

// fakeStore is a minimal in-memory eventstore.Store for exercising the
// Engine without a database.
type fakeStore struct {
	mu           sync.Mutex
	events       []types.SecurityEvent
	correlations []types.Correlation
	scoreUpdates int
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SecurityEvent(nil), s.events...), nil
}

func (s *fakeStore) SaveCorrelation(ctx context.Context, correlation types.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlations = append(s.correlations, correlation)
	return nil
}

func (s *fakeStore) GetCorrelations(ctx context.Context, from, to time.Time) ([]types.Correlation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Correlation(nil), s.correlations...), nil
}

func (s *fakeStore) UpdateScores(ctx context.Context, eventID string, correlationScore, burstScore, anomalyScore float64, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scoreUpdates++
	return nil
}

var _ eventstore.Store = (*fakeStore)(nil)
