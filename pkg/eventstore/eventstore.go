// Package eventstore implements C7: the durable store for SecurityEvents
// and Correlations, queryable by time/risk/type, with per-id write
// serialization and concurrent reads (spec §4.7).
package eventstore

import (
	"context"
	"time"

	"github.com/sentineld/sentineld/pkg/types"
)

// Filter narrows List's result set. Zero-valued fields are unconstrained.
// PostgresStore applies From and To (on created_at), RiskLevels,
// EventTypes, Status and Query (a case-insensitive substring match on
// summary); it does not apply Hosts, Users, ExactMatch or Fuzzy.
type Filter struct {
	From, To    time.Time
	RiskLevels  []types.RiskLevel
	EventTypes  []string
	Hosts       []string
	Users       []string
	Status      string
	Query       string
	ExactMatch  bool
	Fuzzy       bool
}

// Store is C7's contract.
type Store interface {
	// Save persists event, idempotent by event.ID.
	Save(ctx context.Context, event types.SecurityEvent) error
	GetByID(ctx context.Context, id string) (*types.SecurityEvent, error)
	List(ctx context.Context, page, perPage int, filter Filter) ([]types.SecurityEvent, error)
	Count(ctx context.Context) (int64, error)
	CountByRiskLevel(ctx context.Context) (map[types.RiskLevel]int64, error)
	CountByStatus(ctx context.Context) (map[types.EventStatus]int64, error)
	// GetInRange returns every event in [from, to), optionally narrowed
	// to eventTypes; used by C6's correlation scan.
	GetInRange(ctx context.Context, from, to time.Time, eventTypes []string) ([]types.SecurityEvent, error)

	// SaveCorrelation persists a Correlation record, idempotent by id.
	SaveCorrelation(ctx context.Context, correlation types.Correlation) error
	GetCorrelations(ctx context.Context, from, to time.Time) ([]types.Correlation, error)

	// UpdateScores applies the max-over-correlations update to a
	// SecurityEvent's correlationScore/burstScore/anomalyScore fields.
	UpdateScores(ctx context.Context, eventID string, correlationScore, burstScore, anomalyScore float64, correlationID string) error
}
