// Package types holds the data model shared across the ingest, detect,
// embed, retrieve, analyze, persist and broadcast stages of the pipeline.
package types

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RiskLevel is an ordered risk classification. Ordering matters: the
// pipeline always keeps the maximum of two risk levels.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// MaxRisk returns the higher-ranked of two risk levels. An unrecognized
// level ranks below RiskLow.
func MaxRisk(a, b RiskLevel) RiskLevel {
	ra, ok := riskRank[a]
	if !ok {
		ra = -1
	}
	rb, ok := riskRank[b]
	if !ok {
		rb = -1
	}
	if rb > ra {
		return b
	}
	return a
}

// EventStatus is the lifecycle state of a persisted SecurityEvent.
type EventStatus string

const (
	StatusOpen          EventStatus = "open"
	StatusInvestigating EventStatus = "investigating"
	StatusResolved      EventStatus = "resolved"
	StatusFalsePositive EventStatus = "falsePositive"
)

// CorrelationType enumerates the pattern families the correlation
// engine (C6) can emit.
type CorrelationType string

const (
	CorrelationTemporalBurst       CorrelationType = "TemporalBurst"
	CorrelationAttackChain         CorrelationType = "AttackChain"
	CorrelationLateralMovement     CorrelationType = "LateralMovement"
	CorrelationPrivilegeEscalation CorrelationType = "PrivilegeEscalation"
)

// LogEvent is the immutable unit yielded by the external event source.
type LogEvent struct {
	Time     time.Time `json:"time"`
	Host     string    `json:"host"`
	Channel  string    `json:"channel"`
	EventID  int       `json:"eventId"`
	Level    string    `json:"level"`
	User     string    `json:"user"`
	Message  string    `json:"message"`
	UniqueID string    `json:"uniqueId"`
}

// Embedding is a fixed-length numeric vector. A zero-length Embedding
// is the documented "graceful degradation" signal: downstream stages
// must treat it as "skip similarity retrieval, continue."
type Embedding []float32

// Empty reports whether the embedding carries no data.
func (e Embedding) Empty() bool { return len(e) == 0 }

// VectorPoint is what gets upserted into the vector store.
type VectorPoint struct {
	ID      uuid.UUID      `json:"id"`
	Vector  Embedding      `json:"vector"`
	Payload VectorPayload  `json:"payload"`
}

// VectorPayload is the metadata carried alongside a stored vector.
type VectorPayload struct {
	Time     time.Time `json:"time"`
	Host     string    `json:"host"`
	Channel  string    `json:"channel"`
	EventID  int       `json:"eventId"`
	Level    string    `json:"level"`
	User     string    `json:"user"`
	Message  string    `json:"message"`
	UniqueID string    `json:"uniqueId"`
}

// PointIDFromUniqueID derives a deterministic, RFC-4122-shaped v4 UUID
// from a LogEvent's uniqueId: SHA-256 the id, take the first 16 bytes,
// stamp version (byte 6, high nibble = 0x4) and variant (byte 8, high
// bits = 10) so the result is a valid-looking v4 UUID that is a pure
// function of uniqueId. An empty uniqueId is intentionally NOT
// deduplicated: it gets a fresh random UUID every call.
func PointIDFromUniqueID(uniqueID string) uuid.UUID {
	if uniqueID == "" {
		return uuid.New()
	}
	sum := sha256.Sum256([]byte(uniqueID))
	var id [16]byte
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return uuid.Must(uuid.FromBytes(id[:]))
}

// LLMVerdict is the strict-JSON contract produced by C3's analyze().
type LLMVerdict struct {
	Risk                string   `json:"risk"`
	Confidence          int      `json:"confidence"`
	Summary             string   `json:"summary"`
	MitreTechniques     []string `json:"mitre"`
	RecommendedActions  []string `json:"recommended_actions"`
}

// FallbackVerdict is the synthetic verdict StrictJSON returns when
// every extraction/validation attempt fails, per spec §4.3.
func FallbackVerdict(summary string) LLMVerdict {
	return LLMVerdict{
		Risk:       string(RiskLow),
		Confidence: 25,
		Summary:    summary,
		RecommendedActions: []string{
			"Review the raw event manually",
			"Escalate to an analyst if additional context is needed",
		},
	}
}

// SecurityEvent is the reconciled output of the deterministic rules
// engine (C5) and the LLM (C3), as merged by RulesEngine.Merge.
type SecurityEvent struct {
	ID                 string
	OriginalEvent      LogEvent
	EventType          string
	RiskLevel          RiskLevel
	Confidence         int
	Summary            string
	MitreTechniques    []string
	RecommendedActions []string
	IsDeterministic    bool
	CorrelationID      string
	CorrelationScore   float64
	BurstScore         float64
	AnomalyScore       float64
	Status             EventStatus
	CreatedAt          time.Time
}

// Correlation is a record asserting that a set of events jointly match
// a pattern. Correlations are created once by C6 and never mutated.
type Correlation struct {
	ID                 string
	DetectedAt         time.Time
	CorrelationType    CorrelationType
	ConfidenceScore    float64
	Pattern            string
	EventIDs           []string
	TimeWindow         time.Duration
	MitreTechniques    []string
	RiskLevel          RiskLevel
	Summary            string
	RecommendedActions []string
}

// AttackStage is one step of an AttackChain.
type AttackStage struct {
	Sequence      int
	Name          string
	EventID       string
	Timestamp     time.Time
	Description   string
	MitreTechnique string
}

// AttackChain is an ordered sequence of stages referencing, and
// remaining consistent with, the SecurityEvents they stage.
type AttackChain struct {
	Stages          []AttackStage
	StartTime       time.Time
	EndTime         time.Time
	AffectedAssets  []string
	ConfidenceScore float64
}

// ConnectionHealth is a read-only snapshot owned by C1.
type ConnectionHealth struct {
	InstanceID  string
	IsHealthy   bool
	LastChecked time.Time
	ResponseTime time.Duration
	Status      string
	Error       string
}

// CircuitState is the three-state circuit breaker FSM value.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreakerState is a read-only snapshot of a breaker.
type CircuitBreakerState struct {
	State            CircuitState
	FailuresInWindow int
	FailureThreshold int
	LastOpenedAt     time.Time
	NextAttemptAt    time.Time
	RejectedRequests int64
}

// InstanceMetrics is the per-pooled-instance metrics snapshot.
type InstanceMetrics struct {
	ActiveConnections    int
	TotalConnections     int64
	ConnectionsFromPool  int64
	NewConnections       int64
	MaxPoolSize          int
	AvailableConnections int
	AvgResponseTime      time.Duration
	ErrorRate            float64
	LastError            string
}

// FirstSentence returns up to maxLen bytes of the first sentence of s,
// used by the StrictJSON fallback summary extraction (spec §4.3).
func FirstSentence(s string, maxLen int) string {
	for i, r := range s {
		if r == '.' || r == '\n' {
			if i > maxLen {
				return s[:maxLen]
			}
			return s[:i]
		}
	}
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

// DefaultFallbackSummary builds the documented fallback summary:
// "Security event detected in {channel} (EventId: {id})".
func DefaultFallbackSummary(channel string, eventID int) string {
	return fmt.Sprintf("Security event detected in %s (EventId: %d)", channel, eventID)
}
