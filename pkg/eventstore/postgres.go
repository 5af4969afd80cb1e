package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// PostgresStore is C7's Postgres-backed implementation, using sqlx+lib/pq
// the same way the teacher pairs pgx (vector traffic) and sqlx/lib-pq
// (relational traffic) side by side (SPEC_FULL.md §"C7").
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger

	writeLocksMu sync.Mutex
	writeLocks   map[string]*sync.Mutex
}

// NewPostgresStore wraps db.
func NewPostgresStore(db *sqlx.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, writeLocks: make(map[string]*sync.Mutex)}
}

func (s *PostgresStore) lockFor(id string) *sync.Mutex {
	s.writeLocksMu.Lock()
	defer s.writeLocksMu.Unlock()
	l, ok := s.writeLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.writeLocks[id] = l
	}
	return l
}

type eventRow struct {
	ID                 string    `db:"id"`
	OriginalEventJSON  string    `db:"original_event"`
	EventType          string    `db:"event_type"`
	RiskLevel          string    `db:"risk_level"`
	Confidence         int       `db:"confidence"`
	Summary            string    `db:"summary"`
	MitreTechniques    string    `db:"mitre_techniques"`
	RecommendedActions string    `db:"recommended_actions"`
	IsDeterministic    bool      `db:"is_deterministic"`
	CorrelationID      string    `db:"correlation_id"`
	CorrelationScore   float64   `db:"correlation_score"`
	BurstScore         float64   `db:"burst_score"`
	AnomalyScore       float64   `db:"anomaly_score"`
	Status             string    `db:"status"`
	Host               string    `db:"host"`
	User               string    `db:"user_name"`
	CreatedAt          time.Time `db:"created_at"`
}

// Save upserts event by id, serialized per-id via an in-process mutex
// (spec §4.7: "writes are serialised per event id").
func (s *PostgresStore) Save(ctx context.Context, event types.SecurityEvent) error {
	lock := s.lockFor(event.ID)
	lock.Lock()
	defer lock.Unlock()

	originalJSON, err := json.Marshal(event.OriginalEvent)
	if err != nil {
		return sderrors.FailedTo("marshal original event", err)
	}
	mitreJSON, _ := json.Marshal(event.MitreTechniques)
	actionsJSON, _ := json.Marshal(event.RecommendedActions)

	const q = `INSERT INTO security_events
		(id, original_event, event_type, risk_level, confidence, summary, mitre_techniques,
		 recommended_actions, is_deterministic, correlation_id, correlation_score, burst_score,
		 anomaly_score, status, host, user_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			risk_level = EXCLUDED.risk_level, confidence = EXCLUDED.confidence,
			summary = EXCLUDED.summary, mitre_techniques = EXCLUDED.mitre_techniques,
			recommended_actions = EXCLUDED.recommended_actions, status = EXCLUDED.status,
			correlation_id = EXCLUDED.correlation_id, correlation_score = EXCLUDED.correlation_score,
			burst_score = EXCLUDED.burst_score, anomaly_score = EXCLUDED.anomaly_score`

	_, err = s.db.ExecContext(ctx, q, event.ID, string(originalJSON), event.EventType, string(event.RiskLevel),
		event.Confidence, event.Summary, string(mitreJSON), string(actionsJSON), event.IsDeterministic,
		event.CorrelationID, event.CorrelationScore, event.BurstScore, event.AnomalyScore, string(event.Status),
		event.OriginalEvent.Host, event.OriginalEvent.User, event.CreatedAt)
	if err != nil {
		return sderrors.FailedTo("save security event", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*types.SecurityEvent, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM security_events WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, sderrors.FailedTo("get security event", err)
	}
	ev, err := rowToEvent(row)
	if err != nil {
		return nil, &sderrors.OperationError{Operation: "decode security event", Component: "eventstore", Resource: id, Kind: sderrors.KindCorruption, Cause: err}
	}
	return &ev, nil
}

func (s *PostgresStore) List(ctx context.Context, page, perPage int, filter Filter) ([]types.SecurityEvent, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}

	where, args := buildWhere(filter)
	q := fmt.Sprintf(`SELECT * FROM security_events %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		where, perPage, (page-1)*perPage)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, sderrors.FailedTo("list security events", err)
	}
	return rowsToEvents(rows)
}

func buildWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	idx := 1

	if !f.From.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", idx))
		args = append(args, f.To)
		idx++
	}
	if len(f.RiskLevels) > 0 {
		var placeholders []string
		for _, r := range f.RiskLevels {
			placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
			args = append(args, string(r))
			idx++
		}
		clauses = append(clauses, fmt.Sprintf("risk_level IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(f.EventTypes) > 0 {
		var placeholders []string
		for _, t := range f.EventTypes {
			placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
			args = append(args, t)
			idx++
		}
		clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if f.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Query != "" {
		clauses = append(clauses, fmt.Sprintf("summary ILIKE $%d", idx))
		args = append(args, "%"+f.Query+"%")
		idx++
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM security_events`); err != nil {
		return 0, sderrors.FailedTo("count security events", err)
	}
	return n, nil
}

func (s *PostgresStore) CountByRiskLevel(ctx context.Context) (map[types.RiskLevel]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT risk_level, count(*) FROM security_events GROUP BY risk_level`)
	if err != nil {
		return nil, sderrors.FailedTo("count by risk level", err)
	}
	defer rows.Close()

	out := map[types.RiskLevel]int64{}
	for rows.Next() {
		var risk string
		var n int64
		if err := rows.Scan(&risk, &n); err != nil {
			return nil, sderrors.FailedTo("scan risk level count", err)
		}
		out[types.RiskLevel(risk)] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[types.EventStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM security_events GROUP BY status`)
	if err != nil {
		return nil, sderrors.FailedTo("count by status", err)
	}
	defer rows.Close()

	out := map[types.EventStatus]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, sderrors.FailedTo("scan status count", err)
		}
		out[types.EventStatus(status)] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetInRange(ctx context.Context, from, to time.Time, eventTypes []string) ([]types.SecurityEvent, error) {
	filter := Filter{From: from, To: to, EventTypes: eventTypes}
	where, args := buildWhere(filter)
	q := fmt.Sprintf(`SELECT * FROM security_events %s ORDER BY created_at ASC`, where)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, sderrors.FailedTo("get events in range", err)
	}
	return rowsToEvents(rows)
}

func (s *PostgresStore) UpdateScores(ctx context.Context, eventID string, correlationScore, burstScore, anomalyScore float64, correlationID string) error {
	lock := s.lockFor(eventID)
	lock.Lock()
	defer lock.Unlock()

	const q = `UPDATE security_events SET
		correlation_score = GREATEST(correlation_score, $2),
		burst_score = GREATEST(burst_score, $3),
		anomaly_score = GREATEST(anomaly_score, $4),
		correlation_id = $5
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, eventID, correlationScore, burstScore, anomalyScore, correlationID)
	if err != nil {
		return sderrors.FailedTo("update security event correlation scores", err)
	}
	return nil
}

type correlationRow struct {
	ID                 string    `db:"id"`
	DetectedAt         time.Time `db:"detected_at"`
	CorrelationType    string    `db:"correlation_type"`
	ConfidenceScore    float64   `db:"confidence_score"`
	Pattern            string    `db:"pattern"`
	EventIDs           string    `db:"event_ids"`
	TimeWindowSeconds  int64     `db:"time_window_seconds"`
	MitreTechniques    string    `db:"mitre_techniques"`
	RiskLevel          string    `db:"risk_level"`
	Summary            string    `db:"summary"`
	RecommendedActions string    `db:"recommended_actions"`
}

// SaveCorrelation persists a Correlation, idempotent by id. Correlations
// are append-only: conflicting inserts are ignored rather than updated.
func (s *PostgresStore) SaveCorrelation(ctx context.Context, correlation types.Correlation) error {
	eventIDsJSON, _ := json.Marshal(correlation.EventIDs)
	mitreJSON, _ := json.Marshal(correlation.MitreTechniques)
	actionsJSON, _ := json.Marshal(correlation.RecommendedActions)

	const q = `INSERT INTO correlations
		(id, detected_at, correlation_type, confidence_score, pattern, event_ids,
		 time_window_seconds, mitre_techniques, risk_level, summary, recommended_actions)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, q, correlation.ID, correlation.DetectedAt, string(correlation.CorrelationType),
		correlation.ConfidenceScore, correlation.Pattern, string(eventIDsJSON), int64(correlation.TimeWindow.Seconds()),
		string(mitreJSON), string(correlation.RiskLevel), correlation.Summary, string(actionsJSON))
	if err != nil {
		return sderrors.FailedTo("save correlation", err)
	}
	return nil
}

func (s *PostgresStore) GetCorrelations(ctx context.Context, from, to time.Time) ([]types.Correlation, error) {
	var rows []correlationRow
	const q = `SELECT * FROM correlations WHERE detected_at >= $1 AND detected_at < $2 ORDER BY detected_at ASC`
	if err := s.db.SelectContext(ctx, &rows, q, from, to); err != nil {
		return nil, sderrors.FailedTo("get correlations", err)
	}

	out := make([]types.Correlation, 0, len(rows))
	for _, r := range rows {
		var eventIDs []string
		_ = json.Unmarshal([]byte(r.EventIDs), &eventIDs)
		var mitre []string
		_ = json.Unmarshal([]byte(r.MitreTechniques), &mitre)
		var actions []string
		_ = json.Unmarshal([]byte(r.RecommendedActions), &actions)

		out = append(out, types.Correlation{
			ID:                 r.ID,
			DetectedAt:         r.DetectedAt,
			CorrelationType:    types.CorrelationType(r.CorrelationType),
			ConfidenceScore:    r.ConfidenceScore,
			Pattern:            r.Pattern,
			EventIDs:           eventIDs,
			TimeWindow:         time.Duration(r.TimeWindowSeconds) * time.Second,
			MitreTechniques:    mitre,
			RiskLevel:          types.RiskLevel(r.RiskLevel),
			Summary:            r.Summary,
			RecommendedActions: actions,
		})
	}
	return out, nil
}

func rowToEvent(row eventRow) (types.SecurityEvent, error) {
	var original types.LogEvent
	if err := json.Unmarshal([]byte(row.OriginalEventJSON), &original); err != nil {
		return types.SecurityEvent{}, err
	}
	var mitre []string
	_ = json.Unmarshal([]byte(row.MitreTechniques), &mitre)
	var actions []string
	_ = json.Unmarshal([]byte(row.RecommendedActions), &actions)

	return types.SecurityEvent{
		ID:                 row.ID,
		OriginalEvent:      original,
		EventType:          row.EventType,
		RiskLevel:          types.RiskLevel(row.RiskLevel),
		Confidence:         row.Confidence,
		Summary:            row.Summary,
		MitreTechniques:    mitre,
		RecommendedActions: actions,
		IsDeterministic:    row.IsDeterministic,
		CorrelationID:      row.CorrelationID,
		CorrelationScore:   row.CorrelationScore,
		BurstScore:         row.BurstScore,
		AnomalyScore:       row.AnomalyScore,
		Status:             types.EventStatus(row.Status),
		CreatedAt:          row.CreatedAt,
	}, nil
}

func rowsToEvents(rows []eventRow) ([]types.SecurityEvent, error) {
	out := make([]types.SecurityEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := rowToEvent(r)
		if err != nil {
			return nil, &sderrors.OperationError{Operation: "decode security event", Component: "eventstore", Resource: r.ID, Kind: sderrors.KindCorruption, Cause: err}
		}
		out = append(out, ev)
	}
	return out, nil
}
