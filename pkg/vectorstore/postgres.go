package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	sderrors "github.com/sentineld/sentineld/internal/errors"
	"github.com/sentineld/sentineld/pkg/types"
)

// PostgresStore is the base VectorStore, backed by Postgres+pgvector,
// matching the teacher's VectorDBConfig.Backend == "postgresql" /
// PostgreSQLVectorConfig shape (spec grounding: factory_test.go).
type PostgresStore struct {
	pool       *pgxpool.Pool
	collection string
	dimension  int
	distance   string
	logger     *logrus.Logger
}

// NewPostgresStore builds a PostgresStore over pool, storing vectors in
// table cfg.Collection sized for cfg.EmbeddingService.Dimension.
func NewPostgresStore(pool *pgxpool.Pool, cfg config.VectorDBConfig, logger *logrus.Logger) *PostgresStore {
	distance := cfg.EmbeddingService.Service
	if distance == "" {
		distance = "cosine"
	}
	return &PostgresStore{
		pool:       pool,
		collection: sanitizeIdentifier(cfg.Collection),
		dimension:  cfg.EmbeddingService.Dimension,
		distance:   "cosine",
		logger:     logger,
	}
}

// sanitizeIdentifier restricts a table name to identifier-safe
// characters, since cfg.Collection flows into SQL unparameterized
// (pgx has no placeholder syntax for identifiers).
func sanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "log_events"
	}
	return b.String()
}

func (s *PostgresStore) EnsureCollection(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return sderrors.FailedTo("create pgvector extension", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UUID PRIMARY KEY,
		vector vector(%d),
		time TIMESTAMPTZ NOT NULL,
		host TEXT NOT NULL,
		channel TEXT NOT NULL,
		event_id INT NOT NULL,
		level TEXT NOT NULL,
		"user" TEXT NOT NULL,
		message TEXT NOT NULL,
		unique_id TEXT NOT NULL
	)`, s.collection, s.dimension)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return sderrors.FailedTo("create vector collection table", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_time_idx ON %s (time)`, s.collection, s.collection)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return sderrors.FailedTo("create vector collection time index", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, event types.LogEvent, vec types.Embedding) error {
	id := types.PointIDFromUniqueID(event.UniqueID)
	q := fmt.Sprintf(`INSERT INTO %s (id, vector, time, host, channel, event_id, level, "user", message, unique_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			vector = EXCLUDED.vector, time = EXCLUDED.time, host = EXCLUDED.host,
			channel = EXCLUDED.channel, event_id = EXCLUDED.event_id, level = EXCLUDED.level,
			"user" = EXCLUDED."user", message = EXCLUDED.message, unique_id = EXCLUDED.unique_id`, s.collection)

	_, err := s.pool.Exec(ctx, q, id, vectorLiteral(vec), event.Time, event.Host, event.Channel,
		event.EventID, event.Level, event.User, event.Message, event.UniqueID)
	if err != nil {
		return sderrors.FailedTo("upsert vector point", err)
	}
	return nil
}

func (s *PostgresStore) BatchUpsert(ctx context.Context, events []types.LogEvent, vecs []types.Embedding) error {
	batch := &pgx.Batch{}
	q := fmt.Sprintf(`INSERT INTO %s (id, vector, time, host, channel, event_id, level, "user", message, unique_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			vector = EXCLUDED.vector, time = EXCLUDED.time, host = EXCLUDED.host,
			channel = EXCLUDED.channel, event_id = EXCLUDED.event_id, level = EXCLUDED.level,
			"user" = EXCLUDED."user", message = EXCLUDED.message, unique_id = EXCLUDED.unique_id`, s.collection)

	for i, event := range events {
		id := types.PointIDFromUniqueID(event.UniqueID)
		batch.Queue(q, id, vectorLiteral(vecs[i]), event.Time, event.Host, event.Channel,
			event.EventID, event.Level, event.User, event.Message, event.UniqueID)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return sderrors.FailedTo("batch upsert vector points", err)
		}
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, query types.Embedding, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	op := "<=>"
	q := fmt.Sprintf(`SELECT time, host, channel, event_id, level, "user", message, unique_id,
		1 - (vector %s $1) AS score
		FROM %s ORDER BY vector %s $1 LIMIT $2`, op, s.collection, op)

	rows, err := s.pool.Query(ctx, q, vectorLiteral(query), k)
	if err != nil {
		return nil, sderrors.FailedTo("search vector store", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var ev types.LogEvent
		var score float64
		if err := rows.Scan(&ev.Time, &ev.Host, &ev.Channel, &ev.EventID, &ev.Level, &ev.User, &ev.Message, &ev.UniqueID, &score); err != nil {
			return nil, sderrors.FailedTo("scan vector search row", err)
		}
		hits = append(hits, Hit{Event: ev, Score: score})
	}
	return hits, rows.Err()
}

func (s *PostgresStore) Has24HoursOfData(ctx context.Context) (bool, error) {
	q := fmt.Sprintf(`SELECT count(*), count(*) FILTER (WHERE time >= $1) FROM %s`, s.collection)
	var total, recent int64
	if err := s.pool.QueryRow(ctx, q, time.Now().Add(-24*time.Hour)).Scan(&total, &recent); err != nil {
		return false, sderrors.FailedTo("check 24h data gate", err)
	}
	return total >= 10 && recent > 0, nil
}

func (s *PostgresStore) DeleteOlderThan24Hours(ctx context.Context) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE time < $1`, s.collection)
	tag, err := s.pool.Exec(ctx, q, time.Now().Add(-24*time.Hour))
	if err != nil {
		return 0, sderrors.FailedTo("delete points older than 24 hours", err)
	}
	return tag.RowsAffected(), nil
}

// vectorLiteral renders an Embedding as a pgvector literal string
// ("[0.1,0.2,...]"), the format pgx sends for a vector(N) column when no
// pgvector-go codec is registered.
func vectorLiteral(vec types.Embedding) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%v", v)
	}
	b.WriteByte(']')
	return b.String()
}
