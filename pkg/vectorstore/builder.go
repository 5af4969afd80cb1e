package vectorstore

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
)

// Build composes the full C4 chain: the Postgres base store, wrapped by
// Hybrid when cfg.HybridSearch.Enabled.
func Build(pool *pgxpool.Pool, cfg config.Config, logger *logrus.Logger) VectorStore {
	base := NewPostgresStore(pool, cfg.VectorDB, logger)
	if !cfg.HybridSearch.Enabled {
		return base
	}
	return NewHybridStore(base, cfg.HybridSearch)
}
