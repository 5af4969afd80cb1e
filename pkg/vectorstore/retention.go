package vectorstore

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RunRetentionLoop periodically prunes points older than 24 hours,
// implementing spec §4.4's "sliding 24-hour retention" on a supervised
// timer (spec §9's "Singleton + background Timer...becomes a supervised
// periodic task with explicit cancellation" redesign note).
func RunRetentionLoop(ctx context.Context, store VectorStore, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deleted, err := store.DeleteOlderThan24Hours(ctx)
			if err != nil {
				logger.WithError(err).Warn("vector store retention sweep failed")
				continue
			}
			if deleted > 0 {
				logger.WithField("deleted", deleted).Info("vector store retention sweep pruned stale points")
			}
		case <-ctx.Done():
			return
		}
	}
}
