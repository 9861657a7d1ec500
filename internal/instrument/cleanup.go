package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rocket-cms/internal/logger"
	"rocket-cms/internal/store"
)

// CleanupOldEvents deletes events older than retentionDays from the _events table.
func CleanupOldEvents(ctx context.Context, db *sql.DB, dialect store.Dialect, retentionDays int) (int64, error) {
	pb := dialect.NewParamBuilder()
	whereExpr := dialect.IntervalDeleteExpr("created_at", pb, fmt.Sprintf("%d", retentionDays))
	sqlStr := fmt.Sprintf("DELETE FROM _events WHERE %s", whereExpr)
	n, err := store.Exec(ctx, db, sqlStr, pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("event cleanup: %w", err)
	}
	return n, nil
}

// StartCleanup runs CleanupOldEvents every interval until ctx is done.
func StartCleanup(ctx context.Context, db *sql.DB, dialect store.Dialect, retentionDays int, interval time.Duration) {
	log := logger.WithModule("instrument")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := CleanupOldEvents(ctx, db, dialect, retentionDays)
				if err != nil {
					log.Error("event cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("deleted old events", zap.Int64("count", n), zap.Int("retention_days", retentionDays))
				}
			}
		}
	}()
}
