package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/internal/monitoring"
)

// Retention removes old terminal rows. Terminal rows are immutable, so this
// is the only component allowed to make them disappear.
type Retention struct {
	store     operation.Store
	logger    *zap.Logger
	interval  time.Duration
	maxAge    time.Duration
	batchSize int
}

func NewRetention(store operation.Store, cfg Config, logger *zap.Logger) *Retention {
	return &Retention{
		store:     store,
		logger:    logger.Named("orchestrator.retention"),
		interval:  cfg.RetentionInterval,
		maxAge:    cfg.RetentionMaxAge,
		batchSize: cfg.RetentionBatchSize,
	}
}

func (r *Retention) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("retention_sweep_failed", zap.Error(err))
			}
		}
	}
}

func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-r.maxAge)
	deleted, err := r.store.DeleteCompletedBefore(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		monitoring.RetentionDeleted.Add(float64(deleted))
		r.logger.Info("retention_swept", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
