package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/internal/monitoring"
)

const reasonRetryBudgetExhausted = "retry budget exhausted"

// Reaper is the wide-window recovery sweep: it catches operations whose
// executor died before ever reaching write-ahead, invisible to the finalizer.
// The trigger is a coarse timeout on created_at, the backstop that guarantees
// no operation stays stuck forever.
type Reaper struct {
	store     operation.Store
	executor  *Executor
	logger    *zap.Logger
	interval  time.Duration
	timeout   time.Duration
	batchSize int
}

func NewReaper(store operation.Store, executor *Executor, cfg Config, logger *zap.Logger) *Reaper {
	return &Reaper{
		store:     store,
		executor:  executor,
		logger:    logger.Named("orchestrator.reaper"),
		interval:  cfg.ReaperInterval,
		timeout:   cfg.ReaperTimeout,
		batchSize: cfg.ReaperBatchSize,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	if _, err := r.Sweep(ctx, r.timeout, r.batchSize); err != nil {
		r.logger.Error("reaper_initial_sweep_failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, r.timeout, r.batchSize); err != nil {
				r.logger.Error("reaper_sweep_failed", zap.Error(err))
			}
		}
	}
}

// Sweep retries or permanently fails up to limit timed-out operations. It
// also re-launches stale PENDING rows whose executor never claimed them.
func (r *Reaper) Sweep(ctx context.Context, timeout time.Duration, limit int) (int, error) {
	opIDs, err := r.store.FindTimeoutOperations(ctx, timeout, limit)
	if err != nil {
		return 0, fmt.Errorf("scan timed-out operations: %w", err)
	}

	count := 0
	for _, opID := range opIDs {
		if err := r.reapOne(ctx, opID); err != nil {
			r.logger.Error("reap_operation_failed", zap.String("op_id", opID), zap.Error(err))
			continue
		}
		count++
		monitoring.ReaperSwept.Inc()
	}

	stale, err := r.store.FindStalePending(ctx, timeout, limit)
	if err != nil {
		return count, fmt.Errorf("scan stale pending operations: %w", err)
	}
	for _, op := range stale {
		if err := r.executor.Execute(ctx, op); err != nil {
			r.logger.Error("relaunch_pending_failed",
				zap.String("idem_key", op.IdemKey),
				zap.Int64("id", op.ID),
				zap.Error(err),
			)
			continue
		}
		count++
		monitoring.ReaperSwept.Inc()
	}

	return count, nil
}

func (r *Reaper) reapOne(ctx context.Context, opID string) error {
	claimed, err := r.store.IncrementRetry(ctx, opID)
	if err != nil {
		return err
	}

	if !claimed {
		op, err := r.store.FindByOpID(ctx, opID)
		if err != nil {
			return err
		}
		if op == nil || op.Terminal() {
			// Lost the race to another sweep; harmless.
			return nil
		}
		if op.RetriesExhausted() {
			if err := r.store.MarkFailed(ctx, opID, reasonRetryBudgetExhausted); err != nil {
				return err
			}
			monitoring.OperationsFinalized.WithLabelValues(string(operation.StateFailed), "reaper").Inc()
			r.logger.Warn("operation_retry_budget_exhausted",
				zap.String("op_id", opID),
				zap.Int("retry_count", op.RetryCount),
			)
		}
		return nil
	}

	r.logger.Info("operation_reaped_for_retry", zap.String("op_id", opID))
	return r.executor.Resume(ctx, opID)
}
