package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/internal/monitoring"
)

// Finalizer is the narrow-window recovery sweep: it completes operations
// whose outcome was written ahead but never finalized because the executor
// died between write-ahead and bookkeeping.
type Finalizer struct {
	store     operation.Store
	executor  *Executor
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewFinalizer(store operation.Store, executor *Executor, cfg Config, logger *zap.Logger) *Finalizer {
	return &Finalizer{
		store:     store,
		executor:  executor,
		logger:    logger.Named("orchestrator.finalizer"),
		interval:  cfg.FinalizerInterval,
		batchSize: cfg.FinalizerBatchSize,
	}
}

// Run polls on a fixed interval so write-ahead rows never wait on a restart
// to converge.
func (f *Finalizer) Run(ctx context.Context) {
	if _, err := f.Sweep(ctx, f.batchSize); err != nil {
		f.logger.Error("finalizer_initial_sweep_failed", zap.Error(err))
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.Sweep(ctx, f.batchSize); err != nil {
				f.logger.Error("finalizer_sweep_failed", zap.Error(err))
			}
		}
	}
}

// Sweep finalizes up to limit write-ahead-pending operations, oldest first.
// A failure on one row must not abort the rest of the batch.
func (f *Finalizer) Sweep(ctx context.Context, limit int) (int, error) {
	opIDs, err := f.store.FindPendingOperations(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("scan write-ahead pending: %w", err)
	}

	count := 0
	for _, opID := range opIDs {
		if err := f.finalizeOne(ctx, opID); err != nil {
			f.logger.Error("finalize_operation_failed", zap.String("op_id", opID), zap.Error(err))
			continue
		}
		count++
		monitoring.FinalizerSwept.Inc()
	}
	return count, nil
}

func (f *Finalizer) finalizeOne(ctx context.Context, opID string) error {
	state, err := f.store.GetOperationState(ctx, opID)
	if err != nil {
		return err
	}
	if operation.Terminal(state) {
		return nil
	}

	raw, err := f.store.GetInProgressOutcome(ctx, opID)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		// Raced with a concurrent finalize; nothing to do.
		return nil
	}

	outcome, err := operation.UnmarshalOutcome(raw)
	if err != nil {
		return err
	}

	if final, ok := outcome.FinalState(); ok {
		// The decision was recorded before the external call resolved; commit
		// the bookkeeping without a second call to the scheduler sync client.
		if err := f.store.MarkCompleted(ctx, opID, final); err != nil {
			if errors.Is(err, operation.ErrStaleTransition) {
				return nil
			}
			return err
		}
		monitoring.OperationsFinalized.WithLabelValues(string(final), "finalizer").Inc()
		f.logger.Info("operation_recovered",
			zap.String("op_id", opID),
			zap.String("state", string(final)),
		)
		return nil
	}

	// Retry outcome: hand the row back to the executor's resume path. The
	// retry budget belongs to the reaper; this path does not touch it.
	return f.executor.Resume(ctx, opID)
}
