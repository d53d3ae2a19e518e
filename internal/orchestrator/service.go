package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
)

// Service is the submission facade: it dedupes through the guard, then hands
// a fresh PENDING operation to the executor off the request goroutine. The
// handoff is detached from the request context so a disconnecting caller
// cannot abandon a durably recorded operation.
type Service struct {
	guard    *Guard
	executor *Executor
	store    operation.Store
	logger   *zap.Logger
}

func NewService(guard *Guard, executor *Executor, store operation.Store, logger *zap.Logger) *Service {
	return &Service{
		guard:    guard,
		executor: executor,
		store:    store,
		logger:   logger.Named("orchestrator"),
	}
}

// Submit returns the operation for idemKey, launching execution when this
// call created the row. An operation already IN_PROGRESS belongs to its
// current owner (an executor or a recovery sweep) and is left alone.
func (s *Service) Submit(ctx context.Context, idemKey string, cmd operation.Command) (*operation.Operation, error) {
	op, err := s.guard.Submit(ctx, idemKey, cmd)
	if err != nil {
		return nil, err
	}

	if op.State == operation.StatePending {
		execCtx := context.WithoutCancel(ctx)
		go func() {
			if err := s.executor.Execute(execCtx, op); err != nil {
				s.logger.Error("operation_execute_failed",
					zap.String("idem_key", op.IdemKey),
					zap.Int64("id", op.ID),
					zap.Error(err),
				)
			}
		}()
	}

	return op, nil
}

// StatusByOpID returns the operation identified by a correlation id.
func (s *Service) StatusByOpID(ctx context.Context, opID string) (*operation.Operation, error) {
	return s.store.FindByOpID(ctx, opID)
}

// StatusByIdemKey returns the operation identified by an idempotency key.
func (s *Service) StatusByIdemKey(ctx context.Context, idemKey string) (*operation.Operation, error) {
	return s.store.FindByIdemKey(ctx, idemKey)
}
