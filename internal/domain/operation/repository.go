package operation

import (
	"context"
	"time"
)

// Store is the port the Executor, Finalizer and Reaper consume. Every mutation
// is a conditional update keyed on the row's current state: a lost race is a
// harmless no-op (ErrStaleTransition), never a corruption. The implementation
// must make this hold across process instances, not just goroutines.
type Store interface {
	// Save persists a new PENDING operation. The idempotency key carries a
	// unique constraint; a conflict surfaces as ErrDuplicateIdemKey.
	Save(ctx context.Context, op *Operation) error

	FindByOpID(ctx context.Context, opID string) (*Operation, error)
	FindByIdemKey(ctx context.Context, idemKey string) (*Operation, error)

	// UpdateOpID assigns the correlation id and moves PENDING -> IN_PROGRESS.
	UpdateOpID(ctx context.Context, id int64, opID string) error

	// MarkInProgress is the write-ahead step: records the decided outcome and
	// sets wal_state = PENDING. Permitted while wal_state is NONE or PENDING;
	// a FINALIZED row is never rewritten.
	MarkInProgress(ctx context.Context, opID string, outcome []byte) error

	// MarkCompleted finalizes: sets the terminal operation state and
	// wal_state = FINALIZED, conditional on wal_state = PENDING.
	MarkCompleted(ctx context.Context, opID string, final OpState) error

	GetInProgressOutcome(ctx context.Context, opID string) ([]byte, error)
	GetOperationEnvelope(ctx context.Context, opID string) ([]byte, error)
	GetOperationState(ctx context.Context, opID string) (OpState, error)

	// FindPendingOperations returns op ids with wal_state = PENDING,
	// oldest-first, for the finalizer.
	FindPendingOperations(ctx context.Context, limit int) ([]string, error)

	// FindTimeoutOperations returns op ids stuck before write-ahead
	// (IN_PROGRESS, wal_state = NONE, created before now-timeout),
	// oldest-first, for the reaper.
	FindTimeoutOperations(ctx context.Context, timeout time.Duration, limit int) ([]string, error)

	// FindStalePending returns PENDING rows that never reached correlation-id
	// assignment before the timeout. Same backstop as FindTimeoutOperations,
	// one crash window earlier.
	FindStalePending(ctx context.Context, timeout time.Duration, limit int) ([]*Operation, error)

	// IncrementRetry bumps retry_count, conditional on IN_PROGRESS and a
	// remaining budget. Returns false when the condition did not hold.
	IncrementRetry(ctx context.Context, opID string) (bool, error)

	// MarkFailed forces a non-terminal row to FAILED with a reason. Used by
	// the reaper when the retry budget is exhausted.
	MarkFailed(ctx context.Context, opID string, reason string) error

	// DeleteCompletedBefore removes terminal rows completed before the cutoff.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
