package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/internal/monitoring"
)

// Guard is the sole deduplication boundary: it resolves a caller-supplied
// idempotency key to an existing operation before creating a new one. The rest
// of the system trusts that a correlation id identifies one logical attempt.
type Guard struct {
	store      operation.Store
	maxRetries int
	logger     *zap.Logger
}

func NewGuard(store operation.Store, cfg Config, logger *zap.Logger) *Guard {
	return &Guard{
		store:      store,
		maxRetries: cfg.MaxRetries,
		logger:     logger.Named("orchestrator.guard"),
	}
}

// Submit returns the operation for idemKey, creating a PENDING row if none
// exists. An existing operation is returned unchanged regardless of state: no
// new row, no re-execution. Concurrent submissions with the same key race on
// the store's unique constraint; the loser resolves to the winner's row.
func (g *Guard) Submit(ctx context.Context, idemKey string, cmd operation.Command) (*operation.Operation, error) {
	if idemKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	existing, err := g.store.FindByIdemKey(ctx, idemKey)
	if err != nil {
		return nil, fmt.Errorf("resolve idempotency key: %w", err)
	}
	if existing != nil {
		monitoring.OperationsDeduplicated.Inc()
		return existing, nil
	}

	envelope, err := operation.EncodeEnvelope(cmd)
	if err != nil {
		return nil, err
	}

	op := operation.New(idemKey, envelope, g.maxRetries)
	if err := g.store.Save(ctx, op); err != nil {
		if errors.Is(err, operation.ErrDuplicateIdemKey) {
			// Lost the create race; the other submitter's row is ours too.
			monitoring.OperationsDeduplicated.Inc()
			winner, ferr := g.store.FindByIdemKey(ctx, idemKey)
			if ferr != nil {
				return nil, fmt.Errorf("resolve idempotency key after conflict: %w", ferr)
			}
			if winner == nil {
				return nil, fmt.Errorf("idempotency key conflict but no row found: %s", idemKey)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("save operation: %w", err)
	}

	monitoring.OperationsSubmitted.WithLabelValues(string(cmd.Kind())).Inc()
	g.logger.Info("operation_submitted",
		zap.String("idem_key", idemKey),
		zap.String("kind", string(cmd.Kind())),
		zap.Int64("id", op.ID),
	)
	return op, nil
}
