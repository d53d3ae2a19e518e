package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedsync"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedule"
	"github.com/sellerwatch/crawl-cloud/internal/monitoring"
	"github.com/sellerwatch/crawl-cloud/pkg/snowflake"
	"github.com/sellerwatch/crawl-cloud/pkg/telemetry/correlation"
)

// Executor drives one operation: assign a correlation id, decide the outcome
// from the envelope, durably record it ahead of the external call, invoke the
// scheduler sync, then finalize the record to match the decision.
type Executor struct {
	store     operation.Store
	schedules schedule.Repository
	syncer    schedsync.Syncer
	idNode    *snowflake.Node
	logger    *zap.Logger

	callTimeout time.Duration
	queueURL    string
}

func NewExecutor(
	store operation.Store,
	schedules schedule.Repository,
	syncer schedsync.Syncer,
	idNode *snowflake.Node,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		store:       store,
		schedules:   schedules,
		syncer:      syncer,
		idNode:      idNode,
		logger:      logger.Named("orchestrator.executor"),
		callTimeout: cfg.CallTimeout,
		queueURL:    cfg.CrawlQueueURL,
	}
}

// Execute runs a freshly submitted operation. Errors returned here happened
// before write-ahead and left no partial state; the caller surfaces them.
// Everything after write-ahead is recoverable by the finalizer and is not
// surfaced.
func (e *Executor) Execute(ctx context.Context, op *operation.Operation) error {
	if op.Terminal() {
		return nil
	}

	opID := op.OpID
	if opID == "" {
		opID = correlation.NewID()
		if err := e.store.UpdateOpID(ctx, op.ID, opID); err != nil {
			if errors.Is(err, operation.ErrStaleTransition) {
				// Another instance claimed this row.
				return nil
			}
			return fmt.Errorf("assign correlation id: %w", err)
		}
	}

	cmd, err := operation.DecodeEnvelope(op.Envelope)
	if err != nil {
		return err
	}
	return e.run(ctx, opID, cmd)
}

// Resume re-runs an operation from its stored envelope under the same
// correlation id. Used by the finalizer for Retry outcomes and by the reaper
// for timed-out rows; the external call is idempotent on the correlation id,
// so repeating it is safe.
func (e *Executor) Resume(ctx context.Context, opID string) error {
	envelope, err := e.store.GetOperationEnvelope(ctx, opID)
	if err != nil {
		return fmt.Errorf("load envelope for %s: %w", opID, err)
	}
	cmd, err := operation.DecodeEnvelope(envelope)
	if err != nil {
		return err
	}
	return e.run(ctx, opID, cmd)
}

func (e *Executor) run(ctx context.Context, opID string, cmd operation.Command) error {
	outcome, plan, err := e.decide(ctx, cmd)
	if err != nil {
		// Pre-write-ahead failure: nothing persisted, fail fast.
		return err
	}

	raw, err := outcome.Marshal()
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	if err := e.store.MarkInProgress(ctx, opID, raw); err != nil {
		if errors.Is(err, operation.ErrStaleTransition) {
			return nil
		}
		return fmt.Errorf("write-ahead for %s: %w", opID, err)
	}

	e.perform(ctx, opID, outcome, plan)
	return nil
}

// syncPlan is the concrete work decided from a command: the external call to
// make and the local schedule row to project on success.
type syncPlan struct {
	kind    operation.CommandKind
	sched   *schedule.SellerSchedule
	state   schedsync.RuleState
	disable bool
}

// decide computes the intended outcome deterministically from the envelope,
// before touching the external system. A permanent business problem becomes a
// Fail outcome; only infrastructure errors are returned.
func (e *Executor) decide(ctx context.Context, cmd operation.Command) (operation.Outcome, *syncPlan, error) {
	switch c := cmd.(type) {
	case *operation.CreateScheduleCommand:
		if _, err := schedule.ParseCadence(c.Cadence); err != nil {
			return operation.Fail(err.Error()), nil, nil
		}
		existing, err := e.schedules.FindBySellerID(ctx, c.SellerID)
		if err != nil {
			return operation.Outcome{}, nil, fmt.Errorf("load schedule for seller %d: %w", c.SellerID, err)
		}
		sched := existing
		if sched == nil {
			sched = schedule.New(e.idNode.GenerateID(), c.SellerID, c.Cadence)
		} else {
			sched.Cadence = c.Cadence
			sched.Status = schedule.StatusActive
		}
		return operation.Ok(sched.RuleName), &syncPlan{kind: c.Kind(), sched: sched, state: schedsync.RuleEnabled}, nil

	case *operation.UpdateScheduleCommand:
		if _, err := schedule.ParseCadence(c.Cadence); err != nil {
			return operation.Fail(err.Error()), nil, nil
		}
		existing, err := e.schedules.FindBySellerID(ctx, c.SellerID)
		if err != nil {
			return operation.Outcome{}, nil, fmt.Errorf("load schedule for seller %d: %w", c.SellerID, err)
		}
		if existing == nil {
			return operation.Fail(schedule.ErrNotFound.Error()), nil, nil
		}
		existing.Cadence = c.Cadence
		state := schedsync.RuleEnabled
		existing.Status = schedule.StatusActive
		if !c.Enabled {
			state = schedsync.RuleDisabled
			existing.Status = schedule.StatusDisabled
		}
		return operation.Ok(existing.RuleName), &syncPlan{kind: c.Kind(), sched: existing, state: state}, nil

	case *operation.DisableScheduleCommand:
		existing, err := e.schedules.FindBySellerID(ctx, c.SellerID)
		if err != nil {
			return operation.Outcome{}, nil, fmt.Errorf("load schedule for seller %d: %w", c.SellerID, err)
		}
		if existing == nil {
			return operation.Fail(schedule.ErrNotFound.Error()), nil, nil
		}
		return operation.Ok(existing.RuleName), &syncPlan{kind: c.Kind(), sched: existing, disable: true}, nil

	default:
		return operation.Outcome{}, nil, fmt.Errorf("unsupported command kind %T", cmd)
	}
}

// perform runs the external side effect for a write-ahead row and finalizes.
// From here on, failures are recorded in the row for the recovery sweeps, not
// returned.
func (e *Executor) perform(ctx context.Context, opID string, outcome operation.Outcome, plan *syncPlan) {
	if outcome.Result == operation.OutcomeFail {
		e.finalize(ctx, opID, operation.StateFailed, "executor")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	err := e.callSync(callCtx, opID, plan)
	monitoring.SyncCallDuration.WithLabelValues(string(plan.kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		if schedsync.Transient(err) {
			monitoring.SyncCallsTotal.WithLabelValues(string(plan.kind), "transient_error").Inc()
			e.recordRetry(ctx, opID, err)
			return
		}
		monitoring.SyncCallsTotal.WithLabelValues(string(plan.kind), "rejected").Inc()
		e.logger.Warn("sync_call_rejected", zap.String("op_id", opID), zap.Error(err))
		raw, merr := operation.Fail(err.Error()).Marshal()
		if merr == nil {
			if werr := e.store.MarkInProgress(ctx, opID, raw); werr != nil && !errors.Is(werr, operation.ErrStaleTransition) {
				e.logger.Error("record_rejection_failed", zap.String("op_id", opID), zap.Error(werr))
				return
			}
		}
		e.finalize(ctx, opID, operation.StateFailed, "executor")
		return
	}

	monitoring.SyncCallsTotal.WithLabelValues(string(plan.kind), "ok").Inc()

	// Project the synced state locally before finalizing. The external rule is
	// authoritative; if this write fails the row stays WAL-pending and the
	// whole step is replayed.
	if err := e.applyLocal(ctx, plan); err != nil {
		e.recordRetry(ctx, opID, fmt.Errorf("apply local schedule: %w", err))
		return
	}

	e.finalize(ctx, opID, operation.StateCompleted, "executor")
}

func (e *Executor) callSync(ctx context.Context, opID string, plan *syncPlan) error {
	target := schedsync.RuleTarget{QueueURL: e.queueURL, SellerID: plan.sched.SellerID}

	switch {
	case plan.disable:
		return e.syncer.DisableRule(ctx, opID, plan.sched.RuleName)
	case plan.kind == operation.KindCreateSchedule:
		return e.syncer.CreateRule(ctx, opID, plan.sched.RuleName, plan.sched.Cadence, target)
	default:
		return e.syncer.UpdateRule(ctx, opID, plan.sched.RuleName, plan.sched.Cadence, target, plan.state)
	}
}

func (e *Executor) applyLocal(ctx context.Context, plan *syncPlan) error {
	now := time.Now().UTC()
	if plan.disable || plan.state == schedsync.RuleDisabled {
		plan.sched.Disable(now)
	} else {
		plan.sched.MarkSynced(now)
	}
	return e.schedules.Save(ctx, plan.sched)
}

// recordRetry overwrites the write-ahead outcome with Retry and leaves the
// row WAL-pending so the finalizer picks it up. Nothing is surfaced past the
// background loop.
func (e *Executor) recordRetry(ctx context.Context, opID string, cause error) {
	e.logger.Warn("sync_call_transient_failure", zap.String("op_id", opID), zap.Error(cause))
	raw, err := operation.Retry(cause.Error()).Marshal()
	if err != nil {
		e.logger.Error("encode_retry_outcome_failed", zap.String("op_id", opID), zap.Error(err))
		return
	}
	if err := e.store.MarkInProgress(ctx, opID, raw); err != nil && !errors.Is(err, operation.ErrStaleTransition) {
		e.logger.Error("record_retry_failed", zap.String("op_id", opID), zap.Error(err))
	}
}

func (e *Executor) finalize(ctx context.Context, opID string, final operation.OpState, source string) {
	if err := e.store.MarkCompleted(ctx, opID, final); err != nil {
		if errors.Is(err, operation.ErrStaleTransition) {
			// Lost the finalize race to a recovery sweep.
			return
		}
		e.logger.Error("finalize_failed", zap.String("op_id", opID), zap.Error(err))
		return
	}
	monitoring.OperationsFinalized.WithLabelValues(string(final), source).Inc()
	e.logger.Info("operation_finalized",
		zap.String("op_id", opID),
		zap.String("state", string(final)),
	)
}
