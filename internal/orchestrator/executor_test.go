package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedsync"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedule"
)

func TestExecutor_CreateSchedule_HappyPath(t *testing.T) {
	f := newFixture(t)

	op := f.submitAndExecute(t, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})

	assert.Equal(t, operation.StateCompleted, op.State)
	assert.Equal(t, operation.WALFinalized, op.WALState)
	assert.NotEmpty(t, op.OpID)
	assert.NotNil(t, op.CompletedAt)
	assert.Equal(t, []string{"create:crawl-42"}, f.syncer.calls)

	sched, err := f.schedules.FindBySellerID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, sched)
	assert.Equal(t, schedule.StatusActive, sched.Status)
	assert.NotNil(t, sched.NextRunAt)
	assert.NotNil(t, sched.LastSyncedAt)
}

func TestExecutor_InvalidCadence_FailsWithoutExternalCall(t *testing.T) {
	f := newFixture(t)

	op := f.submitAndExecute(t, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "every 5 minutes",
	})

	assert.Equal(t, operation.StateFailed, op.State)
	assert.Equal(t, operation.WALFinalized, op.WALState)
	assert.Zero(t, f.syncer.callCount(), "a permanent business failure must not reach the scheduler")
}

func TestExecutor_CreateSchedule_ReusesCommittedRow(t *testing.T) {
	f := newFixture(t)

	// A prior attempt persisted the schedule but the operation never
	// finalized. The replay must land on that row, not mint a second one.
	seeded := f.seedSchedule(t, 42, "rate(1 hour)")

	op := f.submitAndExecute(t, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(2 hours)",
	})

	assert.Equal(t, operation.StateCompleted, op.State)

	sched, err := f.schedules.FindBySellerID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, sched)
	assert.Equal(t, seeded.ID, sched.ID, "replays must not reassign the schedule row")
	assert.Equal(t, "rate(2 hours)", sched.Cadence)
}

func TestExecutor_UpdateUnknownSchedule_Fails(t *testing.T) {
	f := newFixture(t)

	op := f.submitAndExecute(t, "key-1", operation.UpdateScheduleCommand{
		SellerID: 99,
		Cadence:  "rate(2 hours)",
		Enabled:  true,
	})

	assert.Equal(t, operation.StateFailed, op.State)
	assert.Zero(t, f.syncer.callCount())
}

func TestExecutor_UpdateSchedule_DisabledState(t *testing.T) {
	f := newFixture(t)
	f.seedSchedule(t, 42, "rate(1 hour)")

	op := f.submitAndExecute(t, "key-1", operation.UpdateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(3 hours)",
		Enabled:  false,
	})

	assert.Equal(t, operation.StateCompleted, op.State)
	assert.Equal(t, []string{"update:crawl-42"}, f.syncer.calls)

	sched, err := f.schedules.FindBySellerID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusDisabled, sched.Status)
	assert.Nil(t, sched.NextRunAt, "disabled schedules must leave the dispatch queue")
}

func TestExecutor_DisableSchedule(t *testing.T) {
	f := newFixture(t)
	f.seedSchedule(t, 42, "rate(1 hour)")

	op := f.submitAndExecute(t, "key-1", operation.DisableScheduleCommand{SellerID: 42})

	assert.Equal(t, operation.StateCompleted, op.State)
	assert.Equal(t, []string{"disable:crawl-42"}, f.syncer.calls)

	sched, err := f.schedules.FindBySellerID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusDisabled, sched.Status)
}

func TestExecutor_TransientFailure_LeavesRetryOutcomeForFinalizer(t *testing.T) {
	f := newFixture(t)
	f.syncer.failWith(errSyncDown)

	op := f.submitAndExecute(t, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})

	// Not terminal: the row carries a Retry outcome for the recovery sweep.
	assert.Equal(t, operation.StateInProgress, op.State)
	assert.Equal(t, operation.WALPending, op.WALState)

	outcome, err := operation.UnmarshalOutcome(op.WALOutcome)
	require.NoError(t, err)
	assert.Equal(t, operation.OutcomeRetry, outcome.Result)
}

func TestExecutor_RejectedCall_FailsTerminally(t *testing.T) {
	f := newFixture(t)
	f.syncer.failWith(fmt.Errorf("%w: rule quota exceeded", schedsync.ErrRejected))

	op := f.submitAndExecute(t, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})

	assert.Equal(t, operation.StateFailed, op.State)
	assert.Equal(t, operation.WALFinalized, op.WALState)
	assert.Equal(t, 1, f.syncer.callCount())

	sched, err := f.schedules.FindBySellerID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, sched, "a rejected create must not leave a local schedule")
}

func TestExecutor_Execute_TerminalOperationIsNoOp(t *testing.T) {
	f := newFixture(t)

	op := f.submitAndExecute(t, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})
	require.Equal(t, operation.StateCompleted, op.State)

	require.NoError(t, f.executor.Execute(context.Background(), op))
	assert.Equal(t, 1, f.syncer.callCount())
}

func TestExecutor_Execute_LostClaimRaceIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	op, err := f.guard.Submit(ctx, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})
	require.NoError(t, err)

	// Another instance claims the row first.
	require.NoError(t, f.store.UpdateOpID(ctx, op.ID, "stolen-op-id"))

	require.NoError(t, f.executor.Execute(ctx, op))
	assert.Zero(t, f.syncer.callCount())
}

func TestExecutor_Resume_RepeatsCallUnderSameCorrelationID(t *testing.T) {
	f := newFixture(t)
	f.syncer.failWith(errSyncDown)
	ctx := context.Background()

	op := f.submitAndExecute(t, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})
	require.Equal(t, operation.StateInProgress, op.State)

	require.NoError(t, f.executor.Resume(ctx, op.OpID))

	recovered := f.store.mustGet(t, "key-1")
	assert.Equal(t, operation.StateCompleted, recovered.State)
	assert.Equal(t, op.OpID, recovered.OpID, "the retry must reuse the correlation id")
	assert.Equal(t, 2, f.syncer.callCount())
}
