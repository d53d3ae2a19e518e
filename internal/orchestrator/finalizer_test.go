package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
)

// crashAfterWriteAhead plants a row as the executor would leave it if the
// process died after the write-ahead but before the external call resolved:
// IN_PROGRESS, wal PENDING, decided outcome on disk.
func crashAfterWriteAhead(t *testing.T, f *fixture, idemKey, opID string, outcome operation.Outcome) {
	t.Helper()
	ctx := context.Background()

	op, err := f.guard.Submit(ctx, idemKey, operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateOpID(ctx, op.ID, opID))

	raw, err := outcome.Marshal()
	require.NoError(t, err)
	require.NoError(t, f.store.MarkInProgress(ctx, opID, raw))
}

func TestFinalizer_OkOutcome_CompletesWithoutSecondCall(t *testing.T) {
	f := newFixture(t)
	crashAfterWriteAhead(t, f, "key-1", "op-1", operation.Ok("crawl-42"))

	n, err := f.finalizer.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	op := f.store.mustGet(t, "key-1")
	assert.Equal(t, operation.StateCompleted, op.State)
	assert.Equal(t, operation.WALFinalized, op.WALState)
	assert.Zero(t, f.syncer.callCount(), "an Ok outcome must finalize without repeating the side effect")
}

func TestFinalizer_FailOutcome_FailsWithoutSecondCall(t *testing.T) {
	f := newFixture(t)
	crashAfterWriteAhead(t, f, "key-1", "op-1", operation.Fail("invalid cadence"))

	n, err := f.finalizer.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	op := f.store.mustGet(t, "key-1")
	assert.Equal(t, operation.StateFailed, op.State)
	assert.Zero(t, f.syncer.callCount())
}

func TestFinalizer_RetryOutcome_ResumesExecution(t *testing.T) {
	f := newFixture(t)
	crashAfterWriteAhead(t, f, "key-1", "op-1", operation.Retry("scheduler unreachable"))

	n, err := f.finalizer.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	op := f.store.mustGet(t, "key-1")
	assert.Equal(t, operation.StateCompleted, op.State)
	assert.Equal(t, 1, f.syncer.callCount(), "a Retry outcome re-invokes the scheduler sync")
}

func TestFinalizer_SkipsTerminalRows(t *testing.T) {
	f := newFixture(t)

	op := f.submitAndExecute(t, "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})
	require.Equal(t, operation.StateCompleted, op.State)

	n, err := f.finalizer.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.syncer.callCount())
}

func TestFinalizer_Sweep_ContinuesPastBadRow(t *testing.T) {
	f := newFixture(t)
	crashAfterWriteAhead(t, f, "key-bad", "op-bad", operation.Ok("crawl-42"))

	// Corrupt the first row's outcome; the second must still finalize.
	f.store.mu.Lock()
	f.store.byOpID("op-bad").WALOutcome = []byte("{not json")
	f.store.mu.Unlock()

	crashAfterWriteAhead(t, f, "key-good", "op-good", operation.Ok("crawl-42"))

	n, err := f.finalizer.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	good := f.store.mustGet(t, "key-good")
	assert.Equal(t, operation.StateCompleted, good.State)
}
