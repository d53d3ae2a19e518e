package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
)

func TestGuard_Submit_CreatesPendingOperation(t *testing.T) {
	f := newFixture(t)

	op, err := f.guard.Submit(context.Background(), "key-1", operation.CreateScheduleCommand{
		SellerID: 42,
		Cadence:  "rate(1 hour)",
	})
	require.NoError(t, err)

	assert.Equal(t, operation.StatePending, op.State)
	assert.Equal(t, operation.WALNone, op.WALState)
	assert.Empty(t, op.OpID)
	assert.Equal(t, 3, op.MaxRetries)
	assert.NotZero(t, op.ID)
}

func TestGuard_Submit_SameKeyReturnsExistingOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := operation.CreateScheduleCommand{SellerID: 42, Cadence: "rate(1 hour)"}

	first, err := f.guard.Submit(ctx, "key-1", cmd)
	require.NoError(t, err)

	second, err := f.guard.Submit(ctx, "key-1", cmd)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestGuard_Submit_SameKeyAfterCompletionDoesNotReExecute(t *testing.T) {
	f := newFixture(t)
	cmd := operation.CreateScheduleCommand{SellerID: 42, Cadence: "rate(1 hour)"}

	done := f.submitAndExecute(t, "key-1", cmd)
	require.Equal(t, operation.StateCompleted, done.State)
	require.Equal(t, 1, f.syncer.callCount())

	again, err := f.guard.Submit(context.Background(), "key-1", cmd)
	require.NoError(t, err)

	assert.Equal(t, done.ID, again.ID)
	assert.Equal(t, operation.StateCompleted, again.State)
	assert.Equal(t, 1, f.syncer.callCount(), "resubmission must not repeat the external call")
}

func TestGuard_Submit_ResolvesLostCreateRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := operation.CreateScheduleCommand{SellerID: 42, Cadence: "rate(1 hour)"}

	// Simulate the race: the winner's row lands between this submitter's
	// lookup and its insert.
	winner := operation.New("key-1", mustEncode(t, cmd), 3)
	require.NoError(t, f.store.Save(ctx, winner))

	loser, err := f.guard.Submit(ctx, "key-1", cmd)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, loser.ID)
}

func TestGuard_Submit_RejectsEmptyKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.guard.Submit(context.Background(), "", operation.DisableScheduleCommand{SellerID: 1})
	require.Error(t, err)
}

func mustEncode(t *testing.T, cmd operation.Command) []byte {
	t.Helper()
	raw, err := operation.EncodeEnvelope(cmd)
	require.NoError(t, err)
	return raw
}
