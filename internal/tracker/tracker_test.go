package tracker

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	processed map[string]struct{}
	inTasks   map[int64]bool
	marked    []int64
	markErr   error
}

func (f *fakeLedger) ProcessedOrderIDs(_ context.Context) map[string]struct{} {
	out := make(map[string]struct{}, len(f.processed))
	for k := range f.processed {
		out[k] = struct{}{}
	}
	return out
}

func (f *fakeLedger) OrderExistsInTasks(_ context.Context, orderID int64) bool {
	return f.inTasks[orderID]
}

func (f *fakeLedger) MarkOrderProcessed(_ context.Context, orderID int64, _ string, _ string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, orderID)
	f.processed[strconv.FormatInt(orderID, 10)] = struct{}{}
	return nil
}

func TestIsProcessed(t *testing.T) {

	ledger := &fakeLedger{
		processed: map[string]struct{}{"1": {}},
		inTasks:   map[int64]bool{2: true},
	}
	tracker := New(context.Background(), ledger)

	ctx := context.Background()
	assert.True(t, tracker.IsProcessed(ctx, 1), "in processed ledger")
	assert.True(t, tracker.IsProcessed(ctx, 2), "in task ledger only")
	assert.False(t, tracker.IsProcessed(ctx, 3))
}

func TestMarkProcessedIdempotent(t *testing.T) {

	ledger := &fakeLedger{processed: map[string]struct{}{}}
	tracker := New(context.Background(), ledger)

	ctx := context.Background()
	require.NoError(t, tracker.MarkProcessed(ctx, 42, "Moscow-1", "key"))
	require.NoError(t, tracker.MarkProcessed(ctx, 42, "Moscow-1", "key"))

	assert.Equal(t, []int64{42}, ledger.marked, "second mark must not write again")
	assert.True(t, tracker.IsProcessed(ctx, 42))
}

func TestMarkProcessedErrorLeavesCacheClean(t *testing.T) {

	ledger := &fakeLedger{
		processed: map[string]struct{}{},
		markErr:   errors.New("quota exceeded"),
	}
	tracker := New(context.Background(), ledger)

	ctx := context.Background()
	require.Error(t, tracker.MarkProcessed(ctx, 42, "Moscow-1", "key"))
	assert.False(t, tracker.IsProcessed(ctx, 42), "failed write must stay retryable")
}

func TestRefreshPicksUpExternalWrites(t *testing.T) {

	ledger := &fakeLedger{processed: map[string]struct{}{}}
	tracker := New(context.Background(), ledger)

	ctx := context.Background()
	assert.False(t, tracker.IsProcessed(ctx, 7))

	// another instance wrote the ledger
	ledger.processed["7"] = struct{}{}
	tracker.Refresh(ctx)
	assert.True(t, tracker.IsProcessed(ctx, 7))
}
