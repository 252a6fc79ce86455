package mongodb_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/store/mongodb"
)

// newTestStore connects to POINTS_TEST_MONGO_URI (a replica set) and uses a
// throwaway database per test.
func newTestStore(t *testing.T) *mongodb.Store {
	uri := os.Getenv("POINTS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("POINTS_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := mongodb.New(ctx, uri, "points_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		store.Reset(ctx)
		store.Close(ctx)
	})
	return store
}

func TestStore_IdempotencyAndVersionGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := points.Entry{
		ID: "e-1", UserID: "kid-1", GroupID: "family",
		Type: points.TypeEarned, Amount: 10, Reason: "Task completed: Dishes",
		IdempotencyKey: "task:family:c-1",
		State:          points.StatePending, CreatedAt: time.Now().UTC(), Version: 1,
	}
	require.NoError(t, store.InsertEntry(ctx, e))

	dup := e
	dup.ID = "e-2"
	assert.ErrorIs(t, store.InsertEntry(ctx, dup), points.ErrDuplicateIdempotencyKey)

	e.State = points.StateRejected
	e.Version = 2
	require.NoError(t, store.UpdateEntry(ctx, e, 1))
	assert.ErrorIs(t, store.UpdateEntry(ctx, e, 1), points.ErrConflict)
}

func TestStore_ServiceApprovalFlow(t *testing.T) {
	// GIVEN: The points service on MongoDB
	// WHEN: A completion is approved and a manual deduction follows
	// THEN: The cached balance matches the replayed history

	store := newTestStore(t)
	svc := points.NewService(store, points.Options{})
	ctx := context.Background()

	e, err := svc.AwardForTaskCompletion(ctx, points.TaskCompletion{
		UserID: "kid-1", GroupID: "family", TaskID: "dishes", Points: 10,
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, e.ID, "parent")
	require.NoError(t, err)
	_, err = svc.ManuallyAdjust(ctx, points.ManualAdjustment{
		UserID: "kid-1", GroupID: "family", Amount: -3, Reason: "Broke a plate", AdminID: "parent",
	})
	require.NoError(t, err)

	b, err := svc.GetBalance(ctx, "kid-1", "family")
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.TotalPoints)

	report, err := svc.Reconcile(ctx, "kid-1", "family")
	require.NoError(t, err)
	assert.False(t, report.Drifted())
}
