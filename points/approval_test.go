package points_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/points/store"
)

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestApprove_TwiceAppliesOnce(t *testing.T) {
	// GIVEN: An approved entry
	// WHEN: Approving it again
	// THEN: InvalidStateError, and the balance is the same as after one approval

	env := newTestEnv(t)
	e := env.complete(t, kid1, "dishes", 10)
	env.approve(t, e.ID)
	before := env.balance(t, kid1)

	_, err := env.svc.Approve(context.Background(), e.ID, parent)

	var stateErr *points.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, points.StateApproved, stateErr.Current)
	assert.Equal(t, "approve", stateErr.Action)
	assert.False(t, points.IsRetryable(err))
	assert.Equal(t, before, env.balance(t, kid1))
}

func TestApprovedAndRejectedAreTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.complete(t, kid1, "dishes", 10)
	env.approve(t, approved.ID)
	rejected := env.complete(t, kid1, "laundry", 20)
	_, err := env.svc.Reject(ctx, rejected.ID, parent)
	require.NoError(t, err)
	before := env.balance(t, kid1)

	_, err = env.svc.Reject(ctx, approved.ID, parent)
	assert.ErrorIs(t, err, points.ErrInvalidState, "reject after approve")

	_, err = env.svc.Approve(ctx, rejected.ID, parent)
	assert.ErrorIs(t, err, points.ErrInvalidState, "approve after reject")

	_, err = env.svc.Reject(ctx, rejected.ID, parent)
	assert.ErrorIs(t, err, points.ErrInvalidState, "reject after reject")

	assert.Equal(t, before, env.balance(t, kid1))

	got, err := env.svc.Ledger.Get(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, points.StateRejected, got.State)
}

func TestReject_LeavesBalanceUnchanged(t *testing.T) {
	// Scenario 4: rejecting a pending 20 leaves the balance alone for good.
	env := newTestEnv(t)
	ctx := context.Background()

	kept := env.complete(t, kid1, "dishes", 10)
	env.approve(t, kept.ID)
	e := env.complete(t, kid1, "garage", 20)

	rejected, err := env.svc.Reject(ctx, e.ID, parent)
	require.NoError(t, err)

	assert.Equal(t, points.StateRejected, rejected.State)
	assert.Equal(t, parent, rejected.ApprovedBy)
	require.NotNil(t, rejected.ApprovedAt)
	assert.Equal(t, int64(10), env.balance(t, kid1).TotalPoints)
}

func TestReject_FirstDecisionCreatesNoBalance(t *testing.T) {
	env := newTestEnv(t)
	e := env.complete(t, kid1, "dishes", 10)

	_, err := env.svc.Reject(context.Background(), e.ID, parent)
	require.NoError(t, err)

	_, err = env.svc.GetBalance(context.Background(), kid1, family)
	assert.True(t, points.IsNotFound(err))
}

func TestApprove_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Approve(ctx, "missing", parent)
	assert.True(t, points.IsNotFound(err))

	e := env.complete(t, kid1, "dishes", 10)
	_, err = env.svc.Approve(ctx, e.ID, "")
	assert.ErrorIs(t, err, points.ErrValidation)
}

// =============================================================================
// AMOUNT EDITS
// =============================================================================

func TestUpdateAmount_OnlyWhilePending(t *testing.T) {
	// GIVEN: A pending entry of 10 edited to 15, then approved
	// WHEN: Trying to edit the approved entry to 100
	// THEN: InvalidStateError and the balance still reflects 15

	env := newTestEnv(t)
	ctx := context.Background()
	e := env.complete(t, kid1, "dishes", 10)

	edited, err := env.svc.UpdateAmount(ctx, e.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(15), edited.Amount)
	assert.Equal(t, int64(2), edited.Version)

	env.approve(t, e.ID)

	_, err = env.svc.UpdateAmount(ctx, e.ID, 100)
	var stateErr *points.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "update_amount", stateErr.Action)

	assert.Equal(t, int64(15), env.balance(t, kid1).TotalPoints)
	got, err := env.svc.Ledger.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Amount)
}

func TestUpdateAmount_NegativeRejected(t *testing.T) {
	env := newTestEnv(t)
	e := env.complete(t, kid1, "dishes", 10)

	_, err := env.svc.UpdateAmount(context.Background(), e.ID, -5)

	assert.ErrorIs(t, err, points.ErrValidation)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApprove_ConcurrentDecisionsApplyOnce(t *testing.T) {
	// GIVEN: One pending entry
	// WHEN: Many admins approve and reject it at the same time
	// THEN: Exactly one decision wins and the balance moves at most once

	env := newTestEnv(t)
	e := env.complete(t, kid1, "dishes", 10)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		approvals int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				decided points.Entry
				err     error
			)
			if i%2 == 0 {
				decided, err = env.svc.Approve(context.Background(), e.ID, parent)
			} else {
				decided, err = env.svc.Reject(context.Background(), e.ID, parent)
			}
			if err != nil {
				assert.ErrorIs(t, err, points.ErrInvalidState)
				return
			}
			mu.Lock()
			successes++
			if decided.State == points.StateApproved {
				approvals++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	b, err := env.svc.GetBalance(context.Background(), kid1, family)
	if approvals == 1 {
		require.NoError(t, err)
		assert.Equal(t, int64(10), b.TotalPoints)
	} else {
		assert.True(t, points.IsNotFound(err))
	}
}

func TestApprove_RetriesConflicts(t *testing.T) {
	// GIVEN: A store whose first two guarded writes report a conflict
	// WHEN: Approving
	// THEN: The approval succeeds on the third attempt, applied once

	var backend *conflictingBackend
	env := newTestEnvWith(t, func(m *store.Memory) points.Backend {
		backend = &conflictingBackend{Memory: m}
		return backend
	})
	e := env.complete(t, kid1, "dishes", 10)
	backend.failures = 2

	decided, err := env.svc.Approve(context.Background(), e.ID, parent)

	require.NoError(t, err)
	assert.Equal(t, points.StateApproved, decided.State)
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, int64(10), env.balance(t, kid1).TotalPoints)
}

func TestApprove_ConflictBudgetExhausted(t *testing.T) {
	var backend *conflictingBackend
	env := newTestEnvWith(t, func(m *store.Memory) points.Backend {
		backend = &conflictingBackend{Memory: m}
		return backend
	})
	e := env.complete(t, kid1, "dishes", 10)
	backend.failures = 1000

	_, err := env.svc.Approve(context.Background(), e.ID, parent)

	var conflict *points.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, points.DefaultMaxRetries+1, conflict.Attempts)
	assert.True(t, points.IsRetryable(err))

	got, err := env.svc.Ledger.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, points.StatePending, got.State, "failed attempts leave the entry pending")
}

func TestApprove_ZeroRetryBudget(t *testing.T) {
	// GIVEN: A service configured with no conflict retries
	// WHEN: The first approval attempt conflicts
	// THEN: The conflict surfaces after a single attempt

	backend := &conflictingBackend{Memory: store.NewMemory(), failures: 1}
	noRetries := 0
	svc := points.NewService(backend, points.Options{MaxRetries: &noRetries})
	ctx := context.Background()
	e, err := svc.AwardForTaskCompletion(ctx, points.TaskCompletion{
		UserID: kid1, GroupID: family, TaskID: "dishes", Points: 10,
	})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, e.ID, parent)

	var conflict *points.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Attempts)
	assert.Equal(t, 1, backend.calls)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestDecisionEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.complete(t, kid1, "dishes", 10)
	env.approve(t, approved.ID)
	rejected := env.complete(t, kid1, "laundry", 5)
	_, err := env.svc.Reject(ctx, rejected.ID, parent)
	require.NoError(t, err)

	// A refused transition emits nothing.
	_, err = env.svc.Approve(ctx, rejected.ID, parent)
	require.Error(t, err)

	events := env.notifier.Events()
	require.Len(t, events, 2)

	assert.Equal(t, approved.ID, events[0].Entry.ID)
	require.NotNil(t, events[0].Balance)
	assert.Equal(t, int64(10), events[0].Balance.TotalPoints)

	assert.Equal(t, rejected.ID, events[1].Entry.ID)
	assert.Equal(t, points.StateRejected, events[1].Entry.State)
	assert.Nil(t, events[1].Balance)
}
