package points_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/points/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	family points.GroupID = "family"
	kid1   points.UserID  = "kid-1"
	kid2   points.UserID  = "kid-2"
	kid3   points.UserID  = "kid-3"
	parent                = "parent-1"
)

// testClock is a settable clock shared by every component of a service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier keeps every decision event.
type recordingNotifier struct {
	mu     sync.Mutex
	events []points.DecisionEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev points.DecisionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []points.DecisionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]points.DecisionEvent(nil), n.events...)
}

type testEnv struct {
	svc      *points.Service
	store    *store.Memory
	clock    *testClock
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

// newTestEnvWith builds a service over a fresh memory store, optionally
// wrapped.
func newTestEnvWith(t *testing.T, wrap func(*store.Memory) points.Backend) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	var backend points.Backend = mem
	if wrap != nil {
		backend = wrap(mem)
	}
	env := &testEnv{
		store:    mem,
		clock:    newTestClock(),
		notifier: &recordingNotifier{},
	}
	env.svc = points.NewService(backend, points.Options{
		Clock:        env.clock.Now,
		Notifier:     env.notifier,
		PersistRanks: true,
	})
	return env
}

func (env *testEnv) complete(t *testing.T, userID points.UserID, taskID string, pts int64) points.Entry {
	t.Helper()
	e, err := env.svc.AwardForTaskCompletion(context.Background(), points.TaskCompletion{
		UserID:    userID,
		GroupID:   family,
		TaskID:    taskID,
		TaskTitle: taskID,
		Points:    pts,
	})
	require.NoError(t, err)
	return e
}

func (env *testEnv) approve(t *testing.T, id points.EntryID) points.Entry {
	t.Helper()
	e, err := env.svc.Approve(context.Background(), id, parent)
	require.NoError(t, err)
	return e
}

func (env *testEnv) balance(t *testing.T, userID points.UserID) points.Balance {
	t.Helper()
	b, err := env.svc.GetBalance(context.Background(), userID, family)
	require.NoError(t, err)
	return b
}

func (env *testEnv) appendEntry(t *testing.T, userID points.UserID, typ points.EntryType, amount int64) points.EntryID {
	t.Helper()
	id, err := env.svc.Ledger.Append(context.Background(), points.Entry{
		UserID:    userID,
		GroupID:   family,
		Type:      typ,
		Amount:    amount,
		Reason:    string(typ),
		CreatedBy: parent,
	})
	require.NoError(t, err)
	return id
}

func intPtr(v int) *int { return &v }

// =============================================================================
// FAULTY BACKENDS
// =============================================================================

// conflictingBackend makes UpdateEntry inside a transaction fail with
// ErrConflict for the first failures calls.
type conflictingBackend struct {
	*store.Memory
	mu       sync.Mutex
	failures int
	calls    int
}

func (b *conflictingBackend) WithTx(ctx context.Context, fn func(points.Store) error) error {
	return b.Memory.WithTx(ctx, func(s points.Store) error {
		return fn(&conflictingStore{Store: s, parent: b})
	})
}

type conflictingStore struct {
	points.Store
	parent *conflictingBackend
}

func (s *conflictingStore) UpdateEntry(ctx context.Context, e points.Entry, expectedVersion int64) error {
	s.parent.mu.Lock()
	s.parent.calls++
	fail := s.parent.calls <= s.parent.failures
	s.parent.mu.Unlock()
	if fail {
		return points.ErrConflict
	}
	return s.Store.UpdateEntry(ctx, e, expectedVersion)
}

// brokenRules fails every rule lookup.
type brokenRules struct {
	*store.Memory
}

var errRulesDown = errors.New("rules unavailable")

func (brokenRules) ListRules(context.Context, points.GroupID, bool) ([]points.Rule, error) {
	return nil, errRulesDown
}
