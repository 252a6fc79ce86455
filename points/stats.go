package points

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AGGREGATOR - Full-history recomputation and snapshots
// =============================================================================

// Aggregator rebuilds balances from approved history. The cached balance that
// Approvals maintains incrementally is the read path; Recompute and Reconcile
// exist for audits and repairs.
type Aggregator struct {
	store  TxStore
	tasks  TaskStatsSource
	clock  func() time.Time
	logger *zap.Logger
}

// NewAggregator creates an aggregator. tasks may be nil, in which case task
// stats are always zero.
func NewAggregator(store TxStore, tasks TaskStatsSource) *Aggregator {
	return &Aggregator{
		store:  store,
		tasks:  tasks,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
}

// Recompute folds every approved entry for the user in the group. Read-only.
func (a *Aggregator) Recompute(ctx context.Context, userID UserID, groupID GroupID) (Balance, error) {
	return a.recomputeIn(ctx, a.store, userID, groupID)
}

func (a *Aggregator) recomputeIn(ctx context.Context, s Store, userID UserID, groupID GroupID) (Balance, error) {
	entries, err := s.ListEntries(ctx, EntryFilter{
		UserID:  userID,
		GroupID: groupID,
		State:   statePtr(StateApproved),
	})
	if err != nil {
		return Balance{}, err
	}
	return Replay(userID, groupID, entries, a.clock()), nil
}

// ReconcileReport describes what Reconcile found and wrote.
type ReconcileReport struct {
	Previous   *Balance // nil when no cached balance existed
	Recomputed Balance
	Drift      int64 // Recomputed.TotalPoints - Previous.TotalPoints
}

// Drifted reports whether the cache disagreed with history.
func (r ReconcileReport) Drifted() bool {
	if r.Previous == nil {
		return r.Recomputed.TotalPoints != 0
	}
	return !r.Previous.SameTotals(r.Recomputed)
}

// Reconcile recomputes the balance and overwrites the cache in one
// transaction. Ranking columns are carried over from the previous cache.
func (a *Aggregator) Reconcile(ctx context.Context, userID UserID, groupID GroupID) (ReconcileReport, error) {
	var report ReconcileReport
	err := a.store.WithTx(ctx, func(s Store) error {
		report = ReconcileReport{}

		prev, err := s.GetBalance(ctx, userID, groupID)
		switch {
		case err == nil:
			report.Previous = &prev
		case !IsNotFound(err):
			return err
		}

		b, err := a.recomputeIn(ctx, s, userID, groupID)
		if err != nil {
			return err
		}
		if report.Previous != nil {
			b.Rank = prev.Rank
			b.TotalMembers = prev.TotalMembers
			report.Drift = b.TotalPoints - prev.TotalPoints
		} else {
			report.Drift = b.TotalPoints
		}
		report.Recomputed = b
		return s.PutBalance(ctx, b)
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	if report.Drifted() {
		a.logger.Warn("balance drift repaired",
			zap.String("user_id", string(userID)),
			zap.String("group_id", string(groupID)),
			zap.Int64("drift", report.Drift),
		)
	}
	return report, nil
}

// Snapshot returns the cached balance (zero if none) plus task stats.
func (a *Aggregator) Snapshot(ctx context.Context, userID UserID, groupID GroupID) (Stats, error) {
	b, err := a.store.GetBalance(ctx, userID, groupID)
	if IsNotFound(err) {
		b = NewBalance(userID, groupID)
	} else if err != nil {
		return Stats{}, err
	}

	stats := Stats{Balance: b}
	if a.tasks == nil {
		return stats, nil
	}
	ts, err := a.tasks.TaskStats(ctx, userID, groupID)
	if err != nil && !IsNotFound(err) {
		return Stats{}, err
	}
	stats.TaskStats = ts
	return stats, nil
}
