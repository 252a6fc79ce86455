/*
store.go - Persistence interfaces for entries, balances and rules

PURPOSE:
  Defines the boundary between ledger logic and the database. Domain code
  only ever talks to these interfaces, so it runs unchanged against the
  in-memory store (tests), SQLite (default) or MongoDB.

KEY INTERFACES:
  Store:           Entries + cached balances (append, guarded update, list)
  TxStore:         Store with atomic multi-write units (approval path)
  RuleStore:       Group bonus rules
  TaskStatsSource: Streak / completion-rate snapshot from the chore subsystem

GUARDED UPDATES:
  UpdateEntry takes the version the caller read. If the stored version has
  moved on, the write fails with ErrConflict and nothing is changed. This is
  the optimistic check every approval-state write goes through.

IMPLEMENTATIONS:
  - points/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/mongodb/mongodb.go: MongoDB

SEE ALSO:
  - ledger.go: Higher-level append/list using Store
  - approval.go: Uses TxStore.WithTx
*/
package points

import "context"

// =============================================================================
// STORE - Entries and cached balances
// =============================================================================

type Store interface {
	// InsertEntry persists a new entry. Returns ErrDuplicateIdempotencyKey
	// when the entry carries a key that already exists.
	InsertEntry(ctx context.Context, e Entry) error

	// GetEntry returns the entry or a NotFoundError.
	GetEntry(ctx context.Context, id EntryID) (Entry, error)

	// UpdateEntry overwrites the entry if the stored version equals
	// expectedVersion, storing e.Version as the new version.
	// Returns ErrConflict otherwise.
	UpdateEntry(ctx context.Context, e Entry, expectedVersion int64) error

	// ListEntries returns entries matching the filter ordered by CreatedAt.
	ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error)

	// GetBalance returns the cached balance or a NotFoundError.
	GetBalance(ctx context.Context, userID UserID, groupID GroupID) (Balance, error)

	// PutBalance stores the cached totals for a user in a group.
	PutBalance(ctx context.Context, b Balance) error

	// ListBalances returns every cached balance in a group.
	ListBalances(ctx context.Context, groupID GroupID) ([]Balance, error)

	// UpdateRank writes only the ranking cache columns.
	UpdateRank(ctx context.Context, userID UserID, groupID GroupID, rank, totalMembers int) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// RULES AND TASK STATS
// =============================================================================

type RuleStore interface {
	SaveRule(ctx context.Context, r Rule) error
	GetRule(ctx context.Context, id RuleID) (Rule, error)
	ListRules(ctx context.Context, groupID GroupID, activeOnly bool) ([]Rule, error)
	DeleteRule(ctx context.Context, id RuleID) error
}

// TaskStatsSource supplies streak and completion rate. These are computed by
// the chore subsystem, never by the ledger.
type TaskStatsSource interface {
	TaskStats(ctx context.Context, userID UserID, groupID GroupID) (TaskStats, error)
}

// TaskStatsStore is a TaskStatsSource the chore subsystem can push into.
type TaskStatsStore interface {
	TaskStatsSource
	SaveTaskStats(ctx context.Context, userID UserID, groupID GroupID, s TaskStats) error
}

// Backend is everything the Service needs from one database.
type Backend interface {
	TxStore
	RuleStore
	TaskStatsStore
}
