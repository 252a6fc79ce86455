/*
Package sqlite provides a SQLite-backed implementation of points.Backend.

PURPOSE:
  Default persistence for the points ledger. A single file holds entries,
  cached balances, group bonus rules and the task stats pushed by the chore
  subsystem.

INTERFACES IMPLEMENTED:
  points.Store:          Entries and cached balances
  points.TxStore:        WithTx over a database transaction
  points.RuleStore:      Group bonus rules
  points.TaskStatsStore: Streak / completion-rate snapshots

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements on the entries table
  - UPDATE only through UpdateEntry, guarded by the version column

KEY TABLES:
  entries:    Every point-affecting event (pending, approved, rejected)
  balances:   Cached projection per (user, group)
  rules:      Bonus rules per group
  task_stats: Latest streak / completion rate per (user, group)

OPTIMISTIC CONCURRENCY:
  UPDATE entries ... WHERE id = ? AND version = ?
  Zero rows affected on an existing id means somebody else wrote first and
  the caller gets points.ErrConflict.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database (":memory:") is shared by every call.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := points.NewService(store, points.Options{})

SEE ALSO:
  - points/store.go: Interface definitions
  - points/store/memory.go: In-memory implementation for testing
  - store/mongodb/mongodb.go: MongoDB implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/points"
)

// timeFormat sorts lexically in chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements points.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ points.Backend = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Entries (append-only, guarded updates)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount >= 0),
		reason TEXT NOT NULL,
		description TEXT,
		task_id TEXT,
		rule_id TEXT,
		idempotency_key TEXT UNIQUE,
		state TEXT NOT NULL DEFAULT 'pending',
		approved_by TEXT,
		approved_at TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	-- History queries (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_group_user_created
		ON entries(group_id, user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_state
		ON entries(state);
	CREATE INDEX IF NOT EXISTS idx_entries_rule
		ON entries(rule_id) WHERE rule_id IS NOT NULL;

	-- Cached balances
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		total_points INTEGER NOT NULL DEFAULT 0,
		earned_points INTEGER NOT NULL DEFAULT 0,
		deducted_points INTEGER NOT NULL DEFAULT 0,
		bonus_points INTEGER NOT NULL DEFAULT 0,
		last_updated TEXT,
		rank INTEGER NOT NULL DEFAULT 0,
		total_members INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, group_id)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_group
		ON balances(group_id);

	-- Bonus rules
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		points INTEGER NOT NULL,
		min_streak INTEGER,
		min_completion_rate TEXT,
		min_tasks INTEGER,
		period TEXT NOT NULL DEFAULT 'daily',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_group_active
		ON rules(group_id, is_active);

	-- Task stats pushed by the chore subsystem
	CREATE TABLE IF NOT EXISTS task_stats (
		user_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		current_streak INTEGER NOT NULL DEFAULT 0,
		completion_rate TEXT NOT NULL DEFAULT '0',
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, group_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (points.Store interface)
// =============================================================================

const entryColumns = `id, user_id, group_id, entry_type, amount, reason, description, task_id,
	rule_id, idempotency_key, state, approved_by, approved_at, created_by, created_at, version`

// InsertEntry adds an entry to the ledger.
func (s *Store) InsertEntry(ctx context.Context, e points.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return insertEntry(ctx, s.db, e)
}

func insertEntry(ctx context.Context, q querier, e points.Entry) error {
	query := `INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.GroupID,
		e.Type,
		e.Amount,
		e.Reason,
		nullString(e.Description),
		nullString(e.TaskID),
		nullString(string(e.RuleID)),
		nullString(e.IdempotencyKey),
		e.State,
		nullString(e.ApprovedBy),
		nullTime(e.ApprovedAt),
		nullString(e.CreatedBy),
		e.CreatedAt.UTC().Format(timeFormat),
		e.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return points.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, id points.EntryID) (points.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, q querier, id points.EntryID) (points.Entry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Entry{}, points.EntryNotFound(id)
	}
	return e, err
}

// UpdateEntry writes the mutable entry columns if the stored version matches.
func (s *Store) UpdateEntry(ctx context.Context, e points.Entry, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateEntry(ctx, s.db, e, expectedVersion)
}

func updateEntry(ctx context.Context, q querier, e points.Entry, expectedVersion int64) error {
	query := `
		UPDATE entries
		SET amount = ?, description = ?, state = ?, approved_by = ?, approved_at = ?, version = ?
		WHERE id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, query,
		e.Amount,
		nullString(e.Description),
		e.State,
		nullString(e.ApprovedBy),
		nullTime(e.ApprovedAt),
		e.Version,
		e.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE id = ?", e.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return points.EntryNotFound(e.ID)
	}
	return points.ErrConflict
}

// ListEntries returns entries matching the filter.
func (s *Store) ListEntries(ctx context.Context, f points.EntryFilter) ([]points.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listEntries(ctx, s.db, f)
}

func listEntries(ctx context.Context, q querier, f points.EntryFilter) ([]points.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.State != nil {
		where = append(where, "state = ?")
		args = append(args, *f.State)
	}

	query := "SELECT " + entryColumns + " FROM entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.NewestFirst {
		query += " ORDER BY created_at DESC, rowid DESC"
	} else {
		query += " ORDER BY created_at ASC, rowid ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []points.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (points.Entry, error) {
	var (
		e              points.Entry
		description    sql.NullString
		taskID         sql.NullString
		ruleID         sql.NullString
		idempotencyKey sql.NullString
		approvedBy     sql.NullString
		approvedAt     sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := row.Scan(
		&e.ID, &e.UserID, &e.GroupID, &e.Type, &e.Amount, &e.Reason,
		&description, &taskID, &ruleID, &idempotencyKey,
		&e.State, &approvedBy, &approvedAt, &createdBy, &createdAt, &e.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Description = description.String
	e.TaskID = taskID.String
	e.RuleID = points.RuleID(ruleID.String)
	e.IdempotencyKey = idempotencyKey.String
	e.ApprovedBy = approvedBy.String
	e.CreatedBy = createdBy.String
	e.CreatedAt = parseTime(createdAt)
	if approvedAt.Valid {
		t := parseTime(approvedAt.String)
		e.ApprovedAt = &t
	}
	return e, nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

const balanceColumns = `user_id, group_id, total_points, earned_points, deducted_points,
	bonus_points, last_updated, rank, total_members`

// GetBalance returns the cached balance for a user in a group.
func (s *Store) GetBalance(ctx context.Context, userID points.UserID, groupID points.GroupID) (points.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getBalance(ctx, s.db, userID, groupID)
}

func getBalance(ctx context.Context, q querier, userID points.UserID, groupID points.GroupID) (points.Balance, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE user_id = ? AND group_id = ?",
		userID, groupID,
	)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Balance{}, points.BalanceNotFound(userID, groupID)
	}
	return b, err
}

// PutBalance upserts the cached balance.
func (s *Store) PutBalance(ctx context.Context, b points.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return putBalance(ctx, s.db, b)
}

func putBalance(ctx context.Context, q querier, b points.Balance) error {
	query := `
		INSERT INTO balances (` + balanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, group_id) DO UPDATE SET
			total_points = excluded.total_points,
			earned_points = excluded.earned_points,
			deducted_points = excluded.deducted_points,
			bonus_points = excluded.bonus_points,
			last_updated = excluded.last_updated,
			rank = excluded.rank,
			total_members = excluded.total_members
	`
	_, err := q.ExecContext(ctx, query,
		b.UserID, b.GroupID,
		b.TotalPoints, b.EarnedPoints, b.DeductedPoints, b.BonusPoints,
		b.LastUpdated.UTC().Format(timeFormat),
		b.Rank, b.TotalMembers,
	)
	if err != nil {
		return fmt.Errorf("failed to store balance: %w", err)
	}
	return nil
}

// ListBalances returns every cached balance in a group.
func (s *Store) ListBalances(ctx context.Context, groupID points.GroupID) ([]points.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listBalances(ctx, s.db, groupID)
}

func listBalances(ctx context.Context, q querier, groupID points.GroupID) ([]points.Balance, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE group_id = ? ORDER BY user_id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []points.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// UpdateRank writes only the ranking columns.
func (s *Store) UpdateRank(ctx context.Context, userID points.UserID, groupID points.GroupID, rank, totalMembers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateRank(ctx, s.db, userID, groupID, rank, totalMembers)
}

func updateRank(ctx context.Context, q querier, userID points.UserID, groupID points.GroupID, rank, totalMembers int) error {
	res, err := q.ExecContext(ctx,
		"UPDATE balances SET rank = ?, total_members = ? WHERE user_id = ? AND group_id = ?",
		rank, totalMembers, userID, groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rank: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return points.BalanceNotFound(userID, groupID)
	}
	return nil
}

func scanBalance(row scanner) (points.Balance, error) {
	var (
		b           points.Balance
		lastUpdated sql.NullString
	)
	err := row.Scan(
		&b.UserID, &b.GroupID,
		&b.TotalPoints, &b.EarnedPoints, &b.DeductedPoints, &b.BonusPoints,
		&lastUpdated, &b.Rank, &b.TotalMembers,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan balance: %w", err)
	}
	if lastUpdated.Valid {
		b.LastUpdated = parseTime(lastUpdated.String)
	}
	return b, nil
}

// =============================================================================
// TRANSACTIONAL STORE (points.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store points.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open transaction. It never touches
// the parent mutex, which WithTx already holds.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertEntry(ctx context.Context, e points.Entry) error {
	return insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) GetEntry(ctx context.Context, id points.EntryID) (points.Entry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) UpdateEntry(ctx context.Context, e points.Entry, expectedVersion int64) error {
	return updateEntry(ctx, ts.tx, e, expectedVersion)
}

func (ts *txStore) ListEntries(ctx context.Context, f points.EntryFilter) ([]points.Entry, error) {
	return listEntries(ctx, ts.tx, f)
}

func (ts *txStore) GetBalance(ctx context.Context, userID points.UserID, groupID points.GroupID) (points.Balance, error) {
	return getBalance(ctx, ts.tx, userID, groupID)
}

func (ts *txStore) PutBalance(ctx context.Context, b points.Balance) error {
	return putBalance(ctx, ts.tx, b)
}

func (ts *txStore) ListBalances(ctx context.Context, groupID points.GroupID) ([]points.Balance, error) {
	return listBalances(ctx, ts.tx, groupID)
}

func (ts *txStore) UpdateRank(ctx context.Context, userID points.UserID, groupID points.GroupID, rank, totalMembers int) error {
	return updateRank(ctx, ts.tx, userID, groupID, rank, totalMembers)
}

// =============================================================================
// RULE STORE
// =============================================================================

const ruleColumns = `id, group_id, name, rule_type, points, min_streak, min_completion_rate,
	min_tasks, period, is_active, created_at`

// SaveRule inserts or replaces a rule.
func (s *Store) SaveRule(ctx context.Context, r points.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			group_id = excluded.group_id,
			name = excluded.name,
			rule_type = excluded.rule_type,
			points = excluded.points,
			min_streak = excluded.min_streak,
			min_completion_rate = excluded.min_completion_rate,
			min_tasks = excluded.min_tasks,
			period = excluded.period,
			is_active = excluded.is_active
	`
	var minRate sql.NullString
	if r.Conditions.MinCompletionRate != nil {
		minRate = sql.NullString{String: r.Conditions.MinCompletionRate.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.GroupID, r.Name, r.Type, r.Points,
		nullInt(r.Conditions.MinStreak), minRate, nullInt(r.Conditions.MinTasks),
		r.Period, r.IsActive, r.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id points.RuleID) (points.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Rule{}, points.RuleNotFound(id)
	}
	return r, err
}

// ListRules returns the rules of a group in creation order.
func (s *Store) ListRules(ctx context.Context, groupID points.GroupID, activeOnly bool) ([]points.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + ruleColumns + " FROM rules WHERE group_id = ?"
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []points.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule. Bonus entries it produced stay in the ledger.
func (s *Store) DeleteRule(ctx context.Context, id points.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return points.RuleNotFound(id)
	}
	return nil
}

func scanRule(row scanner) (points.Rule, error) {
	var (
		r         points.Rule
		minStreak sql.NullInt64
		minRate   sql.NullString
		minTasks  sql.NullInt64
		createdAt string
	)
	err := row.Scan(
		&r.ID, &r.GroupID, &r.Name, &r.Type, &r.Points,
		&minStreak, &minRate, &minTasks, &r.Period, &r.IsActive, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan rule: %w", err)
	}

	if minStreak.Valid {
		v := int(minStreak.Int64)
		r.Conditions.MinStreak = &v
	}
	if minTasks.Valid {
		v := int(minTasks.Int64)
		r.Conditions.MinTasks = &v
	}
	if minRate.Valid {
		d, err := decimal.NewFromString(minRate.String)
		if err != nil {
			return r, fmt.Errorf("rule %s: bad min_completion_rate %q: %w", r.ID, minRate.String, err)
		}
		r.Conditions.MinCompletionRate = &d
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// =============================================================================
// TASK STATS STORE
// =============================================================================

// TaskStats returns the stored stats, or zero stats if none were pushed.
func (s *Store) TaskStats(ctx context.Context, userID points.UserID, groupID points.GroupID) (points.TaskStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		ts        points.TaskStats
		rate      string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT current_streak, completion_rate, tasks_completed, updated_at
		 FROM task_stats WHERE user_id = ? AND group_id = ?`,
		userID, groupID,
	).Scan(&ts.CurrentStreak, &rate, &ts.TasksCompleted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return points.TaskStats{}, nil
	}
	if err != nil {
		return points.TaskStats{}, err
	}

	ts.CompletionRate, err = decimal.NewFromString(rate)
	if err != nil {
		return points.TaskStats{}, fmt.Errorf("bad completion_rate %q: %w", rate, err)
	}
	ts.UpdatedAt = parseTime(updatedAt)
	return ts, nil
}

// SaveTaskStats upserts the stats for a user in a group.
func (s *Store) SaveTaskStats(ctx context.Context, userID points.UserID, groupID points.GroupID, ts points.TaskStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_stats (user_id, group_id, current_streak, completion_rate, tasks_completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, group_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			completion_rate = excluded.completion_rate,
			tasks_completed = excluded.tasks_completed,
			updated_at = excluded.updated_at
	`,
		userID, groupID, ts.CurrentStreak, ts.CompletionRate.String(), ts.TasksCompleted,
		ts.UpdatedAt.UTC().Format(timeFormat),
	)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"entries", "balances", "rules", "task_stats"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
