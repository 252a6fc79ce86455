// Package store provides in-memory Backend implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/points-ledger/points"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements points.Backend. WithTx holds the write lock for the whole
// transaction and restores a snapshot if fn fails.
type Memory struct {
	mu sync.RWMutex
	state
}

type balanceKey struct {
	UserID  points.UserID
	GroupID points.GroupID
}

type state struct {
	entries     map[points.EntryID]points.Entry
	order       []points.EntryID
	idempotency map[string]points.EntryID
	balances    map[balanceKey]points.Balance
	rules       map[points.RuleID]points.Rule
	taskStats   map[balanceKey]points.TaskStats
}

var _ points.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{state: emptyState()}
}

func emptyState() state {
	return state{
		entries:     make(map[points.EntryID]points.Entry),
		idempotency: make(map[string]points.EntryID),
		balances:    make(map[balanceKey]points.Balance),
		rules:       make(map[points.RuleID]points.Rule),
		taskStats:   make(map[balanceKey]points.TaskStats),
	}
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = emptyState()
	return nil
}

// =============================================================================
// ENTRIES AND BALANCES (points.Store)
// =============================================================================

func (m *Memory) InsertEntry(_ context.Context, e points.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEntry(e)
}

func (m *Memory) GetEntry(_ context.Context, id points.EntryID) (points.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEntry(id)
}

func (m *Memory) UpdateEntry(_ context.Context, e points.Entry, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntry(e, expectedVersion)
}

func (m *Memory) ListEntries(_ context.Context, f points.EntryFilter) ([]points.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEntries(f), nil
}

func (m *Memory) GetBalance(_ context.Context, userID points.UserID, groupID points.GroupID) (points.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalance(userID, groupID)
}

func (m *Memory) PutBalance(_ context.Context, b points.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{b.UserID, b.GroupID}] = b
	return nil
}

func (m *Memory) ListBalances(_ context.Context, groupID points.GroupID) ([]points.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBalances(groupID), nil
}

func (m *Memory) UpdateRank(_ context.Context, userID points.UserID, groupID points.GroupID, rank, totalMembers int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRank(userID, groupID, rank, totalMembers)
}

// =============================================================================
// RULES AND TASK STATS
// =============================================================================

func (m *Memory) SaveRule(_ context.Context, r points.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

func (m *Memory) GetRule(_ context.Context, id points.RuleID) (points.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return points.Rule{}, points.RuleNotFound(id)
	}
	return r, nil
}

func (m *Memory) ListRules(_ context.Context, groupID points.GroupID, activeOnly bool) ([]points.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []points.Rule
	for _, r := range m.rules {
		if r.GroupID != groupID || (activeOnly && !r.IsActive) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) DeleteRule(_ context.Context, id points.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return points.RuleNotFound(id)
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) TaskStats(_ context.Context, userID points.UserID, groupID points.GroupID) (points.TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.taskStats[balanceKey{userID, groupID}], nil
}

func (m *Memory) SaveTaskStats(_ context.Context, userID points.UserID, groupID points.GroupID, s points.TaskStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskStats[balanceKey{userID, groupID}] = s
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(points.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// txView operates on the locked state without taking the lock again.
type txView struct {
	state *state
}

func (tv *txView) InsertEntry(_ context.Context, e points.Entry) error {
	return tv.state.insertEntry(e)
}

func (tv *txView) GetEntry(_ context.Context, id points.EntryID) (points.Entry, error) {
	return tv.state.getEntry(id)
}

func (tv *txView) UpdateEntry(_ context.Context, e points.Entry, expectedVersion int64) error {
	return tv.state.updateEntry(e, expectedVersion)
}

func (tv *txView) ListEntries(_ context.Context, f points.EntryFilter) ([]points.Entry, error) {
	return tv.state.listEntries(f), nil
}

func (tv *txView) GetBalance(_ context.Context, userID points.UserID, groupID points.GroupID) (points.Balance, error) {
	return tv.state.getBalance(userID, groupID)
}

func (tv *txView) PutBalance(_ context.Context, b points.Balance) error {
	tv.state.balances[balanceKey{b.UserID, b.GroupID}] = b
	return nil
}

func (tv *txView) ListBalances(_ context.Context, groupID points.GroupID) ([]points.Balance, error) {
	return tv.state.listBalances(groupID), nil
}

func (tv *txView) UpdateRank(_ context.Context, userID points.UserID, groupID points.GroupID, rank, totalMembers int) error {
	return tv.state.updateRank(userID, groupID, rank, totalMembers)
}

// =============================================================================
// UNLOCKED STATE OPERATIONS
// =============================================================================

func (s *state) insertEntry(e points.Entry) error {
	if _, exists := s.entries[e.ID]; exists {
		return points.ErrDuplicateIdempotencyKey
	}
	if e.IdempotencyKey != "" {
		if _, exists := s.idempotency[e.IdempotencyKey]; exists {
			return points.ErrDuplicateIdempotencyKey
		}
		s.idempotency[e.IdempotencyKey] = e.ID
	}
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)
	return nil
}

func (s *state) getEntry(id points.EntryID) (points.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return points.Entry{}, points.EntryNotFound(id)
	}
	return e, nil
}

func (s *state) updateEntry(e points.Entry, expectedVersion int64) error {
	current, ok := s.entries[e.ID]
	if !ok {
		return points.EntryNotFound(e.ID)
	}
	if current.Version != expectedVersion {
		return points.ErrConflict
	}
	s.entries[e.ID] = e
	return nil
}

func (s *state) listEntries(f points.EntryFilter) []points.Entry {
	var result []points.Entry
	for _, id := range s.order {
		e := s.entries[id]
		if f.Matches(e) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if f.NewestFirst {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result
}

func (s *state) getBalance(userID points.UserID, groupID points.GroupID) (points.Balance, error) {
	b, ok := s.balances[balanceKey{userID, groupID}]
	if !ok {
		return points.Balance{}, points.BalanceNotFound(userID, groupID)
	}
	return b, nil
}

func (s *state) listBalances(groupID points.GroupID) []points.Balance {
	var result []points.Balance
	for k, b := range s.balances {
		if k.GroupID == groupID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}

func (s *state) updateRank(userID points.UserID, groupID points.GroupID, rank, totalMembers int) error {
	k := balanceKey{userID, groupID}
	b, ok := s.balances[k]
	if !ok {
		return points.BalanceNotFound(userID, groupID)
	}
	b.Rank = rank
	b.TotalMembers = totalMembers
	s.balances[k] = b
	return nil
}

func (s *state) clone() state {
	c := state{
		entries:     make(map[points.EntryID]points.Entry, len(s.entries)),
		order:       append([]points.EntryID(nil), s.order...),
		idempotency: make(map[string]points.EntryID, len(s.idempotency)),
		balances:    make(map[balanceKey]points.Balance, len(s.balances)),
		rules:       s.rules,
		taskStats:   s.taskStats,
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}
