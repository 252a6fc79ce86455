/*
Package points provides the household points ledger and approval engine.

PURPOSE:
  Turns "a chore was completed" into a durable, auditable, eventually-approved
  change to a member's point balance. The same engine evaluates group bonus
  rules, aggregates statistics, and ranks members inside a group.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: One point-affecting event (earned, deducted, bonus, ...)
  - ApprovalState: pending -> approved | rejected (terminal)
  - Balance: Cached projection of approved entries for a user in a group
  - TaskStats / Stats: Inputs the bonus rules are evaluated against

DESIGN PRINCIPLES:
  1. Magnitude only: Entry.Amount is never negative, the sign comes from Type
  2. Single effect: A balance changes only when an entry becomes approved
  3. Event-sourced: Every balance can be rebuilt from approved history
  4. Type safety: Distinct ID types keep users, groups and entries apart

USAGE:
  entry := points.Entry{
      UserID:  "kid-1",
      GroupID: "family-42",
      Type:    points.TypeEarned,
      Amount:  10,
      Reason:  "Task completed: Dishes",
  }
  id, err := ledger.Append(ctx, entry)

SEE ALSO:
  - ledger.go: Validation and append/list
  - approval.go: State transitions
  - projector.go: Sign table and balance projection
*/
package points

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type GroupID string
type EntryID string
type RuleID string

// =============================================================================
// ENTRY TYPE - What kind of event changed the points
// =============================================================================

type EntryType string

const (
	TypeEarned       EntryType = "earned"        // Chore completed
	TypeDeducted     EntryType = "deducted"      // Points taken away
	TypeBonus        EntryType = "bonus"         // Awarded by a group rule
	TypePenalty      EntryType = "penalty"       // Missed or broken chore
	TypeManualAdd    EntryType = "manual_add"    // Admin correction (credit)
	TypeManualDeduct EntryType = "manual_deduct" // Admin correction (debit)
)

// EntryTypes lists every known entry type.
var EntryTypes = []EntryType{
	TypeEarned, TypeDeducted, TypeBonus, TypePenalty, TypeManualAdd, TypeManualDeduct,
}

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	for _, known := range EntryTypes {
		if t == known {
			return true
		}
	}
	return false
}

// =============================================================================
// APPROVAL STATE
// =============================================================================

type ApprovalState string

const (
	StatePending  ApprovalState = "pending"
	StateApproved ApprovalState = "approved"
	StateRejected ApprovalState = "rejected"
)

// Valid reports whether s is a known approval state.
func (s ApprovalState) Valid() bool {
	return s == StatePending || s == StateApproved || s == StateRejected
}

// Terminal reports whether no further transition is allowed out of s.
func (s ApprovalState) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

// CanTransition reports whether s -> to is a legal transition.
// Only pending -> approved and pending -> rejected exist.
func (s ApprovalState) CanTransition(to ApprovalState) bool {
	return s == StatePending && to.Terminal()
}

// ParseApprovalState converts a query-string value into an ApprovalState.
func ParseApprovalState(s string) (ApprovalState, error) {
	state := ApprovalState(s)
	if !state.Valid() {
		return "", &ValidationError{Field: "state", Message: "unknown approval state " + s}
	}
	return state, nil
}

// =============================================================================
// ENTRY - One point-affecting event
// =============================================================================

// Entry is immutable once approved: Amount and Type are frozen and only the
// audit fields (ApprovedBy, ApprovedAt) are ever written after that.
type Entry struct {
	ID             EntryID
	UserID         UserID
	GroupID        GroupID
	Type           EntryType
	Amount         int64 // Magnitude, never negative
	Reason         string
	Description    string
	TaskID         string
	RuleID         RuleID // Set on entries generated by the bonus engine
	IdempotencyKey string

	State      ApprovalState
	ApprovedBy string // Approver (or rejecter) once decided
	ApprovedAt *time.Time

	// Audit fields
	CreatedBy string
	CreatedAt time.Time

	// Version increments on every write; used for optimistic concurrency.
	Version int64
}

// Delta is the signed effect the entry has on a balance once approved.
func (e Entry) Delta() int64 {
	return Sign(e.Type) * e.Amount
}

// =============================================================================
// BALANCE - Cached projection per user+group
// =============================================================================

// Balance is a cache of the approved history for one user in one group.
// TotalPoints == EarnedPoints + BonusPoints - DeductedPoints always holds.
type Balance struct {
	UserID         UserID
	GroupID        GroupID
	TotalPoints    int64
	EarnedPoints   int64
	DeductedPoints int64
	BonusPoints    int64
	LastUpdated    time.Time

	// Ranking cache, recomputed on read by RankCalculator.
	Rank         int
	TotalMembers int
}

// NewBalance returns the zero balance for a user in a group.
func NewBalance(userID UserID, groupID GroupID) Balance {
	return Balance{UserID: userID, GroupID: groupID}
}

// SameTotals reports whether two balances carry the same point totals.
func (b Balance) SameTotals(o Balance) bool {
	return b.TotalPoints == o.TotalPoints &&
		b.EarnedPoints == o.EarnedPoints &&
		b.DeductedPoints == o.DeductedPoints &&
		b.BonusPoints == o.BonusPoints
}

// =============================================================================
// STATS - Inputs to bonus rules
// =============================================================================

// TaskStats is computed by the chore subsystem and handed to the ledger.
type TaskStats struct {
	CurrentStreak  int
	CompletionRate decimal.Decimal // Fraction in [0, 1]
	TasksCompleted int
	UpdatedAt      time.Time
}

// Stats is the snapshot bonus rules are evaluated against.
type Stats struct {
	Balance
	TaskStats
}

// =============================================================================
// FILTERS
// =============================================================================

// EntryFilter selects entries for history queries.
type EntryFilter struct {
	UserID      UserID
	GroupID     GroupID
	State       *ApprovalState // nil = any state
	Limit       int            // 0 = no limit
	NewestFirst bool
}

// Matches reports whether e passes the filter (ignoring Limit).
func (f EntryFilter) Matches(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.GroupID != "" && e.GroupID != f.GroupID {
		return false
	}
	if f.State != nil && e.State != *f.State {
		return false
	}
	return true
}

func statePtr(s ApprovalState) *ApprovalState { return &s }
