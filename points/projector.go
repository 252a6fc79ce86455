package points

import "time"

// =============================================================================
// SIGN TABLE
// =============================================================================

// Sign returns +1 for crediting types, -1 for debiting types and 0 for
// unknown types. The sign is never stored on the entry.
func Sign(t EntryType) int64 {
	switch t {
	case TypeEarned, TypeBonus, TypeManualAdd:
		return 1
	case TypeDeducted, TypePenalty, TypeManualDeduct:
		return -1
	}
	return 0
}

// =============================================================================
// PROJECTION
// =============================================================================

// Project applies one approved entry to a balance and returns the result.
// It is pure: the caller decides when it runs, and it must run exactly once
// per entry, inside the same transaction that marks the entry approved.
func Project(e Entry, b Balance) Balance {
	b.UserID = e.UserID
	b.GroupID = e.GroupID

	switch e.Type {
	case TypeEarned, TypeManualAdd:
		b.EarnedPoints += e.Amount
	case TypeBonus:
		b.BonusPoints += e.Amount
	case TypeDeducted, TypePenalty, TypeManualDeduct:
		b.DeductedPoints += e.Amount
	}
	b.TotalPoints += e.Delta()

	if e.ApprovedAt != nil {
		b.LastUpdated = *e.ApprovedAt
	}
	return b
}

// Replay folds every approved entry into a fresh balance. Entries in any
// other state are ignored.
func Replay(userID UserID, groupID GroupID, entries []Entry, asOf time.Time) Balance {
	b := NewBalance(userID, groupID)
	for _, e := range entries {
		if e.State != StateApproved {
			continue
		}
		b = Project(e, b)
	}
	b.LastUpdated = asOf
	return b
}
