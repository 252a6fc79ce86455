/*
ledger.go - Append-only log of point entries

PURPOSE:
  The Ledger is the validated write path into the Store. Every chore
  completion, bonus, penalty and admin correction enters here as a pending
  entry. Balances only move later, when an entry is approved.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Entries are never deleted
  2. MAGNITUDE: Amount >= 0, sign is derived from Type at projection time
  3. PENDING ON ENTRY: New entries always start pending
  4. IDEMPOTENT: Same idempotency key = same entry (no duplicates)

CORRECTIONS:
  A wrong approved entry is not edited. An admin records a manual_add or
  manual_deduct entry instead, and both remain in the history.

SEE ALSO:
  - store.go: Persistence interface
  - approval.go: The only code that moves an entry out of pending
*/
package points

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ledger validates and appends entries and answers history queries.
type Ledger struct {
	store    TxStore
	clock    func() time.Time
	newID    func() EntryID
	recorder Recorder
}

// NewLedger creates a ledger backed by store.
func NewLedger(store TxStore) *Ledger {
	return &Ledger{
		store:    store,
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    func() EntryID { return EntryID(uuid.NewString()) },
		recorder: nopRecorder{},
	}
}

// Append validates e and inserts it in pending state.
func (l *Ledger) Append(ctx context.Context, e Entry) (EntryID, error) {
	e, err := l.prepare(e)
	if err != nil {
		return "", err
	}
	if err := l.store.InsertEntry(ctx, e); err != nil {
		return "", err
	}
	l.recorder.EntryAppended(e.Type)
	return e.ID, nil
}

func (l *Ledger) prepare(e Entry) (Entry, error) {
	if err := ValidateEntry(e); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = l.newID()
	}
	e.State = StatePending
	e.ApprovedBy = ""
	e.ApprovedAt = nil
	e.CreatedAt = l.clock()
	e.Version = 1
	return e, nil
}

// Get returns one entry.
func (l *Ledger) Get(ctx context.Context, id EntryID) (Entry, error) {
	return l.store.GetEntry(ctx, id)
}

// List returns entries matching f. Read-only.
func (l *Ledger) List(ctx context.Context, f EntryFilter) ([]Entry, error) {
	if f.Limit < 0 {
		return nil, &ValidationError{Field: "limit", Message: "must not be negative"}
	}
	return l.store.ListEntries(ctx, f)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateEntry checks the fields every new entry needs.
func ValidateEntry(e Entry) error {
	switch {
	case e.UserID == "":
		return &ValidationError{Field: "user_id", Message: "required"}
	case e.GroupID == "":
		return &ValidationError{Field: "group_id", Message: "required"}
	case !e.Type.Valid():
		return &ValidationError{Field: "type", Message: "unknown entry type " + string(e.Type)}
	case e.Amount < 0:
		return &ValidationError{Field: "amount", Message: "must not be negative"}
	case strings.TrimSpace(e.Reason) == "":
		return &ValidationError{Field: "reason", Message: "required"}
	}
	return nil
}
