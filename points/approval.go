/*
approval.go - Pending -> Approved | Rejected state machine

PURPOSE:
  The only code allowed to move an entry out of pending, and the only code
  that touches a cached balance on the write path.

STATES:
  ┌─────────┐  Approve   ┌──────────┐
  │ pending │──────────▶ │ approved │──▶ Project(entry, balance)
  └─────────┘            └──────────┘
       │      Reject     ┌──────────┐
       └───────────────▶ │ rejected │    (no balance effect)
                         └──────────┘
  approved and rejected are terminal. Amount may change only while pending.

TRANSACTION SHAPE (every transition):
  1. Re-read the entry inside the transaction
  2. Refuse with InvalidStateError unless it is still pending
  3. Write the new state with a version check (ErrConflict if it moved)
  4. Approve only: project into the balance and store it
  Steps 3 and 4 commit together or not at all.

RETRIES:
  ErrConflict is retried up to MaxRetries times, then surfaced as
  ConflictError. InvalidState, Validation and NotFound are never retried.
  A second Approve on the same entry fails the pending guard, so the delta
  can never be applied twice.

SEE ALSO:
  - projector.go: Project
  - service.go: ManuallyAdjust reuses transition inside its own transaction
*/
package points

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxRetries is the conflict retry budget when none is configured.
const DefaultMaxRetries = 3

// Approvals runs approval-state transitions.
type Approvals struct {
	store      TxStore
	clock      func() time.Time
	maxRetries int
	notifier   Notifier
	recorder   Recorder
	logger     *zap.Logger
}

// NewApprovals creates the state machine over store.
func NewApprovals(store TxStore) *Approvals {
	return &Approvals{
		store:      store,
		clock:      func() time.Time { return time.Now().UTC() },
		maxRetries: DefaultMaxRetries,
		notifier:   nopNotifier{},
		recorder:   nopRecorder{},
		logger:     zap.NewNop(),
	}
}

// Approve moves a pending entry to approved and projects it into the balance.
func (a *Approvals) Approve(ctx context.Context, id EntryID, approverID string) (Entry, error) {
	return a.decide(ctx, id, approverID, StateApproved)
}

// Reject moves a pending entry to rejected. The balance is not touched.
func (a *Approvals) Reject(ctx context.Context, id EntryID, approverID string) (Entry, error) {
	return a.decide(ctx, id, approverID, StateRejected)
}

// UpdateAmount changes the magnitude of a pending entry.
func (a *Approvals) UpdateAmount(ctx context.Context, id EntryID, amount int64) (Entry, error) {
	if amount < 0 {
		return Entry{}, &ValidationError{Field: "amount", Message: "must not be negative"}
	}

	var updated Entry
	err := a.withRetry(ctx, id, func(s Store) error {
		e, err := s.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if e.State != StatePending {
			return &InvalidStateError{EntryID: id, Current: e.State, Action: "update_amount"}
		}
		expected := e.Version
		e.Amount = amount
		e.Version++
		if err := s.UpdateEntry(ctx, e, expected); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		a.logFailure("update amount refused", id, err)
		return Entry{}, err
	}
	return updated, nil
}

func (a *Approvals) decide(ctx context.Context, id EntryID, approverID string, target ApprovalState) (Entry, error) {
	if approverID == "" {
		return Entry{}, &ValidationError{Field: "approver_id", Message: "required"}
	}
	start := time.Now()

	var (
		decided Entry
		balance *Balance
	)
	err := a.withRetry(ctx, id, func(s Store) error {
		e, b, err := a.transition(ctx, s, id, approverID, target)
		if err != nil {
			return err
		}
		decided, balance = e, b
		return nil
	})
	if err != nil {
		a.logFailure("transition refused", id, err)
		return Entry{}, err
	}

	a.committed(ctx, decided, balance, start)
	return decided, nil
}

// committed runs after a decision has been committed.
func (a *Approvals) committed(ctx context.Context, e Entry, b *Balance, start time.Time) {
	a.recorder.Decision(e.State, time.Since(start))
	a.logger.Info("entry decided",
		zap.String("entry_id", string(e.ID)),
		zap.String("user_id", string(e.UserID)),
		zap.String("group_id", string(e.GroupID)),
		zap.String("state", string(e.State)),
		zap.String("approver_id", e.ApprovedBy),
	)
	a.notifier.Notify(ctx, DecisionEvent{Entry: e, Balance: b, DecidedAt: *e.ApprovedAt})
}

// transition performs one guarded transition through s. It must run inside a
// transaction; for approvals the returned balance already includes the entry.
func (a *Approvals) transition(ctx context.Context, s Store, id EntryID, approverID string, target ApprovalState) (Entry, *Balance, error) {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, nil, err
	}
	if !e.State.CanTransition(target) {
		return Entry{}, nil, &InvalidStateError{EntryID: id, Current: e.State, Action: actionFor(target)}
	}

	now := a.clock()
	expected := e.Version
	e.State = target
	e.ApprovedBy = approverID
	e.ApprovedAt = &now
	e.Version++
	if err := s.UpdateEntry(ctx, e, expected); err != nil {
		return Entry{}, nil, err
	}

	if target != StateApproved {
		return e, nil, nil
	}

	b, err := s.GetBalance(ctx, e.UserID, e.GroupID)
	if IsNotFound(err) {
		b = NewBalance(e.UserID, e.GroupID)
	} else if err != nil {
		return Entry{}, nil, err
	}
	b = Project(e, b)
	if err := s.PutBalance(ctx, b); err != nil {
		return Entry{}, nil, err
	}
	return e, &b, nil
}

// withRetry runs fn in a transaction, retrying only on ErrConflict.
func (a *Approvals) withRetry(ctx context.Context, id EntryID, fn func(Store) error) error {
	attempts := a.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := a.store.WithTx(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		a.recorder.Conflict()
		a.logger.Warn("version conflict",
			zap.String("entry_id", string(id)),
			zap.Int("attempt", attempt),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return &ConflictError{EntryID: id, Attempts: attempts}
}

func (a *Approvals) logFailure(msg string, id EntryID, err error) {
	switch {
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		a.logger.Warn(msg, zap.String("entry_id", string(id)), zap.Error(err))
	case IsClientError(err), IsNotFound(err):
		a.logger.Debug(msg, zap.String("entry_id", string(id)), zap.Error(err))
	default:
		a.logger.Error(msg, zap.String("entry_id", string(id)), zap.Error(err))
	}
}

func actionFor(target ApprovalState) string {
	if target == StateRejected {
		return "reject"
	}
	return "approve"
}
