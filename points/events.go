package points

import (
	"context"
	"time"
)

// =============================================================================
// DECISION EVENTS - Observed by the notification subsystem
// =============================================================================

// DecisionEvent is emitted after an approval or rejection has committed.
type DecisionEvent struct {
	Entry     Entry
	Balance   *Balance // Balance after projection; nil for rejections
	DecidedAt time.Time
}

// Notifier receives decision events. Implementations must not block for long
// and cannot fail the decision: it has already been committed.
type Notifier interface {
	Notify(ctx context.Context, ev DecisionEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, DecisionEvent) {}

// =============================================================================
// RECORDER - Metrics hook
// =============================================================================

// Recorder is told about ledger activity. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	EntryAppended(t EntryType)
	Decision(state ApprovalState, took time.Duration)
	Conflict()
	BonusAwarded(ruleID RuleID)
	BonusFailed(ruleID RuleID)
}

type nopRecorder struct{}

func (nopRecorder) EntryAppended(EntryType)              {}
func (nopRecorder) Decision(ApprovalState, time.Duration) {}
func (nopRecorder) Conflict()                            {}
func (nopRecorder) BonusAwarded(RuleID)                  {}
func (nopRecorder) BonusFailed(RuleID)                   {}
