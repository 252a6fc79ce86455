/*
rules.go - Group bonus rules and the engine that evaluates them

PURPOSE:
  Parents configure rules per household ("5 day streak = +5 points").
  CheckAndAward evaluates every active rule against the member's current
  stats and appends a pending bonus entry for each rule that is satisfied.
  Bonus entries still need approval like any other entry.

CONDITIONS:
  A rule fires when every condition it sets is met:
    MinStreak          stats.CurrentStreak  >= MinStreak
    MinCompletionRate  stats.CompletionRate >= MinCompletionRate
    MinTasks           stats.TasksCompleted >= MinTasks
  A rule with no conditions never fires. Manual rules never fire on their own.

DEDUPLICATION:
  Each award carries the idempotency key
    bonus:<group>:<user>:<rule>:<period key>
  so re-running the check in the same evaluation period is a no-op, even
  when the earlier bonus was rejected.

BEST EFFORT:
  A failing rule is logged and counted, then skipped. Nothing here may fail
  or roll back the completion or approval that triggered the check.

SEE ALSO:
  - period.go: Evaluation period keys
  - factory/rule.go: JSON rule definitions
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// RULE
// =============================================================================

type RuleType string

const (
	RuleStreakBonus    RuleType = "streak_bonus"
	RuleCompletionRate RuleType = "completion_rate"
	RuleTaskCompletion RuleType = "task_completion"
	RuleManual         RuleType = "manual"
	RuleCustom         RuleType = "custom"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleStreakBonus, RuleCompletionRate, RuleTaskCompletion, RuleManual, RuleCustom:
		return true
	}
	return false
}

var decimalOne = decimal.NewFromInt(1)

// RuleConditions holds the thresholds a rule checks. nil = not checked.
type RuleConditions struct {
	MinStreak         *int
	MinCompletionRate *decimal.Decimal
	MinTasks          *int
}

// Empty reports whether no condition is set.
func (c RuleConditions) Empty() bool {
	return c.MinStreak == nil && c.MinCompletionRate == nil && c.MinTasks == nil
}

// Rule is a group-configured bonus.
type Rule struct {
	ID         RuleID
	GroupID    GroupID
	Name       string
	Type       RuleType
	Points     int64
	Conditions RuleConditions
	Period     EvaluationPeriod
	IsActive   bool
	CreatedAt  time.Time
}

// Validate checks a rule before it is stored.
func (r Rule) Validate() error {
	switch {
	case r.GroupID == "":
		return &ValidationError{Field: "group_id", Message: "required"}
	case !r.Type.Valid():
		return &ValidationError{Field: "type", Message: "unknown rule type " + string(r.Type)}
	case r.Points < 0:
		return &ValidationError{Field: "points", Message: "must not be negative"}
	case !r.Period.Valid():
		return &ValidationError{Field: "period", Message: "unknown period " + string(r.Period)}
	}

	c := r.Conditions
	if c.MinStreak != nil && *c.MinStreak < 0 {
		return &ValidationError{Field: "min_streak", Message: "must not be negative"}
	}
	if c.MinTasks != nil && *c.MinTasks < 0 {
		return &ValidationError{Field: "min_tasks", Message: "must not be negative"}
	}
	if c.MinCompletionRate != nil &&
		(c.MinCompletionRate.IsNegative() || c.MinCompletionRate.GreaterThan(decimalOne)) {
		return &ValidationError{Field: "min_completion_rate", Message: "must be within [0, 1]"}
	}

	switch r.Type {
	case RuleStreakBonus:
		if c.MinStreak == nil {
			return &ValidationError{Field: "min_streak", Message: "required for streak_bonus"}
		}
	case RuleCompletionRate:
		if c.MinCompletionRate == nil {
			return &ValidationError{Field: "min_completion_rate", Message: "required for completion_rate"}
		}
	case RuleTaskCompletion:
		if c.MinTasks == nil {
			return &ValidationError{Field: "min_tasks", Message: "required for task_completion"}
		}
	}
	return nil
}

// Matches reports whether the rule fires for the given stats.
func (r Rule) Matches(s Stats) bool {
	if !r.IsActive || r.Type == RuleManual || r.Conditions.Empty() {
		return false
	}
	c := r.Conditions
	if c.MinStreak != nil && s.CurrentStreak < *c.MinStreak {
		return false
	}
	if c.MinCompletionRate != nil && s.CompletionRate.LessThan(*c.MinCompletionRate) {
		return false
	}
	if c.MinTasks != nil && s.TasksCompleted < *c.MinTasks {
		return false
	}
	return true
}

// BonusKey is the idempotency key for one award of r to a user in a period.
func BonusKey(userID UserID, r Rule, at time.Time) string {
	return strings.Join([]string{
		"bonus", string(r.GroupID), string(userID), string(r.ID), r.Period.Key(at),
	}, ":")
}

// =============================================================================
// BONUS ENGINE
// =============================================================================

// BonusEngine turns satisfied rules into pending bonus entries.
type BonusEngine struct {
	rules    RuleStore
	stats    *Aggregator
	ledger   *Ledger
	clock    func() time.Time
	recorder Recorder
	logger   *zap.Logger
}

// NewBonusEngine wires the engine to its collaborators.
func NewBonusEngine(rules RuleStore, stats *Aggregator, ledger *Ledger) *BonusEngine {
	return &BonusEngine{
		rules:    rules,
		stats:    stats,
		ledger:   ledger,
		clock:    func() time.Time { return time.Now().UTC() },
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
	}
}

// CheckAndAward evaluates active rules for the user and appends a pending
// bonus entry for each satisfied one. Per-rule failures are logged and
// skipped; the returned error only reports failures to load rules or stats.
func (b *BonusEngine) CheckAndAward(ctx context.Context, userID UserID, groupID GroupID) ([]Entry, error) {
	rules, err := b.rules.ListRules(ctx, groupID, true)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	stats, err := b.stats.Snapshot(ctx, userID, groupID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}

	now := b.clock()
	var awarded []Entry
	for _, r := range rules {
		if !r.Matches(stats) {
			continue
		}
		e, err := b.award(ctx, userID, r, now)
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			b.logger.Debug("bonus already awarded this period",
				zap.String("rule_id", string(r.ID)),
				zap.String("user_id", string(userID)),
			)
			continue
		}
		if err != nil {
			b.recorder.BonusFailed(r.ID)
			b.logger.Error("bonus rule failed",
				zap.String("rule_id", string(r.ID)),
				zap.String("user_id", string(userID)),
				zap.String("group_id", string(groupID)),
				zap.Error(err),
			)
			continue
		}
		b.recorder.BonusAwarded(r.ID)
		awarded = append(awarded, e)
	}
	return awarded, nil
}

func (b *BonusEngine) award(ctx context.Context, userID UserID, r Rule, now time.Time) (Entry, error) {
	name := r.Name
	if name == "" {
		name = string(r.Type)
	}
	e := Entry{
		UserID:         userID,
		GroupID:        r.GroupID,
		Type:           TypeBonus,
		Amount:         r.Points,
		Reason:         "Bonus: " + name,
		RuleID:         r.ID,
		IdempotencyKey: BonusKey(userID, r, now),
		CreatedBy:      "system",
	}
	id, err := b.ledger.Append(ctx, e)
	if err != nil {
		return Entry{}, err
	}
	return b.ledger.Get(ctx, id)
}
