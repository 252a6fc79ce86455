/*
Package factory provides JSON to Go bonus rule conversion.

PURPOSE:
  Converts JSON rule definitions into points.Rule values. Parents edit
  rules in the admin UI; the UI posts JSON and the factory builds the
  struct the bonus engine evaluates.

JSON SCHEMA:
  {
    "id": "streak-5",
    "group_id": "family-42",
    "name": "Five day streak",
    "type": "streak_bonus",
    "points": 5,
    "period": "weekly",
    "is_active": true,
    "conditions": {
      "min_streak": 5,
      "min_completion_rate": "0.8",
      "min_tasks": 10
    }
  }

DEFAULTS:
  - period: daily
  - is_active: true
  - min_completion_rate accepts a JSON number or a decimal string

USAGE:
  f := NewRuleFactory()
  rule, err := f.ParseRule(jsonString)
  rule, err = svc.SaveRule(ctx, rule)

SEE ALSO:
  - points/rules.go: Rule type and evaluation
  - factory/presets.go: Ready-made household rules
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/points"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a bonus rule.
type RuleJSON struct {
	ID         string          `json:"id,omitempty"`
	GroupID    string          `json:"group_id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Points     int64           `json:"points"`
	Period     string          `json:"period,omitempty"`
	IsActive   *bool           `json:"is_active,omitempty"` // Default true
	Conditions *ConditionsJSON `json:"conditions,omitempty"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
}

// ConditionsJSON represents the thresholds of a rule.
type ConditionsJSON struct {
	MinStreak         *int             `json:"min_streak,omitempty"`
	MinCompletionRate *decimal.Decimal `json:"min_completion_rate,omitempty"`
	MinTasks          *int             `json:"min_tasks,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to points.Rule.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into a validated Rule.
func (f *RuleFactory) ParseRule(jsonStr string) (points.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return points.Rule{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts RuleJSON to a Rule and validates it.
func (f *RuleFactory) FromJSON(rj RuleJSON) (points.Rule, error) {
	rule := points.Rule{
		ID:       points.RuleID(rj.ID),
		GroupID:  points.GroupID(rj.GroupID),
		Name:     rj.Name,
		Type:     points.RuleType(rj.Type),
		Points:   rj.Points,
		Period:   parsePeriod(rj.Period),
		IsActive: true,
	}
	if rj.IsActive != nil {
		rule.IsActive = *rj.IsActive
	}
	if rj.CreatedAt != nil {
		rule.CreatedAt = rj.CreatedAt.UTC()
	}
	if rj.Conditions != nil {
		rule.Conditions = points.RuleConditions{
			MinStreak:         rj.Conditions.MinStreak,
			MinCompletionRate: rj.Conditions.MinCompletionRate,
			MinTasks:          rj.Conditions.MinTasks,
		}
	}

	if err := rule.Validate(); err != nil {
		return points.Rule{}, err
	}
	return rule, nil
}

// ToJSON converts a Rule to RuleJSON.
func (f *RuleFactory) ToJSON(rule points.Rule) RuleJSON {
	active := rule.IsActive
	rj := RuleJSON{
		ID:       string(rule.ID),
		GroupID:  string(rule.GroupID),
		Name:     rule.Name,
		Type:     string(rule.Type),
		Points:   rule.Points,
		Period:   string(parsePeriod(string(rule.Period))),
		IsActive: &active,
	}
	if !rule.CreatedAt.IsZero() {
		created := rule.CreatedAt
		rj.CreatedAt = &created
	}
	if !rule.Conditions.Empty() {
		rj.Conditions = &ConditionsJSON{
			MinStreak:         rule.Conditions.MinStreak,
			MinCompletionRate: rule.Conditions.MinCompletionRate,
			MinTasks:          rule.Conditions.MinTasks,
		}
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// parsePeriod maps "" to daily; unknown values pass through so Validate
// reports them.
func parsePeriod(s string) points.EvaluationPeriod {
	if s == "" {
		return points.PeriodDaily
	}
	return points.EvaluationPeriod(s)
}
