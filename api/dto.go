/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the points package from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Entries:     EntryDTO, CompletionRequest, DecisionRequest, UpdateAmountRequest
  Balances:    BalanceDTO, StatsDTO, ReconcileDTO
  Admin:       AdjustmentRequest, TaskStatsRequest
  Rules:       factory.RuleJSON (shared with the rule factory)
  Scenarios:   ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the points package, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/points"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CompletionRequest reports a finished chore.
type CompletionRequest struct {
	UserID       string `json:"user_id"`
	TaskID       string `json:"task_id"`
	TaskTitle    string `json:"task_title,omitempty"`
	Points       int64  `json:"points"`
	CompletionID string `json:"completion_id,omitempty"`
}

// DecisionRequest approves or rejects an entry.
type DecisionRequest struct {
	ApproverID string `json:"approver_id"`
}

// UpdateAmountRequest edits a pending entry.
type UpdateAmountRequest struct {
	Amount *int64 `json:"amount"`
}

// AdjustmentRequest is a manual correction. Amount is signed.
type AdjustmentRequest struct {
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
	AdminID string `json:"admin_id"`
}

// TaskStatsRequest carries streak and completion data from the chore subsystem.
type TaskStatsRequest struct {
	CurrentStreak  int             `json:"current_streak"`
	CompletionRate decimal.Decimal `json:"completion_rate"`
	TasksCompleted int             `json:"tasks_completed"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EntryDTO represents a ledger entry.
type EntryDTO struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	GroupID     string  `json:"group_id"`
	Type        string  `json:"type"`
	Amount      int64   `json:"amount"`
	Delta       int64   `json:"delta"` // Signed effect once approved
	Reason      string  `json:"reason"`
	Description string  `json:"description,omitempty"`
	TaskID      string  `json:"task_id,omitempty"`
	RuleID      string  `json:"rule_id,omitempty"`
	State       string  `json:"state"`
	ApprovedBy  string  `json:"approved_by,omitempty"`
	ApprovedAt  *string `json:"approved_at,omitempty"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
	Version     int64   `json:"version"`
}

// BalanceDTO represents a member's cached balance.
type BalanceDTO struct {
	UserID         string `json:"user_id"`
	GroupID        string `json:"group_id"`
	TotalPoints    int64  `json:"total_points"`
	EarnedPoints   int64  `json:"earned_points"`
	DeductedPoints int64  `json:"deducted_points"`
	BonusPoints    int64  `json:"bonus_points"`
	Rank           int    `json:"rank,omitempty"`
	TotalMembers   int    `json:"total_members,omitempty"`
	LastUpdated    string `json:"last_updated,omitempty"`
}

// StatsDTO is a balance plus task statistics.
type StatsDTO struct {
	BalanceDTO
	CurrentStreak  int             `json:"current_streak"`
	CompletionRate decimal.Decimal `json:"completion_rate"`
	TasksCompleted int             `json:"tasks_completed"`
}

// ReconcileDTO reports the result of a reconciliation.
type ReconcileDTO struct {
	Previous   *BalanceDTO `json:"previous,omitempty"`
	Recomputed BalanceDTO  `json:"recomputed"`
	Drift      int64       `json:"drift"`
	Drifted    bool        `json:"drifted"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEntryDTO(e points.Entry) EntryDTO {
	dto := EntryDTO{
		ID:          string(e.ID),
		UserID:      string(e.UserID),
		GroupID:     string(e.GroupID),
		Type:        string(e.Type),
		Amount:      e.Amount,
		Delta:       e.Delta(),
		Reason:      e.Reason,
		Description: e.Description,
		TaskID:      e.TaskID,
		RuleID:      string(e.RuleID),
		State:       string(e.State),
		ApprovedBy:  e.ApprovedBy,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		Version:     e.Version,
	}
	if e.ApprovedAt != nil {
		s := e.ApprovedAt.Format(time.RFC3339)
		dto.ApprovedAt = &s
	}
	return dto
}

func toEntryDTOs(entries []points.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toBalanceDTO(b points.Balance) BalanceDTO {
	dto := BalanceDTO{
		UserID:         string(b.UserID),
		GroupID:        string(b.GroupID),
		TotalPoints:    b.TotalPoints,
		EarnedPoints:   b.EarnedPoints,
		DeductedPoints: b.DeductedPoints,
		BonusPoints:    b.BonusPoints,
		Rank:           b.Rank,
		TotalMembers:   b.TotalMembers,
	}
	if !b.LastUpdated.IsZero() {
		dto.LastUpdated = b.LastUpdated.Format(time.RFC3339)
	}
	return dto
}

func toStatsDTO(s points.Stats) StatsDTO {
	return StatsDTO{
		BalanceDTO:     toBalanceDTO(s.Balance),
		CurrentStreak:  s.CurrentStreak,
		CompletionRate: s.CompletionRate,
		TasksCompleted: s.TasksCompleted,
	}
}

func toReconcileDTO(r points.ReconcileReport) ReconcileDTO {
	dto := ReconcileDTO{
		Recomputed: toBalanceDTO(r.Recomputed),
		Drift:      r.Drift,
		Drifted:    r.Drifted(),
	}
	if r.Previous != nil {
		prev := toBalanceDTO(*r.Previous)
		dto.Previous = &prev
	}
	return dto
}
