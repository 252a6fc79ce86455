/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes the points service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the points package.

ENDPOINTS:
  Members:
    POST   /api/groups/{group}/completions                 Award for a finished chore
    GET    /api/groups/{group}/members/{user}/history      Entry history (?state=&limit=)
    GET    /api/groups/{group}/members/{user}/balance      Cached balance
    GET    /api/groups/{group}/members/{user}/stats        Balance + task stats
    PUT    /api/groups/{group}/members/{user}/task-stats   Ingest streak/completion data
    POST   /api/groups/{group}/members/{user}/bonus-check  Evaluate bonus rules now
    POST   /api/groups/{group}/members/{user}/reconcile    Rebuild balance from history

  Group:
    GET    /api/groups/{group}/ranking                     Leaderboard
    POST   /api/groups/{group}/adjustments                 Manual adjustment
    GET    /api/groups/{group}/rules                       List rules (?active=true)
    POST   /api/groups/{group}/rules                       Create or replace a rule
    DELETE /api/groups/{group}/rules/{rule}                Delete a rule

  Entries:
    POST   /api/entries/{id}/approve
    POST   /api/entries/{id}/reject
    PUT    /api/entries/{id}/amount                        Only while pending

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Entry, rule or balance not found
  - 409: Illegal transition, duplicate idempotency key, version conflict
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Approver and admin IDs are taken from the request body
  and must be checked by the gateway in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo households
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/points-ledger/factory"
	"github.com/warp/points-ledger/points"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can be wiped for demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service     *points.Service
	RuleFactory *factory.RuleFactory

	logger   *zap.Logger
	resetter Resetter // nil disables scenario loading

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over svc. backend is only used to reset data
// when a demo scenario is loaded; pass nil to disable that.
func NewHandler(svc *points.Service, backend points.Backend, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		Service:     svc,
		RuleFactory: factory.NewRuleFactory(),
		logger:      logger,
	}
	if r, ok := backend.(Resetter); ok {
		h.resetter = r
	}
	return h
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// RecordCompletion creates a pending earned entry for a finished chore.
// POST /api/groups/{group}/completions
func (h *Handler) RecordCompletion(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entry, err := h.Service.AwardForTaskCompletion(r.Context(), points.TaskCompletion{
		UserID:       points.UserID(req.UserID),
		GroupID:      groupParam(r),
		TaskID:       req.TaskID,
		TaskTitle:    req.TaskTitle,
		Points:       req.Points,
		CompletionID: req.CompletionID,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to record completion", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// GetHistory returns a member's entries, newest first.
// GET /api/groups/{group}/members/{user}/history?state=pending&limit=20
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var state *points.ApprovalState
	if s := q.Get("state"); s != "" {
		parsed, err := points.ParseApprovalState(s)
		if err != nil {
			h.writeDomainError(w, "Invalid state filter", err)
			return
		}
		state = &parsed
	}

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := h.Service.GetHistory(r.Context(), userParam(r), groupParam(r), state, limit)
	if err != nil {
		h.writeDomainError(w, "Failed to get history", err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetBalance returns the cached balance.
// GET /api/groups/{group}/members/{user}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Service.GetBalance(r.Context(), userParam(r), groupParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// GetStats returns the balance together with task statistics.
// GET /api/groups/{group}/members/{user}/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.GetStats(r.Context(), userParam(r), groupParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get stats", err)
		return
	}

	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// PutTaskStats stores streak and completion data for a member.
// PUT /api/groups/{group}/members/{user}/task-stats
func (h *Handler) PutTaskStats(w http.ResponseWriter, r *http.Request) {
	var req TaskStatsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.Service.SaveTaskStats(r.Context(), userParam(r), groupParam(r), points.TaskStats{
		CurrentStreak:  req.CurrentStreak,
		CompletionRate: req.CompletionRate,
		TasksCompleted: req.TasksCompleted,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to save task stats", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CheckBonuses evaluates the group's rules for a member.
// POST /api/groups/{group}/members/{user}/bonus-check
func (h *Handler) CheckBonuses(w http.ResponseWriter, r *http.Request) {
	awarded, err := h.Service.CheckBonuses(r.Context(), userParam(r), groupParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to check bonuses", err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTOs(awarded))
}

// Reconcile rebuilds the cached balance from approved history.
// POST /api/groups/{group}/members/{user}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.Reconcile(r.Context(), userParam(r), groupParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileDTO(report))
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// GetRanking returns the group's leaderboard.
// GET /api/groups/{group}/ranking
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.Service.GetGroupRanking(r.Context(), groupParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get ranking", err)
		return
	}

	dtos := make([]BalanceDTO, len(ranked))
	for i, b := range ranked {
		dtos[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment applies a manual correction, approved immediately.
// POST /api/groups/{group}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entry, err := h.Service.ManuallyAdjust(r.Context(), points.ManualAdjustment{
		UserID:  points.UserID(req.UserID),
		GroupID: groupParam(r),
		Amount:  req.Amount,
		Reason:  req.Reason,
		AdminID: req.AdminID,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to apply adjustment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// ListRules returns the group's bonus rules.
// GET /api/groups/{group}/rules?active=true
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	rules, err := h.Service.ListRules(r.Context(), groupParam(r), activeOnly)
	if err != nil {
		h.writeDomainError(w, "Failed to list rules", err)
		return
	}

	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = h.RuleFactory.ToJSON(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule stores a rule from its JSON definition. The group in the path
// wins over any group_id in the body.
// POST /api/groups/{group}/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if !decodeBody(w, r, &rj) {
		return
	}
	rj.GroupID = string(groupParam(r))

	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		h.writeDomainError(w, "Invalid rule", err)
		return
	}
	saved, err := h.Service.SaveRule(r.Context(), rule)
	if err != nil {
		h.writeDomainError(w, "Failed to save rule", err)
		return
	}

	writeJSON(w, http.StatusCreated, h.RuleFactory.ToJSON(saved))
}

// DeleteRule removes one of the group's rules.
// DELETE /api/groups/{group}/rules/{rule}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := points.RuleID(chi.URLParam(r, "rule"))

	if err := h.Service.DeleteRule(r.Context(), groupParam(r), id); err != nil {
		h.writeDomainError(w, "Failed to delete rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// ApproveEntry approves a pending entry and projects it onto the balance.
// POST /api/entries/{id}/approve
func (h *Handler) ApproveEntry(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Service.Approve, "Failed to approve entry")
}

// RejectEntry rejects a pending entry.
// POST /api/entries/{id}/reject
func (h *Handler) RejectEntry(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Service.Reject, "Failed to reject entry")
}

func (h *Handler) decide(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, points.EntryID, string) (points.Entry, error),
	failure string,
) {
	var req DecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entry, err := fn(r.Context(), points.EntryID(chi.URLParam(r, "id")), req.ApproverID)
	if err != nil {
		h.writeDomainError(w, failure, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// UpdateAmount changes the amount of a pending entry.
// PUT /api/entries/{id}/amount
func (h *Handler) UpdateAmount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required", nil)
		return
	}

	entry, err := h.Service.UpdateAmount(r.Context(), points.EntryID(chi.URLParam(r, "id")), *req.Amount)
	if err != nil {
		h.writeDomainError(w, "Failed to update amount", err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// =============================================================================
// HELPERS
// =============================================================================

func groupParam(r *http.Request) points.GroupID {
	return points.GroupID(chi.URLParam(r, "group"))
}

func userParam(r *http.Request) points.UserID {
	return points.UserID(chi.URLParam(r, "user"))
}

// decodeBody writes a 400 and returns false if the body is not valid JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps a points error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, points.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, points.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, points.ErrInvalidState),
		errors.Is(err, points.ErrDuplicateIdempotencyKey),
		errors.Is(err, points.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
