/*
handlers_test.go - HTTP tests for the points API

Tests drive the chi router end to end over the in-memory store:
- Completion -> approval -> balance
- Error mapping (400 / 404 / 409)
- Manual adjustments, ranking, rules, task stats and bonus checks
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/factory"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/points/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	router *chi.Mux
	svc    *points.Service
	store  *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	svc := points.NewService(mem, points.Options{PersistRanks: true})
	h := NewHandler(svc, mem, nil)
	return &testServer{
		router: NewRouter(h, RouterOptions{AllowedOrigins: []string{"http://localhost:5173"}}),
		svc:    svc,
		store:  mem,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) complete(t *testing.T, user, task string, pts int64) EntryDTO {
	t.Helper()
	rec := ts.do(t, "POST", "/api/groups/family/completions", CompletionRequest{
		UserID: user, TaskID: task, Points: pts,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[EntryDTO](t, rec)
}

func (ts *testServer) approve(t *testing.T, id string) EntryDTO {
	t.Helper()
	rec := ts.do(t, "POST", "/api/entries/"+id+"/approve", DecisionRequest{ApproverID: "parent"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[EntryDTO](t, rec)
}

// =============================================================================
// COMPLETION AND APPROVAL
// =============================================================================

func TestCompletionApprovalBalance(t *testing.T) {
	// GIVEN: A kid reports a finished chore
	// WHEN: A parent approves it
	// THEN: The entry is approved and the balance shows the points

	ts := newTestServer(t)

	created := ts.complete(t, "kid-1", "dishes", 10)
	assert.Equal(t, "pending", created.State)
	assert.Equal(t, "earned", created.Type)
	assert.Equal(t, "Task completed: dishes", created.Reason)

	approved := ts.approve(t, created.ID)
	assert.Equal(t, "approved", approved.State)
	assert.Equal(t, "parent", approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)

	rec := ts.do(t, "GET", "/api/groups/family/members/kid-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[BalanceDTO](t, rec)
	assert.Equal(t, int64(10), balance.TotalPoints)
	assert.Equal(t, int64(10), balance.EarnedPoints)
}

func TestApprove_TwiceIsConflict(t *testing.T) {
	ts := newTestServer(t)
	created := ts.complete(t, "kid-1", "dishes", 10)
	ts.approve(t, created.ID)

	rec := ts.do(t, "POST", "/api/entries/"+created.ID+"/approve", DecisionRequest{ApproverID: "parent"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
}

func TestReject_ThenApproveIsConflict(t *testing.T) {
	ts := newTestServer(t)
	created := ts.complete(t, "kid-1", "homework", 20)

	rec := ts.do(t, "POST", "/api/entries/"+created.ID+"/reject", DecisionRequest{ApproverID: "parent"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", decode[EntryDTO](t, rec).State)

	rec = ts.do(t, "POST", "/api/entries/"+created.ID+"/approve", DecisionRequest{ApproverID: "parent"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, "GET", "/api/groups/family/members/kid-1/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "a rejection never creates a balance")
}

func TestApprove_UnknownEntry(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/entries/missing/approve", DecisionRequest{ApproverID: "parent"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprove_MissingApprover(t *testing.T) {
	ts := newTestServer(t)
	created := ts.complete(t, "kid-1", "dishes", 10)

	rec := ts.do(t, "POST", "/api/entries/"+created.ID+"/approve", DecisionRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompletion_Errors(t *testing.T) {
	ts := newTestServer(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/groups/family/completions", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing task", func(t *testing.T) {
		rec := ts.do(t, "POST", "/api/groups/family/completions", CompletionRequest{UserID: "kid-1", Points: 5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative points", func(t *testing.T) {
		rec := ts.do(t, "POST", "/api/groups/family/completions", CompletionRequest{UserID: "kid-1", TaskID: "x", Points: -5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate completion", func(t *testing.T) {
		body := CompletionRequest{UserID: "kid-1", TaskID: "dishes", Points: 5, CompletionID: "c-1"}
		require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/api/groups/family/completions", body).Code)
		assert.Equal(t, http.StatusConflict, ts.do(t, "POST", "/api/groups/family/completions", body).Code)
	})
}

// =============================================================================
// AMOUNT UPDATES
// =============================================================================

func TestUpdateAmount(t *testing.T) {
	ts := newTestServer(t)
	created := ts.complete(t, "kid-1", "dishes", 10)
	amount := int64(12)

	rec := ts.do(t, "PUT", "/api/entries/"+created.ID+"/amount", UpdateAmountRequest{Amount: &amount})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(12), decode[EntryDTO](t, rec).Amount)

	ts.approve(t, created.ID)
	rec = ts.do(t, "PUT", "/api/entries/"+created.ID+"/amount", UpdateAmountRequest{Amount: &amount})
	assert.Equal(t, http.StatusConflict, rec.Code, "approved entries are frozen")

	rec = ts.do(t, "PUT", "/api/entries/"+created.ID+"/amount", UpdateAmountRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestGetHistory(t *testing.T) {
	ts := newTestServer(t)
	first := ts.complete(t, "kid-1", "dishes", 10)
	ts.complete(t, "kid-1", "laundry", 5)
	ts.approve(t, first.ID)

	rec := ts.do(t, "GET", "/api/groups/family/members/kid-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]EntryDTO](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, "laundry", all[0].TaskID, "newest first")

	rec = ts.do(t, "GET", "/api/groups/family/members/kid-1/history?state=approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decode[[]EntryDTO](t, rec)
	require.Len(t, approved, 1)
	assert.Equal(t, first.ID, approved[0].ID)

	rec = ts.do(t, "GET", "/api/groups/family/members/kid-1/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EntryDTO](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/groups/family/members/kid-1/history?state=done", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/groups/family/members/kid-1/history?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/groups/family/members/kid-1/history?limit=-1", nil).Code)
}

// =============================================================================
// ADJUSTMENTS AND RANKING
// =============================================================================

func TestAdjustmentAndRanking(t *testing.T) {
	// GIVEN: Two kids with approved chores
	// WHEN: A parent deducts points from the leader
	// THEN: The deduction applies immediately and the ranking flips

	ts := newTestServer(t)
	ts.approve(t, ts.complete(t, "kid-1", "dishes", 20).ID)
	ts.approve(t, ts.complete(t, "kid-2", "laundry", 15).ID)

	rec := ts.do(t, "POST", "/api/groups/family/adjustments", AdjustmentRequest{
		UserID: "kid-1", Amount: -10, Reason: "Broke a plate", AdminID: "parent",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	adj := decode[EntryDTO](t, rec)
	assert.Equal(t, "manual_deduct", adj.Type)
	assert.Equal(t, int64(10), adj.Amount)
	assert.Equal(t, int64(-10), adj.Delta)
	assert.Equal(t, "approved", adj.State)

	rec = ts.do(t, "GET", "/api/groups/family/ranking", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ranking := decode[[]BalanceDTO](t, rec)
	require.Len(t, ranking, 2)
	assert.Equal(t, "kid-2", ranking[0].UserID)
	assert.Equal(t, 1, ranking[0].Rank)
	assert.Equal(t, "kid-1", ranking[1].UserID)
	assert.Equal(t, int64(10), ranking[1].TotalPoints)
	assert.Equal(t, 2, ranking[1].TotalMembers)
}

func TestAdjustment_ZeroAmount(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/groups/family/adjustments", AdjustmentRequest{
		UserID: "kid-1", Amount: 0, Reason: "noop", AdminID: "parent",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRanking_EmptyGroup(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/groups/nobody/ranking", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]BalanceDTO](t, rec))
}

// =============================================================================
// RULES, TASK STATS AND BONUSES
// =============================================================================

func TestRules_CreateListDelete(t *testing.T) {
	ts := newTestServer(t)
	minStreak := 3

	rec := ts.do(t, "POST", "/api/groups/family/rules", factory.RuleJSON{
		GroupID:    "someone-else",
		Name:       "Three in a row",
		Type:       "streak_bonus",
		Points:     4,
		Conditions: &factory.ConditionsJSON{MinStreak: &minStreak},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[factory.RuleJSON](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "family", created.GroupID, "path group wins")
	assert.Equal(t, "daily", created.Period)

	rec = ts.do(t, "GET", "/api/groups/family/rules?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]factory.RuleJSON](t, rec), 1)

	assert.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/api/groups/family/rules/"+created.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "DELETE", "/api/groups/family/rules/"+created.ID, nil).Code)
}

func TestRules_OtherGroupCannotTouch(t *testing.T) {
	// GIVEN: A rule created for one household
	// WHEN: Another group posts the same rule ID or deletes it
	// THEN: Both requests get 404 and the rule stays with its household

	ts := newTestServer(t)
	minStreak := 3
	rule := factory.RuleJSON{
		Name:       "Three in a row",
		Type:       "streak_bonus",
		Points:     4,
		Conditions: &factory.ConditionsJSON{MinStreak: &minStreak},
	}

	rec := ts.do(t, "POST", "/api/groups/family/rules", rule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[factory.RuleJSON](t, rec)

	rule.ID = created.ID
	rec = ts.do(t, "POST", "/api/groups/intruders/rules", rule)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	rec = ts.do(t, "DELETE", "/api/groups/intruders/rules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, "GET", "/api/groups/family/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[[]factory.RuleJSON](t, rec)
	require.Len(t, rules, 1)
	assert.Equal(t, created.ID, rules[0].ID)

	rec = ts.do(t, "GET", "/api/groups/intruders/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]factory.RuleJSON](t, rec))
}

func TestRules_Invalid(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/groups/family/rules", factory.RuleJSON{Type: "streak_bonus", Points: 4})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskStatsAndBonusCheck(t *testing.T) {
	// GIVEN: A streak rule and task stats that satisfy it
	// WHEN: A bonus check runs twice
	// THEN: One pending bonus is awarded; the second check awards nothing

	ts := newTestServer(t)
	rec := ts.do(t, "POST", "/api/groups/family/rules", json.RawMessage(factory.StreakBonusJSON("streak", "family", 5, 5)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, "PUT", "/api/groups/family/members/kid-1/task-stats",
		json.RawMessage(`{"current_streak": 5, "completion_rate": "0.9", "tasks_completed": 12}`))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, "POST", "/api/groups/family/members/kid-1/bonus-check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	awarded := decode[[]EntryDTO](t, rec)
	require.Len(t, awarded, 1)
	assert.Equal(t, "bonus", awarded[0].Type)
	assert.Equal(t, "pending", awarded[0].State)
	assert.Equal(t, "streak", awarded[0].RuleID)

	rec = ts.do(t, "POST", "/api/groups/family/members/kid-1/bonus-check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]EntryDTO](t, rec))

	rec = ts.do(t, "GET", "/api/groups/family/members/kid-1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsDTO](t, rec)
	assert.Equal(t, 5, stats.CurrentStreak)
	assert.Equal(t, "0.9", stats.CompletionRate.String())
}

func TestTaskStats_OutOfRange(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "PUT", "/api/groups/family/members/kid-1/task-stats",
		json.RawMessage(`{"current_streak": 1, "completion_rate": 1.2}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestReconcile_RepairsDrift(t *testing.T) {
	ts := newTestServer(t)
	ts.approve(t, ts.complete(t, "kid-1", "dishes", 10).ID)

	b, err := ts.store.GetBalance(t.Context(), "kid-1", "family")
	require.NoError(t, err)
	b.TotalPoints = 999
	require.NoError(t, ts.store.PutBalance(t.Context(), b))

	rec := ts.do(t, "POST", "/api/groups/family/members/kid-1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[ReconcileDTO](t, rec)
	assert.True(t, report.Drifted)
	assert.Equal(t, int64(10), report.Recomputed.TotalPoints)
	require.NotNil(t, report.Previous)
	assert.Equal(t, int64(999), report.Previous.TotalPoints)
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.complete(t, "kid-1", "dishes", 10)

	rec := ts.do(t, "GET", "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "points_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&points.ValidationError{Field: "x"}))
	assert.Equal(t, http.StatusNotFound, statusFor(points.EntryNotFound("e")))
	assert.Equal(t, http.StatusConflict, statusFor(&points.InvalidStateError{}))
	assert.Equal(t, http.StatusConflict, statusFor(points.ErrDuplicateIdempotencyKey))
	assert.Equal(t, http.StatusConflict, statusFor(&points.ConflictError{}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
