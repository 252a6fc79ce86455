/*
scenarios.go - Demo households for local development and demos

PURPOSE:
  Provides pre-built households that populate the store with realistic
  ledger activity. Each scenario resets the store, then drives the points
  service exactly the way the chore app and the admin UI would.

AVAILABLE SCENARIOS:
  first-week:   Chores completed, some approved, one rejected, one pending
  streak-bonus: Streak rule fires after a completion; bonus awaits approval
  leaderboard:  Three kids, two tied, to show the deterministic tie-break
  corrections:  Manual adjustments and a penalty

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "streak-bonus"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - factory/presets.go: Rule JSON used by the scenarios
*/
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/points-ledger/factory"
	"github.com/warp/points-ledger/points"
)

// DemoGroup is the household every scenario populates.
const DemoGroup = "demo-family"

const demoParent = "parent"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(hh *household)
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "first-week",
			Name:        "First Week",
			Description: "Two kids complete chores; parent approves most, rejects one, leaves one pending",
		},
		load: loadFirstWeek,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "streak-bonus",
			Name:        "Streak Bonus",
			Description: "Five day streak rule awards a pending bonus on the next completion",
		},
		load: loadStreakBonus,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "leaderboard",
			Name:        "Leaderboard",
			Description: "Three kids, two tied on points; ties are broken by user ID",
		},
		load: loadLeaderboard,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "corrections",
			Name:        "Corrections",
			Description: "Manual credit and debit plus an approved penalty",
		},
		load: loadCorrections,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a demo household.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}
	if h.resetter == nil {
		writeError(w, http.StatusNotImplemented, "Store does not support scenarios", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.LoadScenarioByID(r.Context(), s.ID); err != nil {
		h.logger.Error("failed to load scenario", zap.String("scenario", s.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = s.ID

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": s.ID,
		"group_id": DemoGroup,
	})
}

// LoadScenarioByID resets the store and runs the scenario's loader.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	s, ok := findScenario(id)
	if !ok {
		return &points.NotFoundError{Kind: "scenario", ID: id}
	}
	if h.resetter == nil {
		return errNoReset
	}
	if err := h.resetter.Reset(ctx); err != nil {
		return err
	}

	hh := &household{ctx: ctx, svc: h.Service, rules: h.RuleFactory}
	s.load(hh)
	return hh.err
}

var errNoReset = errors.New("store does not support reset")

// =============================================================================
// HOUSEHOLD BUILDER
// =============================================================================

// household drives the service for one scenario. Every step is skipped once
// an earlier step failed; the first error is kept in err.
type household struct {
	ctx   context.Context
	svc   *points.Service
	rules *factory.RuleFactory
	err   error
}

func (hh *household) complete(user, task string, pts int64) points.Entry {
	if hh.err != nil {
		return points.Entry{}
	}
	e, err := hh.svc.AwardForTaskCompletion(hh.ctx, points.TaskCompletion{
		UserID:  points.UserID(user),
		GroupID: DemoGroup,
		TaskID:  task,
		Points:  pts,
	})
	hh.err = err
	return e
}

func (hh *household) approve(e points.Entry) {
	if hh.err != nil {
		return
	}
	_, hh.err = hh.svc.Approve(hh.ctx, e.ID, demoParent)
}

func (hh *household) reject(e points.Entry) {
	if hh.err != nil {
		return
	}
	_, hh.err = hh.svc.Reject(hh.ctx, e.ID, demoParent)
}

func (hh *household) adjust(user string, amount int64, reason string) {
	if hh.err != nil {
		return
	}
	_, hh.err = hh.svc.ManuallyAdjust(hh.ctx, points.ManualAdjustment{
		UserID:  points.UserID(user),
		GroupID: DemoGroup,
		Amount:  amount,
		Reason:  reason,
		AdminID: demoParent,
	})
}

// penalty appends a penalty entry and approves it.
func (hh *household) penalty(user string, amount int64, reason string) {
	if hh.err != nil {
		return
	}
	id, err := hh.svc.Ledger.Append(hh.ctx, points.Entry{
		UserID:    points.UserID(user),
		GroupID:   DemoGroup,
		Type:      points.TypePenalty,
		Amount:    amount,
		Reason:    reason,
		CreatedBy: demoParent,
	})
	if err != nil {
		hh.err = err
		return
	}
	hh.approve(points.Entry{ID: id})
}

func (hh *household) rule(ruleJSON string) {
	if hh.err != nil {
		return
	}
	r, err := hh.rules.ParseRule(ruleJSON)
	if err != nil {
		hh.err = err
		return
	}
	_, hh.err = hh.svc.SaveRule(hh.ctx, r)
}

func (hh *household) taskStats(user string, streak int, rate string, tasks int) {
	if hh.err != nil {
		return
	}
	completion, err := decimal.NewFromString(rate)
	if err != nil {
		hh.err = err
		return
	}
	hh.err = hh.svc.SaveTaskStats(hh.ctx, points.UserID(user), DemoGroup, points.TaskStats{
		CurrentStreak:  streak,
		CompletionRate: completion,
		TasksCompleted: tasks,
	})
}

// =============================================================================
// LOADERS
// =============================================================================

func loadFirstWeek(hh *household) {
	hh.approve(hh.complete("mia", "dishes", 10))
	hh.approve(hh.complete("mia", "laundry", 15))
	hh.reject(hh.complete("mia", "homework", 20))
	hh.complete("mia", "trash", 5) // left pending

	hh.approve(hh.complete("leo", "dishes", 10))
	hh.approve(hh.complete("leo", "vacuum", 12))
}

func loadStreakBonus(hh *household) {
	hh.rule(factory.StreakBonusJSON("streak-5", DemoGroup, 5, 5))
	hh.taskStats("mia", 5, "0.9", 12)

	// The completion triggers the streak rule; both await approval.
	hh.approve(hh.complete("mia", "dishes", 10))
	if hh.err != nil {
		return
	}
	pending := points.StatePending
	entries, err := hh.svc.GetHistory(hh.ctx, "mia", DemoGroup, &pending, 0)
	if err != nil {
		hh.err = err
		return
	}
	for _, e := range entries {
		if e.Type == points.TypeBonus {
			hh.approve(e)
		}
	}
}

func loadLeaderboard(hh *household) {
	hh.approve(hh.complete("ava", "dishes", 30))
	hh.approve(hh.complete("leo", "garden", 30))
	hh.approve(hh.complete("mia", "laundry", 25))
	hh.approve(hh.complete("mia", "trash", 10))
}

func loadCorrections(hh *household) {
	hh.approve(hh.complete("leo", "dishes", 10))
	hh.adjust("leo", 20, "Helped grandma all afternoon")
	hh.adjust("leo", -5, "Double-counted chore last week")
	hh.penalty("leo", 3, "Left bike in the driveway")
}
