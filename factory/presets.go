package factory

import (
	"encoding/json"
)

// Preset rule definitions for a new household. They build JSON the same
// way the admin UI does, so they go through ParseRule like any other rule.

// StreakBonusJSON returns JSON for "complete chores N days in a row".
func StreakBonusJSON(id, groupID string, days int, bonus int64) string {
	return presetJSON(map[string]interface{}{
		"id":       id,
		"group_id": groupID,
		"name":     "Streak bonus",
		"type":     "streak_bonus",
		"points":   bonus,
		"period":   "weekly",
		"conditions": map[string]interface{}{
			"min_streak": days,
		},
	})
}

// CompletionRateJSON returns JSON for a monthly reliability bonus.
// rate is a decimal string such as "0.9".
func CompletionRateJSON(id, groupID string, rate string, bonus int64) string {
	return presetJSON(map[string]interface{}{
		"id":       id,
		"group_id": groupID,
		"name":     "Reliability bonus",
		"type":     "completion_rate",
		"points":   bonus,
		"period":   "monthly",
		"conditions": map[string]interface{}{
			"min_completion_rate": rate,
		},
	})
}

// TaskMilestoneJSON returns JSON for a one-off bonus after n chores.
func TaskMilestoneJSON(id, groupID string, tasks int, bonus int64) string {
	return presetJSON(map[string]interface{}{
		"id":       id,
		"group_id": groupID,
		"name":     "Milestone bonus",
		"type":     "task_completion",
		"points":   bonus,
		"period":   "once",
		"conditions": map[string]interface{}{
			"min_tasks": tasks,
		},
	})
}

func presetJSON(m map[string]interface{}) string {
	b, _ := json.MarshalIndent(m, "", "  ")
	return string(b)
}
