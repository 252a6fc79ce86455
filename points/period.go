package points

import (
	"fmt"
	"time"
)

// EvaluationPeriod decides how often a rule may award the same user.
type EvaluationPeriod string

const (
	PeriodDaily   EvaluationPeriod = "daily"
	PeriodWeekly  EvaluationPeriod = "weekly"
	PeriodMonthly EvaluationPeriod = "monthly"
	PeriodOnce    EvaluationPeriod = "once"
)

// Valid reports whether p is known. The empty period means daily.
func (p EvaluationPeriod) Valid() bool {
	switch p {
	case "", PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodOnce:
		return true
	}
	return false
}

// Key names the period containing t, in UTC.
func (p EvaluationPeriod) Key(t time.Time) string {
	t = t.UTC()
	switch p {
	case PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case PeriodMonthly:
		return t.Format("2006-01")
	case PeriodOnce:
		return "once"
	default:
		return t.Format("2006-01-02")
	}
}
