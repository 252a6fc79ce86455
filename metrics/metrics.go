// Package metrics exposes ledger activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/points-ledger/points"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

var EntriesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "ledger",
	Name:      "entries_appended_total",
	Help:      "Total entries appended, by entry type.",
}, []string{"type"})

var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "approval",
	Name:      "decisions_total",
	Help:      "Total committed approval decisions, by resulting state.",
}, []string{"state"})

var DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "points",
	Subsystem: "approval",
	Name:      "decision_seconds",
	Help:      "Time from decision request to commit, retries included.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
})

var Conflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "approval",
	Name:      "version_conflicts_total",
	Help:      "Total optimistic-concurrency conflicts seen (each retry counts once).",
})

var BonusOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "bonus",
	Name:      "rule_outcomes_total",
	Help:      "Bonus rule evaluations that awarded or failed.",
}, []string{"outcome"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route pattern, method and status code.",
}, []string{"route", "method", "code"})

var HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "points",
	Subsystem: "http",
	Name:      "request_seconds",
	Help:      "HTTP request latency by route pattern.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})

// Recorder implements points.Recorder on the package metrics.
type Recorder struct{}

var _ points.Recorder = Recorder{}

func (Recorder) EntryAppended(t points.EntryType) {
	EntriesAppended.WithLabelValues(string(t)).Inc()
}

func (Recorder) Decision(state points.ApprovalState, took time.Duration) {
	Decisions.WithLabelValues(string(state)).Inc()
	DecisionLatency.Observe(took.Seconds())
}

func (Recorder) Conflict() { Conflicts.Inc() }

// Rule IDs are not used as labels; a household can create any number of rules.
func (Recorder) BonusAwarded(points.RuleID) { BonusOutcomes.WithLabelValues("awarded").Inc() }
func (Recorder) BonusFailed(points.RuleID)  { BonusOutcomes.WithLabelValues("failed").Inc() }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts requests by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
