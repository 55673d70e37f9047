package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	schedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbsentry_scheduler_ticks_total",
			Help: "Total number of scheduler poll ticks",
		},
	)

	schedulesEligible = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbsentry_schedules_eligible",
			Help: "Number of schedules eligible to run at the last tick",
		},
	)

	runsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbsentry_runs_in_flight",
			Help: "Number of playbook runs currently executing",
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbsentry_runs_total",
			Help: "Total number of completed playbook runs by notification level",
		},
		[]string{"level"},
	)

	runFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbsentry_run_failures_total",
			Help: "Total number of playbook runs that ended in an error",
		},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbsentry_run_duration_seconds",
			Help:    "Playbook run time in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
		},
	)

	claimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbsentry_claim_conflicts_total",
			Help: "Total number of schedule claims lost to another worker",
		},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbsentry_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"sink", "status"},
	)

	agentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbsentry_agent_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"kind", "status"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordTick(eligible int) {
	schedulerTicks.Inc()
	schedulesEligible.Set(float64(eligible))
}

func IncrementInFlight() {
	runsInFlight.Inc()
}

func DecrementInFlight() {
	runsInFlight.Dec()
}

// RecordRun records a finished run. An empty level means the run failed
// before it was classified.
func RecordRun(level string, duration time.Duration, failed bool) {
	if level != "" {
		runsTotal.WithLabelValues(level).Inc()
	}
	if failed {
		runFailures.Inc()
	}
	runDuration.Observe(duration.Seconds())
}

func RecordClaimConflict() {
	claimConflicts.Inc()
}

func RecordNotification(sink, status string) {
	notifications.WithLabelValues(sink, status).Inc()
}

func RecordAgentCall(kind, status string) {
	agentCalls.WithLabelValues(kind, status).Inc()
}
