// Package obsmetrics exposes Prometheus instrumentation for the convergence
// loop, load balancer, and prepare routines.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Convergence loop metrics.

	ConvergenceTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hostctl_convergence_ticks_total",
			Help: "Total number of convergence loop ticks processed.",
		},
	)

	ConvergenceStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostctl_convergence_state_transitions_total",
			Help: "Total number of successful currentState transitions, by destination state.",
		},
		[]string{"to"},
	)

	ConvergenceOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostctl_convergence_outcomes_total",
			Help: "Total converge() outcomes by classification.",
		},
		[]string{"outcome"},
	)

	ConvergenceForcedUnfreezeTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hostctl_convergence_forced_unfreeze_total",
			Help: "Total number of times the loop force-unfroze the node admin after a stuck freeze.",
		},
	)

	ConvergenceCurrentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostctl_convergence_current_state",
			Help: "1 for the currently achieved state, 0 otherwise.",
		},
		[]string{"state"},
	)

	FetchContainersDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostctl_fetch_containers_duration_seconds",
			Help:    "Duration of fetchContainersToRun repository calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Load balancer metrics.

	LBSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostctl_lb_selections_total",
			Help: "Total number of load balancer selections, by cluster.",
		},
		[]string{"cluster"},
	)

	LBBusyReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostctl_lb_busy_reports_total",
			Help: "Total number of busy=true feedback reports, by cluster.",
		},
		[]string{"cluster"},
	)

	LBPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostctl_lb_position",
			Help: "Current deficit cursor position, by cluster.",
		},
		[]string{"cluster"},
	)

	// Prepare metrics.

	PrepareDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostctl_prepare_duration_seconds",
			Help:    "Duration of Prepare calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	PrepareRetiredNodesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hostctl_prepare_retired_nodes_total",
			Help: "Total number of surplus nodes retired by Prepare.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConvergenceTicksTotal,
		ConvergenceStateTransitionsTotal,
		ConvergenceOutcomesTotal,
		ConvergenceForcedUnfreezeTotal,
		ConvergenceCurrentState,
		FetchContainersDuration,
		LBSelectionsTotal,
		LBBusyReportsTotal,
		LBPosition,
		PrepareDuration,
		PrepareRetiredNodesTotal,
	)
}

// Handler returns the Prometheus HTTP exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an elapsed duration for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
