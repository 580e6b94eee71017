package flowplan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Plan statuses used as the status label of flowplan_plans_total.
const (
	statusSuccess  = "success"
	statusInvalid  = "invalid"
	statusDiverged = "diverged"
	statusFailed   = "failed"
)

// metrics is a container of metrics for a planner. It also receives rewrite
// engine events.
type metrics struct {
	plansTotal       *prometheus.CounterVec
	ruleApplications *prometheus.CounterVec
	ruleViolations   *prometheus.CounterVec

	planningSeconds prometheus.Histogram
	phaseSeconds    *prometheus.HistogramVec
	stepsPerPlan    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		plansTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flowplan_plans_total",
			Help: "Total number of planned element graphs by status",
		}, []string{"status"}),
		ruleApplications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flowplan_rule_applications_total",
			Help: "Total number of committed rule applications by phase and rule",
		}, []string{"phase", "rule"}),
		ruleViolations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flowplan_rule_violations_total",
			Help: "Total number of rule applications rejected because they failed or would have produced an invalid graph",
		}, []string{"phase", "rule"}),

		planningSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "flowplan_planning_seconds",
			Help: "Number of seconds taken to plan an element graph, including partitioning",

			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: time.Hour,
		}),
		phaseSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "flowplan_phase_seconds",
			Help: "Number of seconds taken by a single rewrite phase",

			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: time.Hour,
		}, []string{"phase"}),
		stepsPerPlan: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "flowplan_steps_per_plan",
			Help:    "Number of steps produced per planned element graph",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

func (m *metrics) RuleApplied(phase, rule string) {
	m.ruleApplications.WithLabelValues(phase, rule).Inc()
}

func (m *metrics) RuleViolated(phase, rule string) {
	m.ruleViolations.WithLabelValues(phase, rule).Inc()
}

func (m *metrics) PhaseCompleted(phase string, d time.Duration) {
	m.phaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}
