package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbeRuns tracks health probe executions per probe and status
	ProbeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failsafe_probe_runs_total",
			Help: "Total number of health probe executions",
		},
		[]string{"probe", "status"},
	)

	// ProbeDuration tracks how long each probe takes
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failsafe_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"probe"},
	)

	// ConsecutiveFailures tracks the current failure streak of each probe
	ConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failsafe_probe_consecutive_failures",
			Help: "Consecutive non-passing results of a health probe",
		},
		[]string{"probe"},
	)

	// Verdict is 1 for the verdict of the most recent monitoring pass, 0 otherwise
	Verdict = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failsafe_health_verdict",
			Help: "Current overall health verdict (1 = active)",
		},
		[]string{"verdict"},
	)

	// RecoveryPlans tracks recovery plan executions per plan and outcome
	RecoveryPlans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failsafe_recovery_plans_total",
			Help: "Total number of recovery plan executions",
		},
		[]string{"plan", "outcome"},
	)

	// RecoveryStepDuration tracks recovery action latency
	RecoveryStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failsafe_recovery_step_duration_seconds",
			Help:    "Recovery action duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"action"},
	)

	// CheckpointOps tracks checkpoint operations per operation and result
	CheckpointOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failsafe_checkpoint_operations_total",
			Help: "Total number of checkpoint operations",
		},
		[]string{"op", "result"},
	)

	// CheckpointsRetained tracks how many checkpoints are on disk
	CheckpointsRetained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failsafe_checkpoints_retained",
			Help: "Number of checkpoints currently retained",
		},
	)

	// MonitorInterval tracks the current monitoring interval
	MonitorInterval = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failsafe_monitor_interval_seconds",
			Help: "Current monitoring loop interval in seconds",
		},
	)
)

// SetVerdict marks verdict as the active one.
func SetVerdict(verdict string, all []string) {
	for _, v := range all {
		if v == verdict {
			Verdict.WithLabelValues(v).Set(1)
		} else {
			Verdict.WithLabelValues(v).Set(0)
		}
	}
}

// Result maps an error to an outcome label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
