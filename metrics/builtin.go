// Package metrics exposes check and stage outcomes as Prometheus metrics,
// written to a node-exporter textfile after a run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "vischeck"

	ChecksName        = "checks_total"
	CheckDurationName = "check_duration_seconds"
	StageDurationName = "stage_duration_seconds"
	StageFailuresName = "stage_failures_total"
	ProbeResultsName  = "probe_results_total"
	LastRunName       = "last_run_timestamp_seconds"
)

// Outcome label values.
const (
	OutcomePassed = "passed"
	OutcomeFailed = "failed"
)

// stageBuckets cover quick selector waits up to the 90s navigations.
var stageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 90}

// BuiltinMetrics are the collectors vischeck records into.
type BuiltinMetrics struct {
	// Runner-emitted.
	Checks        *prometheus.CounterVec
	CheckDuration *prometheus.HistogramVec
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	// Preflight.
	ProbeResults *prometheus.CounterVec

	LastRun prometheus.Gauge
}

// RegisterBuiltinMetrics creates the builtin metrics and registers them
// with registry.
func RegisterBuiltinMetrics(registry prometheus.Registerer) *BuiltinMetrics {
	bm := &BuiltinMetrics{
		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      ChecksName,
			Help:      "Finished checks by outcome.",
		}, []string{"check", "outcome"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      CheckDurationName,
			Help:      "Wall-clock duration of a check, browser launch to teardown.",
			Buckets:   stageBuckets,
		}, []string{"check"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      StageDurationName,
			Help:      "Duration of a check stage.",
			Buckets:   stageBuckets,
		}, []string{"check", "stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      StageFailuresName,
			Help:      "Stages that ended a check with an error.",
		}, []string{"check", "stage"}),
		ProbeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      ProbeResultsName,
			Help:      "Preflight endpoint probes by status.",
		}, []string{"endpoint", "status"}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      LastRunName,
			Help:      "Unix time the last run finished.",
		}),
	}
	registry.MustRegister(
		bm.Checks, bm.CheckDuration, bm.StageDuration, bm.StageFailures, bm.ProbeResults, bm.LastRun,
	)
	return bm
}
