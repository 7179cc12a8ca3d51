// Package metrics defines the Prometheus metrics of tlcrun.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tlcrun"

var (
	// Frames counts classified output frames.
	// Labels: kind (progress, error, text, ...)
	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "output",
		Name:      "frames_total",
		Help:      "Checker output frames by event kind",
	}, []string{"kind"})

	// Anomalies counts malformed marker sequences in checker output.
	Anomalies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "output",
		Name:      "anomalies_total",
		Help:      "Protocol anomalies in checker output",
	})

	// Runs counts finished runs.
	// Labels: status (success, error, stopped, tooling-failure)
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "finished_total",
		Help:      "Finished model checking runs by final status",
	}, []string{"status"})

	// Rejected counts start requests refused because a run was active.
	Rejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "rejected_total",
		Help:      "Start requests rejected while another run was active",
	})

	// Active is 1 while a checker process runs.
	Active = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "active",
		Help:      "Whether a model checking process is running",
	})

	// RunDuration measures wall time of runs.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "duration_seconds",
		Help:      "Wall time of model checking runs",
		Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 3600, 14400},
	})

	// DistinctStates is the distinct state count of the current run.
	DistinctStates = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "check",
		Name:      "distinct_states",
		Help:      "Distinct states found by the current run",
	})

	// Deliveries counts snapshots handed to the attached consumer.
	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "deliveries_total",
		Help:      "Result snapshots delivered to the attached consumer",
	})
)
