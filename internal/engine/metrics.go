package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	processesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cadmonkey",
			Subsystem: "engine",
			Name:      "processes_active",
			Help:      "Inference subprocesses currently running",
		},
	)

	streamTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cadmonkey",
			Subsystem: "engine",
			Name:      "stream_terminations_total",
			Help:      "Stream sessions by stop reason",
		},
		[]string{"reason"},
	)

	tokensEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cadmonkey",
			Subsystem: "engine",
			Name:      "tokens_emitted_total",
			Help:      "Content fragments forwarded to clients",
		},
	)

	linesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cadmonkey",
			Subsystem: "engine",
			Name:      "lines_dropped_total",
			Help:      "Output lines classified as noise",
		},
	)

	launchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cadmonkey",
			Subsystem: "engine",
			Name:      "launch_failures_total",
			Help:      "Subprocesses that failed to start",
		},
	)

	hungProcesses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cadmonkey",
			Subsystem: "engine",
			Name:      "hung_processes_total",
			Help:      "Subprocesses that were not reaped within the kill grace period",
		},
	)
)

func init() {
	prometheus.MustRegister(processesActive, streamTerminations, tokensEmitted, linesDropped, launchFailures, hungProcesses)
}
