package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level metrics emitted by the concurrency manager's workers.
var (
	// RequestsTotal counts completed inference requests by protocol and
	// outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferperf_requests_total",
			Help: "Total number of inference requests issued by protocol and outcome",
		},
		[]string{"protocol", "outcome"},
	)

	// RequestLatency tracks client-observed request latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferperf_request_latency_seconds",
			Help:    "Client-observed inference request latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
		},
		[]string{"protocol"},
	)
)

// Step-level metrics emitted once per completed concurrency-manager step.
var (
	// ActiveConcurrency reports the concurrency level of the step in
	// progress.
	ActiveConcurrency = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferperf_active_concurrency",
			Help: "Concurrency level of the measurement step currently running",
		},
	)

	// InferPerSecond reports the inferences-per-second of the most
	// recently composed PerfStatus.
	InferPerSecond = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferperf_infer_per_second",
			Help: "Inferences per second from the most recently composed measurement",
		},
	)

	// WindowsSampled counts measurement windows taken per step, including
	// the ones the Stability Detector discarded.
	WindowsSampled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferperf_windows_sampled_total",
			Help: "Total number of measurement windows sampled across all steps",
		},
	)

	// StepsUnstable counts steps that hit max_measurement_count without
	// the Stability Detector converging.
	StepsUnstable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferperf_steps_unstable_total",
			Help: "Total number of steps that reported a measurement without converging",
		},
	)

	// SweepSteps counts completed sweep steps by outcome.
	SweepSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferperf_sweep_steps_total",
			Help: "Total number of sweep steps by outcome (ok, aborted)",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records one completed request's outcome and latency.
func RecordRequest(protocol, outcome string, latency time.Duration) {
	RequestsTotal.WithLabelValues(protocol, outcome).Inc()
	if outcome == "success" {
		RequestLatency.WithLabelValues(protocol).Observe(latency.Seconds())
	}
}

// RecordStep records the outcome of one composed PerfStatus.
func RecordStep(concurrency uint32, inferPerSec float64, unstable bool, windowsSampled int) {
	ActiveConcurrency.Set(float64(concurrency))
	InferPerSecond.Set(inferPerSec)
	WindowsSampled.Add(float64(windowsSampled))
	if unstable {
		StepsUnstable.Inc()
	}
}

// RecordSweepStep records one sweep step's outcome.
func RecordSweepStep(outcome string) {
	SweepSteps.WithLabelValues(outcome).Inc()
}
