package perfcore

import (
	"math"

	"github.com/infer-perf/inferperf/internal/inferclient"
)

// WindowStats is the per-window client-side result the Sampler computes
// from a drained Timestamp snapshot.
type WindowStats struct {
	Count         uint64
	MinLatencyNS  int64
	MaxLatencyNS  int64
	AvgLatencyNS  int64
	StdUS         int64
	ClientStartNS int64
	ClientEndNS   int64
}

// Sampler extracts a measurement window from the shared timestamp stream
// and computes per-window client-side statistics.
type Sampler struct {
	controller *Controller
}

// NewSampler builds a Sampler bound to controller.
func NewSampler(controller *Controller) *Sampler {
	return &Sampler{controller: controller}
}

// Sample sleeps for the configured measurement window (with slack), then
// drains the shared timestamp buffer and per-worker context stats and
// computes one window's statistics. The returned inferclient.ContextStat
// values are the start- and end-of-window snapshots, not yet differenced
// (the Summary Composer does that).
func (s *Sampler) Sample() (WindowStats, inferclient.ContextStat, inferclient.ContextStat, error) {
	startStats := s.controller.snapshotContextStats()

	sleepFor := s.controller.window.sleepDuration()
	exited := s.controller.sleepOrExit(sleepFor)

	timestamps := s.controller.drainStatus()
	endStats := s.controller.snapshotContextStats()

	if exited {
		return WindowStats{}, startStats, endStats, NewMeasurementError(StageInterrupt, "sample", ErrInterrupted)
	}

	stats, err := computeWindowStats(timestamps, s.controller.window.length.Nanoseconds())
	if err != nil {
		return WindowStats{}, startStats, endStats, err
	}
	return stats, startStats, endStats, nil
}

// computeWindowStats does the window-selection and per-window statistics
// math directly against a drained snapshot, independent of any
// Controller/Sampler wiring, so it can be unit tested against literal
// timestamp fixtures.
func computeWindowStats(timestamps []Timestamp, windowNS int64) (WindowStats, error) {
	valid := make([]Timestamp, 0, len(timestamps))
	for _, t := range timestamps {
		if t.Valid() {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return WindowStats{}, NewMeasurementError(StageTransient, "sample window", ErrNoValidTimestamps)
	}

	t0 := valid[0].StartNS
	tN := valid[0].EndNS
	for _, t := range valid[1:] {
		if t.StartNS < t0 {
			t0 = t.StartNS
		}
		if t.EndNS > tN {
			tN = t.EndNS
		}
	}

	offset := (tN - (t0 + windowNS)) / 2
	if offset < 0 {
		offset = 0
	}
	clientStart := t0 + offset
	clientEnd := clientStart + windowNS

	var (
		n                uint64
		minLatency       int64 = math.MaxInt64
		maxLatency       int64
		sumLatency       int64
		sumSquareLatency float64
	)
	for _, t := range valid {
		if t.EndNS < clientStart || t.EndNS > clientEnd {
			continue
		}
		latency := t.LatencyNS()
		n++
		if latency < minLatency {
			minLatency = latency
		}
		if latency > maxLatency {
			maxLatency = latency
		}
		sumLatency += latency
		latencyUS := float64(latency) / 1000.0
		sumSquareLatency += latencyUS * latencyUS
	}
	if n == 0 {
		return WindowStats{}, NewMeasurementError(StageTransient, "sample window", ErrNoValidTimestamps)
	}

	avgLatency := sumLatency / int64(n)
	avgLatencyUS := float64(avgLatency) / 1000.0
	variance := sumSquareLatency/float64(n) - avgLatencyUS*avgLatencyUS
	if variance < 0 {
		variance = 0
	}
	std := int64(math.Sqrt(variance))

	return WindowStats{
		Count:         n,
		MinLatencyNS:  minLatency,
		MaxLatencyNS:  maxLatency,
		AvgLatencyNS:  avgLatency,
		StdUS:         std,
		ClientStartNS: clientStart,
		ClientEndNS:   clientEnd,
	}, nil
}
