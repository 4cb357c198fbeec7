// Package perfcore implements the concurrency manager: the load generator,
// sampler, stability detector, and summary composer that turn a stream of
// client-observed timestamps and server-reported counters into a single
// PerfStatus per operating point.
package perfcore

import "time"

// Timestamp is one (start, end) pair of wall-clock Unix nanoseconds, as
// the transport's Timing reported them, recording a single completed (or
// failed) inference request. StartNS <= EndNS by
// construction; a failed request is recorded with EndNS < StartNS as a
// sentinel, and the Sampler filters it out of every window.
type Timestamp struct {
	StartNS int64
	EndNS   int64
}

// Valid reports whether t is a real measurement rather than a failure
// sentinel.
func (t Timestamp) Valid() bool {
	return t.StartNS <= t.EndNS
}

// LatencyNS returns the request latency in nanoseconds. Only meaningful
// when Valid() is true.
func (t Timestamp) LatencyNS() int64 {
	return t.EndNS - t.StartNS
}

// PerfStatus is one measurement: the self-consistent summary of client and
// server observations for a single (concurrency, batch_size) operating
// point.
type PerfStatus struct {
	Concurrency uint32
	BatchSize   uint32

	// Server-reported deltas across the measurement window.
	ServerRequestCount  uint64
	ServerCummTimeNS    int64
	ServerQueueTimeNS   int64
	ServerComputeTimeNS int64

	// Client-observed statistics over the sampled window.
	ClientRequestCount uint64
	ClientDurationNS   int64
	MinLatencyNS       int64
	MaxLatencyNS       int64
	AvgLatencyNS       int64
	StdUS              int64

	// Client-library per-context averages over the window.
	AvgRequestTimeNS int64
	AvgSendTimeNS    int64
	AvgReceiveTimeNS int64

	// Derived.
	InferPerSec float64

	// Correlation identifiers, never part of measurement semantics.
	RunID  string
	StepID string

	// Unstable is set when max_measurement_count windows elapsed without
	// the Stability Detector converging; the step still returns the most
	// recent sample rather than failing.
	Unstable bool
}

// measurementWindow is the caller-configured length of one sample, and the
// slack multiplier the Sampler sleeps for so the interior window of that
// length is reliably populated.
type measurementWindow struct {
	length time.Duration
}

func (w measurementWindow) sleepDuration() time.Duration {
	return time.Duration(float64(w.length) * 1.2)
}
