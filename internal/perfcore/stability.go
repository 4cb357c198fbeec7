package perfcore

// stableWindow is one sample's (infer_per_sec, avg_latency_ns) pair, the
// two quantities the Stability Detector tracks jointly.
type stableWindow struct {
	InferPerSec  float64
	AvgLatencyNS int64
}

// StabilityDetector decides when a series of windows has converged under
// a relative-tolerance rule. It keeps at most the last k samples; the
// zero value is ready to use.
type StabilityDetector struct {
	tolerance float64
	samples   []stableWindow
	total     int
}

const stabilityWindowSize = 3

// NewStabilityDetector builds a detector with the given fractional
// tolerance (e.g. 0.10 for ±10%).
func NewStabilityDetector(tolerance float64) *StabilityDetector {
	return &StabilityDetector{tolerance: tolerance}
}

// Observe records one window's sample and reports whether the most
// recent k=3 samples are jointly stable.
func (d *StabilityDetector) Observe(inferPerSec float64, avgLatencyNS int64) bool {
	d.total++
	d.samples = append(d.samples, stableWindow{InferPerSec: inferPerSec, AvgLatencyNS: avgLatencyNS})
	if len(d.samples) > stabilityWindowSize {
		d.samples = d.samples[len(d.samples)-stabilityWindowSize:]
	}
	if len(d.samples) < stabilityWindowSize {
		return false
	}

	var throughputs, latencies []float64
	for _, s := range d.samples {
		throughputs = append(throughputs, s.InferPerSec)
		latencies = append(latencies, float64(s.AvgLatencyNS))
	}
	return withinTolerance(throughputs, d.tolerance) && withinTolerance(latencies, d.tolerance)
}

// Reset clears accumulated samples, for starting a fresh operating point.
func (d *StabilityDetector) Reset() {
	d.samples = nil
	d.total = 0
}

// Count reports how many samples have been observed since the last
// Reset — used to enforce max_measurement_count.
func (d *StabilityDetector) Count() int {
	return d.total
}

func withinTolerance(values []float64, tolerance float64) bool {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return true
	}
	for _, v := range values {
		if abs(v-mean) > tolerance*abs(mean) {
			return false
		}
	}
	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
