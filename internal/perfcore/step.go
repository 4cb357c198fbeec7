package perfcore

import (
	"context"
	"strconv"

	"github.com/infer-perf/inferperf/internal/inferclient"
	"github.com/infer-perf/inferperf/internal/logging"
	"github.com/infer-perf/inferperf/internal/metrics"
)

// StepResult is one operating point's final measurement plus the
// diagnostics a caller (the Sweep Driver, or a single-point run) needs.
type StepResult struct {
	Status         PerfStatus
	WindowsSampled int
}

// Step resizes the worker set to concurrency, then repeatedly samples
// windows until the Stability Detector converges or maxMeasurementCount
// windows have elapsed, composing and returning the final PerfStatus.
func (c *Controller) Step(
	ctx context.Context,
	concurrency uint32,
	maxMeasurementCount int,
	tolerance float64,
	statusClient inferclient.ServerStatusClient,
	composer *Composer,
) (StepResult, error) {
	ctx = logging.WithStepID(ctx, strconv.FormatUint(uint64(concurrency), 10))

	if err := c.resize(int(concurrency)); err != nil {
		return StepResult{}, err
	}
	if err := c.healthCheck(); err != nil {
		return StepResult{}, err
	}

	sampler := NewSampler(c)
	detector := NewStabilityDetector(tolerance)

	var last PerfStatus
	for {
		if c.exit.Raised() {
			return StepResult{}, NewMeasurementError(StageInterrupt, "step", ErrInterrupted)
		}

		startServerStatus, err := statusClient.GetModelStatus(ctx, composer.modelName)
		if err != nil {
			return StepResult{}, NewMeasurementError(StageStatus, "server status before window", err)
		}

		window, startCtxStat, endCtxStat, err := sampler.Sample()
		if err != nil {
			return StepResult{}, err
		}

		endServerStatus, err := statusClient.GetModelStatus(ctx, composer.modelName)
		if err != nil {
			return StepResult{}, NewMeasurementError(StageStatus, "server status after window", err)
		}

		if err := c.healthCheck(); err != nil {
			return StepResult{}, err
		}

		status, err := composer.Compose(window, startServerStatus, endServerStatus, startCtxStat, endCtxStat, concurrency)
		if err != nil {
			return StepResult{}, err
		}
		last = status

		stable := detector.Observe(status.InferPerSec, status.AvgLatencyNS)
		if stable {
			metrics.RecordStep(concurrency, status.InferPerSec, false, detector.Count())
			logging.Debug(ctx, "step stable", "concurrency", concurrency, "windows", detector.Count(), "infer_per_sec", status.InferPerSec)
			return StepResult{Status: status, WindowsSampled: detector.Count()}, nil
		}
		if detector.Count() >= maxMeasurementCount {
			last.Unstable = true
			metrics.RecordStep(concurrency, status.InferPerSec, true, detector.Count())
			logging.Warn(ctx, "step did not converge, reporting last sample", "concurrency", concurrency, "windows", detector.Count())
			return StepResult{Status: last, WindowsSampled: detector.Count()}, nil
		}
	}
}
