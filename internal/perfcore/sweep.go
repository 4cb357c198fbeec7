package perfcore

import (
	"context"
	"sort"

	"github.com/infer-perf/inferperf/internal/inferclient"
	"github.com/infer-perf/inferperf/internal/metrics"
)

// SweepConfig parameterizes a Sweep Driver run.
type SweepConfig struct {
	Dynamic             bool
	StartConcurrency    uint32
	FixedConcurrency    uint32
	ConcurrencyCap      uint32 // 0 = no cap, dynamic mode only
	LatencyThresholdNS  int64  // dynamic mode only
	MaxMeasurementCount int
	Tolerance           float64
}

// Sweep drives one or many Steps over increasing concurrency levels,
// honoring the fixed/dynamic mode and latency ceiling. The sweep is
// strictly monotonic: concurrency only ever increases, never backs off
// or binary-searches.
func Sweep(
	ctx context.Context,
	controller *Controller,
	statusClient inferclient.ServerStatusClient,
	composer *Composer,
	cfg SweepConfig,
) ([]PerfStatus, error) {
	if !cfg.Dynamic {
		result, err := controller.Step(ctx, cfg.FixedConcurrency, cfg.MaxMeasurementCount, cfg.Tolerance, statusClient, composer)
		if err != nil {
			metrics.RecordSweepStep(sweepOutcome(err))
			return nil, err
		}
		metrics.RecordSweepStep("ok")
		return []PerfStatus{result.Status}, nil
	}

	var summary []PerfStatus
	for concurrency := cfg.StartConcurrency; ; concurrency++ {
		if cfg.ConcurrencyCap > 0 && concurrency > cfg.ConcurrencyCap {
			break
		}

		result, err := controller.Step(ctx, concurrency, cfg.MaxMeasurementCount, cfg.Tolerance, statusClient, composer)
		if err != nil {
			metrics.RecordSweepStep(sweepOutcome(err))
			sort.Slice(summary, func(i, j int) bool {
				return summary[i].InferPerSec < summary[j].InferPerSec
			})
			return summary, err
		}
		metrics.RecordSweepStep("ok")
		summary = append(summary, result.Status)

		if result.Status.AvgLatencyNS >= cfg.LatencyThresholdNS {
			break
		}
	}

	sort.Slice(summary, func(i, j int) bool {
		return summary[i].InferPerSec < summary[j].InferPerSec
	})
	return summary, nil
}

func sweepOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "aborted"
}
