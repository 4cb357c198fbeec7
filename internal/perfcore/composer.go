package perfcore

import (
	"github.com/infer-perf/inferperf/internal/inferclient"
)

// Composer produces the final PerfStatus for one operating point by
// differencing server-reported counters and per-context accumulators
// across a measurement window.
type Composer struct {
	modelName    string
	modelVersion int64 // negative means "latest"
	batchSize    uint32
}

// NewComposer builds a Composer for the given model and requested
// version (negative = latest).
func NewComposer(modelName string, modelVersion int64, batchSize uint32) *Composer {
	return &Composer{modelName: modelName, modelVersion: modelVersion, batchSize: batchSize}
}

// Compose reconciles one window's client statistics with the server's
// before/after status snapshots and the client library's before/after
// context stat snapshots into a single PerfStatus.
func (c *Composer) Compose(
	window WindowStats,
	startStatus, endStatus inferclient.ServerModelStatus,
	startCtxStat, endCtxStat inferclient.ContextStat,
	concurrency uint32,
) (PerfStatus, error) {
	version := c.modelVersion
	if version < 0 {
		resolved, ok := endStatus.MaxVersion()
		if !ok {
			return PerfStatus{}, NewMeasurementError(StageStatus, "resolve latest version", ErrModelVersionMissing)
		}
		version = resolved
	}

	endInfer, ok := endStatus.Lookup(version, c.batchSize)
	if !ok {
		return PerfStatus{}, NewMeasurementError(StageStatus, "lookup server stats", ErrModelVersionMissing)
	}
	// The start snapshot may legitimately lack this version/batch entry
	// on the very first window after model load.
	startInfer, _ := startStatus.Lookup(version, c.batchSize)

	serverRequestCount := endInfer.SuccessCount - startInfer.SuccessCount
	serverCummTimeNS := endInfer.SuccessTotalTime - startInfer.SuccessTotalTime
	serverQueueTimeNS := endInfer.QueueTotalTime - startInfer.QueueTotalTime
	serverComputeTimeNS := endInfer.ComputeTotalTime - startInfer.ComputeTotalTime

	if endInfer.SuccessCount < startInfer.SuccessCount ||
		endInfer.SuccessTotalTime < startInfer.SuccessTotalTime ||
		endInfer.QueueTotalTime < startInfer.QueueTotalTime ||
		endInfer.ComputeTotalTime < startInfer.ComputeTotalTime {
		return PerfStatus{}, NewMeasurementError(StageStatus, "compose", ErrServerCountersWentBackwards)
	}

	ctxDelta := endCtxStat.Sub(startCtxStat)
	var avgRequestNS, avgSendNS, avgReceiveNS int64
	if ctxDelta.CompletedRequestCount > 0 {
		n := int64(ctxDelta.CompletedRequestCount)
		avgRequestNS = ctxDelta.CumulativeTotalRequestTime / n
		avgSendNS = ctxDelta.CumulativeSendTime / n
		avgReceiveNS = ctxDelta.CumulativeReceiveTime / n
	}

	durationNS := window.ClientEndNS - window.ClientStartNS
	var inferPerSec float64
	if durationNS > 0 {
		inferPerSec = float64(window.Count) * float64(c.batchSize) / (float64(durationNS) / 1e9)
	}

	return PerfStatus{
		Concurrency:         concurrency,
		BatchSize:           c.batchSize,
		ServerRequestCount:  serverRequestCount,
		ServerCummTimeNS:    serverCummTimeNS,
		ServerQueueTimeNS:   serverQueueTimeNS,
		ServerComputeTimeNS: serverComputeTimeNS,
		ClientRequestCount:  window.Count,
		ClientDurationNS:    durationNS,
		MinLatencyNS:        window.MinLatencyNS,
		MaxLatencyNS:        window.MaxLatencyNS,
		AvgLatencyNS:        window.AvgLatencyNS,
		StdUS:               window.StdUS,
		AvgRequestTimeNS:    avgRequestNS,
		AvgSendTimeNS:       avgSendNS,
		AvgReceiveTimeNS:    avgReceiveNS,
		InferPerSec:         inferPerSec,
	}, nil
}
