package perfcore

import (
	"context"
	"time"

	"github.com/infer-perf/inferperf/internal/metrics"
)

// syncWorker sustains exactly one in-flight request at a time: issue,
// wait, record, repeat. One is spawned per unit of concurrency and never
// destroyed; concurrency changes by parking or waking workers at
// pauseIndex rather than spawning or killing them.
type syncWorker struct {
	handle     *workerHandle
	controller *Controller
}

func (w *syncWorker) run() {
	ctx := context.Background()

	for {
		if exit := w.controller.waitWhilePaused(w.handle.index); exit {
			return
		}

		timing, err := w.handle.ctx.Run(ctx)
		if err != nil {
			if w.controller.exit.Raised() {
				return
			}
			w.handle.setErr(err)
			metrics.RecordRequest(w.controller.protocol, "error", 0)
			// Record a failure sentinel so the Sampler's window math does
			// not stall waiting for a completion that will never arrive.
			w.controller.recordCompletion(w.handle.index, failureTimestamp(w.controller.clock), w.handle.ctx.Stat())
			continue
		}

		ts := Timestamp{StartNS: timing.SubmitNS, EndNS: timing.CompleteNS}
		metrics.RecordRequest(w.controller.protocol, "success", time.Duration(ts.LatencyNS()))
		w.controller.recordCompletion(w.handle.index, ts, w.handle.ctx.Stat())
	}
}

// failureTimestamp is the EndNS < StartNS sentinel Timestamp.Valid()
// filters out of every Sampler window.
func failureTimestamp(clock Clock) Timestamp {
	now := clock.NowNS()
	return Timestamp{StartNS: now, EndNS: now - 1}
}
