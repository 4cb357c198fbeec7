package perfcore

import (
	"context"
	"errors"
	"time"

	"github.com/infer-perf/inferperf/internal/inferclient"
	"github.com/infer-perf/inferperf/internal/metrics"
)

// asyncWorker holds up to the current pauseIndex requests in flight at
// once via the transport's AsyncRun/GetReadyAsyncRequest pair, rather
// than one goroutine per unit of concurrency. pauseIndex doubles as the
// in-flight cap in this mode: raising it admits more concurrent
// requests, lowering it lets in-flight requests drain down to the new
// cap without being destroyed.
type asyncWorker struct {
	handle     *workerHandle
	controller *Controller

	inFlight int
}

func (w *asyncWorker) run() {
	ctx := context.Background()

	for {
		if w.inFlight == 0 {
			if exit := w.controller.waitWhilePaused(0); exit {
				return
			}
		} else if w.controller.exit.Raised() {
			return
		}

		target := w.controller.currentPauseIndex()
		for w.inFlight < target {
			if _, err := w.handle.ctx.AsyncRun(ctx); err != nil {
				w.handle.setErr(err)
				break
			}
			w.inFlight++
		}

		if w.controller.exit.Raised() {
			return
		}

		blocking := w.inFlight > 0 && w.inFlight >= target
		id, timing, err := w.handle.ctx.GetReadyAsyncRequest(ctx, blocking)
		if err != nil {
			if errors.Is(err, inferclient.ErrUnavailable) {
				continue
			}
			if w.controller.exit.Raised() {
				return
			}
			w.handle.setErr(err)
			metrics.RecordRequest(w.controller.protocol, "error", 0)
			w.controller.recordCompletion(0, failureTimestamp(w.controller.clock), w.handle.ctx.Stat())
			w.inFlight--
			continue
		}

		_ = id
		w.inFlight--
		ts := Timestamp{StartNS: timing.SubmitNS, EndNS: timing.CompleteNS}
		metrics.RecordRequest(w.controller.protocol, "success", time.Duration(ts.LatencyNS()))
		w.controller.recordCompletion(0, ts, w.handle.ctx.Stat())
	}
}
