// Package reporting renders a PerfStatus sequence into two output
// formats: a human-readable block and a CSV table.
package reporting

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/infer-perf/inferperf/internal/perfcore"
)

// WriteHuman renders one two-part block per PerfStatus: a Client section
// (request count, throughput, latency ± std, transport breakdown) and a
// Server section (request count, latency decomposed into overhead,
// queue, and compute).
func WriteHuman(w io.Writer, statuses []perfcore.PerfStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	for _, s := range statuses {
		fmt.Fprintf(tw, "Concurrency: %d\tBatch size: %d\n", s.Concurrency, s.BatchSize)
		if s.Unstable {
			fmt.Fprintf(tw, "  (did not converge within the configured sample budget)\n")
		}

		fmt.Fprintf(tw, "  Client:\t\n")
		fmt.Fprintf(tw, "    Request count:\t%d\n", s.ClientRequestCount)
		fmt.Fprintf(tw, "    Throughput:\t%.2f infer/sec\n", s.InferPerSec)
		fmt.Fprintf(tw, "    Latency:\t%s avg (min %s, max %s, std %s)\n",
			fmtNS(s.AvgLatencyNS), fmtNS(s.MinLatencyNS), fmtNS(s.MaxLatencyNS), fmtUS(s.StdUS))
		fmt.Fprintf(tw, "    Transport:\trequest %s, send %s, receive %s\n",
			fmtNS(s.AvgRequestTimeNS), fmtNS(s.AvgSendTimeNS), fmtNS(s.AvgReceiveTimeNS))

		fmt.Fprintf(tw, "  Server:\t\n")
		fmt.Fprintf(tw, "    Request count:\t%d\n", s.ServerRequestCount)
		fmt.Fprintf(tw, "    Avg request latency:\t%s (overhead %s, queue %s, compute %s)\n",
			fmtAvgServerLatency(s), fmtOverheadNS(s), fmtPerRequestNS(s.ServerQueueTimeNS, s.ServerRequestCount), fmtPerRequestNS(s.ServerComputeTimeNS, s.ServerRequestCount))
		fmt.Fprintf(tw, "\n")
	}

	return tw.Flush()
}

func fmtNS(ns int64) string {
	return time.Duration(ns).String()
}

func fmtUS(us int64) string {
	return time.Duration(us * 1000).String()
}

func fmtPerRequestNS(totalNS int64, count uint64) string {
	if count == 0 {
		return fmtNS(0)
	}
	return fmtNS(totalNS / int64(count))
}

func fmtAvgServerLatency(s perfcore.PerfStatus) string {
	return fmtPerRequestNS(s.ServerCummTimeNS, s.ServerRequestCount)
}

func fmtOverheadNS(s perfcore.PerfStatus) string {
	if s.ServerRequestCount == 0 {
		return fmtNS(0)
	}
	avgCumm := s.ServerCummTimeNS / int64(s.ServerRequestCount)
	avgQueue := s.ServerQueueTimeNS / int64(s.ServerRequestCount)
	avgCompute := s.ServerComputeTimeNS / int64(s.ServerRequestCount)
	overhead := avgCumm - avgQueue - avgCompute
	if overhead < 0 {
		overhead = 0
	}
	return fmtNS(overhead)
}
