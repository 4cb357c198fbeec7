package reporting

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/infer-perf/inferperf/internal/perfcore"
)

// csvColumns mirrors the dynamic-sweep report's fields. Column 2,
// Inferences/Second, is the column a dynamic sweep's rows must stay sorted
// ascending by. Times are all in microseconds; Network+Server Send/Recv is
// derived, not sampled directly.
var csvColumns = []string{
	"Concurrency",
	"Inferences/Second",
	"Client Send",
	"Network+Server Send/Recv",
	"Server Queue",
	"Server Compute",
	"Client Recv",
}

// WriteCSV writes statuses as a CSV table. Rows are written in the order
// given; callers wanting the sorted-ascending-by-throughput invariant
// should sort statuses before calling this (Sweep already returns them
// sorted for dynamic runs).
func WriteCSV(w io.Writer, statuses []perfcore.PerfStatus) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}

	for _, s := range statuses {
		avgQueueUS := perRequestUS(s.ServerQueueTimeNS, s.ServerRequestCount)
		avgComputeUS := perRequestUS(s.ServerComputeTimeNS, s.ServerRequestCount)
		networkMiscUS := (s.AvgLatencyNS / 1000) - avgQueueUS - avgComputeUS -
			(s.AvgSendTimeNS / 1000) - (s.AvgReceiveTimeNS / 1000)

		row := []string{
			strconv.FormatUint(uint64(s.Concurrency), 10),
			strconv.FormatInt(int64(s.InferPerSec), 10),
			strconv.FormatInt(s.AvgSendTimeNS/1000, 10),
			strconv.FormatInt(networkMiscUS, 10),
			strconv.FormatInt(avgQueueUS, 10),
			strconv.FormatInt(avgComputeUS, 10),
			strconv.FormatInt(s.AvgReceiveTimeNS/1000, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// perRequestUS returns the per-request average, in microseconds, of a
// cumulative nanosecond total across count requests. Zero count (no
// server-side requests fell in the window) reports zero rather than
// dividing by zero.
func perRequestUS(cumulativeNS int64, count uint64) int64 {
	if count == 0 {
		return 0
	}
	return cumulativeNS / int64(count) / 1000
}
