package perfcore

import (
	"errors"
	"testing"

	"github.com/infer-perf/inferperf/internal/inferclient"
)

func modelStatus(version int64, batchSize uint32, stats inferclient.InferStats) inferclient.ServerModelStatus {
	return inferclient.ServerModelStatus{
		ModelName: "resnet50",
		VersionStatus: map[int64]map[uint32]inferclient.InferStats{
			version: {batchSize: stats},
		},
	}
}

func TestComposer_ResolvesLatestVersionFromEndStatus(t *testing.T) {
	c := NewComposer("resnet50", -1, 1)

	start := inferclient.ServerModelStatus{}
	end := modelStatus(3, 1, inferclient.InferStats{SuccessCount: 10, SuccessTotalTime: 100})

	window := WindowStats{Count: 5, ClientStartNS: 0, ClientEndNS: 1_000_000_000}
	status, err := c.Compose(window, start, end, inferclient.ContextStat{}, inferclient.ContextStat{}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.ServerRequestCount != 10 {
		t.Errorf("ServerRequestCount = %d, want 10", status.ServerRequestCount)
	}
}

func TestComposer_MissingVersionInEndStatusIsAnError(t *testing.T) {
	c := NewComposer("resnet50", 1, 1)

	_, err := c.Compose(WindowStats{Count: 1}, inferclient.ServerModelStatus{}, inferclient.ServerModelStatus{}, inferclient.ContextStat{}, inferclient.ContextStat{}, 1)
	if !errors.Is(err, ErrModelVersionMissing) {
		t.Errorf("got %v, want ErrModelVersionMissing", err)
	}
}

func TestComposer_MissingStartEntryIsTreatedAsZero(t *testing.T) {
	c := NewComposer("resnet50", 1, 1)

	start := inferclient.ServerModelStatus{} // no entry at all: first window after model load
	end := modelStatus(1, 1, inferclient.InferStats{SuccessCount: 5, SuccessTotalTime: 50})

	window := WindowStats{Count: 5, ClientStartNS: 0, ClientEndNS: 1_000_000_000}
	status, err := c.Compose(window, start, end, inferclient.ContextStat{}, inferclient.ContextStat{}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.ServerRequestCount != 5 {
		t.Errorf("ServerRequestCount = %d, want 5 (end - zero)", status.ServerRequestCount)
	}
}

func TestComposer_BackwardsServerCountersIsAnError(t *testing.T) {
	c := NewComposer("resnet50", 1, 1)

	start := modelStatus(1, 1, inferclient.InferStats{SuccessCount: 50})
	end := modelStatus(1, 1, inferclient.InferStats{SuccessCount: 10}) // went backwards: server restarted

	_, err := c.Compose(WindowStats{Count: 1}, start, end, inferclient.ContextStat{}, inferclient.ContextStat{}, 1)
	if !errors.Is(err, ErrServerCountersWentBackwards) {
		t.Errorf("got %v, want ErrServerCountersWentBackwards", err)
	}
}

func TestComposer_ContextStatDeltaProducesPerRequestAverages(t *testing.T) {
	c := NewComposer("resnet50", 1, 1)

	start := inferclient.ContextStat{CompletedRequestCount: 0}
	end := inferclient.ContextStat{
		CompletedRequestCount:      4,
		CumulativeTotalRequestTime: 400,
		CumulativeSendTime:         40,
		CumulativeReceiveTime:      20,
	}
	status, err := c.Compose(WindowStats{Count: 4, ClientStartNS: 0, ClientEndNS: 1_000_000_000},
		modelStatus(1, 1, inferclient.InferStats{}), modelStatus(1, 1, inferclient.InferStats{}),
		start, end, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.AvgRequestTimeNS != 100 {
		t.Errorf("AvgRequestTimeNS = %d, want 100", status.AvgRequestTimeNS)
	}
	if status.AvgSendTimeNS != 10 {
		t.Errorf("AvgSendTimeNS = %d, want 10", status.AvgSendTimeNS)
	}
	if status.AvgReceiveTimeNS != 5 {
		t.Errorf("AvgReceiveTimeNS = %d, want 5", status.AvgReceiveTimeNS)
	}
}

func TestComposer_InferPerSecDerivedFromWindowAndBatchSize(t *testing.T) {
	c := NewComposer("resnet50", 1, 4)

	window := WindowStats{Count: 10, ClientStartNS: 0, ClientEndNS: 1_000_000_000} // 10 requests/sec
	status, err := c.Compose(window, modelStatus(1, 4, inferclient.InferStats{}), modelStatus(1, 4, inferclient.InferStats{}),
		inferclient.ContextStat{}, inferclient.ContextStat{}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.InferPerSec != 40 {
		t.Errorf("InferPerSec = %v, want 40 (10 requests/sec * batch 4)", status.InferPerSec)
	}
}
