package inferclient_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/infer-perf/inferperf/internal/inferclient"
	"github.com/infer-perf/inferperf/internal/mockserver"
)

func newMockHTTPServer(t *testing.T, modelName string, maxBatchSize uint32) (*httptest.Server, func()) {
	t.Helper()
	srv := mockserver.NewServer(nil)
	srv.State().Configure(modelName, maxBatchSize, []mockserver.InputSpec{{Name: "INPUT0", ByteSize: 16}}, 0, 1)

	ts := httptest.NewServer(srv)
	return ts, ts.Close
}

func TestNewContext_HTTPFetchesModelMetadata(t *testing.T) {
	ts, closeFn := newMockHTTPServer(t, "resnet50", 8)
	defer closeFn()

	ctx, err := inferclient.NewContext(inferclient.ProtocolHTTP, ts.URL, "resnet50", 1)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	if ctx.MaxBatchSize() != 8 {
		t.Errorf("MaxBatchSize() = %d, want 8", ctx.MaxBatchSize())
	}
	if len(ctx.Inputs()) != 1 || ctx.Inputs()[0].Name != "INPUT0" {
		t.Errorf("Inputs() = %+v", ctx.Inputs())
	}
}

func TestHTTPContext_SetRunOptionsRejectsOversizedBatch(t *testing.T) {
	ts, closeFn := newMockHTTPServer(t, "resnet50", 4)
	defer closeFn()

	ctx, err := inferclient.NewContext(inferclient.ProtocolHTTP, ts.URL, "resnet50", 1)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	if err := ctx.SetRunOptions(inferclient.RunOptions{BatchSize: 100}); err == nil {
		t.Fatal("expected an error for a batch size above the advertised maximum")
	}
}

func TestHTTPContext_RunRecordsTimingAndStat(t *testing.T) {
	ts, closeFn := newMockHTTPServer(t, "resnet50", 4)
	defer closeFn()

	ctx, err := inferclient.NewContext(inferclient.ProtocolHTTP, ts.URL, "resnet50", 1)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()

	if err := ctx.SetRunOptions(inferclient.RunOptions{BatchSize: 1}); err != nil {
		t.Fatalf("SetRunOptions: %v", err)
	}

	timing, err := ctx.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if timing.CompleteNS < timing.SubmitNS {
		t.Errorf("CompleteNS (%d) < SubmitNS (%d)", timing.CompleteNS, timing.SubmitNS)
	}
	if ctx.Stat().CompletedRequestCount != 1 {
		t.Errorf("CompletedRequestCount = %d, want 1", ctx.Stat().CompletedRequestCount)
	}
}

func TestHTTPContext_AsyncRunCompletesAndIsRetrievable(t *testing.T) {
	ts, closeFn := newMockHTTPServer(t, "resnet50", 4)
	defer closeFn()

	ctx, err := inferclient.NewContext(inferclient.ProtocolHTTP, ts.URL, "resnet50", 1)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()
	if err := ctx.SetRunOptions(inferclient.RunOptions{BatchSize: 1}); err != nil {
		t.Fatalf("SetRunOptions: %v", err)
	}

	id, err := ctx.AsyncRun(context.Background())
	if err != nil {
		t.Fatalf("AsyncRun: %v", err)
	}

	gotID, timing, err := ctx.GetReadyAsyncRequest(context.Background(), true)
	if err != nil {
		t.Fatalf("GetReadyAsyncRequest: %v", err)
	}
	if gotID != id {
		t.Errorf("got request id %q, want %q", gotID, id)
	}
	if timing.CompleteNS < timing.SubmitNS {
		t.Errorf("CompleteNS < SubmitNS: %+v", timing)
	}
}

func TestHTTPServerStatusClient_ReportsRecordedInfers(t *testing.T) {
	ts, closeFn := newMockHTTPServer(t, "resnet50", 4)
	defer closeFn()

	ctx, err := inferclient.NewContext(inferclient.ProtocolHTTP, ts.URL, "resnet50", 1)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()
	if err := ctx.SetRunOptions(inferclient.RunOptions{BatchSize: 1}); err != nil {
		t.Fatalf("SetRunOptions: %v", err)
	}
	if _, err := ctx.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	statusClient, err := inferclient.NewServerStatusClient(inferclient.ProtocolHTTP, ts.URL)
	if err != nil {
		t.Fatalf("NewServerStatusClient: %v", err)
	}
	status, err := statusClient.GetModelStatus(context.Background(), "resnet50")
	if err != nil {
		t.Fatalf("GetModelStatus: %v", err)
	}

	stats, ok := status.Lookup(1, 1)
	if !ok {
		t.Fatal("expected version 1 / batch 1 to be present")
	}
	if stats.SuccessCount != 1 {
		t.Errorf("SuccessCount = %d, want 1", stats.SuccessCount)
	}
}
