package inferclient_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/infer-perf/inferperf/internal/inferclient"
	"github.com/infer-perf/inferperf/internal/mockserver"
)

func newMockGRPCServer(t *testing.T, modelName string, maxBatchSize uint32) (addr string, stop func()) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	state := mockserver.NewState()
	state.Configure(modelName, maxBatchSize, []mockserver.InputSpec{{Name: "INPUT0", ByteSize: 16}}, 0, 1)

	srv := mockserver.NewGRPCServer(state).Register()
	go func() { _ = srv.Serve(lis) }()

	return lis.Addr().String(), func() {
		srv.Stop()
		lis.Close()
	}
}

func TestNewContext_GRPCFetchesModelMetadata(t *testing.T) {
	addr, stop := newMockGRPCServer(t, "resnet50", 8)
	defer stop()

	ctx, err := inferclient.NewContext(inferclient.ProtocolGRPC, addr, "resnet50", 1)
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

func TestGRPCContext_RunRecordsTimingAndStat(t *testing.T) {
	addr, stop := newMockGRPCServer(t, "resnet50", 4)
	defer stop()

	ctx, err := inferclient.NewContext(inferclient.ProtocolGRPC, addr, "resnet50", 1)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()
	if err := ctx.SetRunOptions(inferclient.RunOptions{BatchSize: 1}); err != nil {
		t.Fatalf("SetRunOptions: %v", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	timing, err := ctx.Run(runCtx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if timing.CompleteNS < timing.SubmitNS {
		t.Errorf("CompleteNS < SubmitNS: %+v", timing)
	}
	if ctx.Stat().CompletedRequestCount != 1 {
		t.Errorf("CompletedRequestCount = %d, want 1", ctx.Stat().CompletedRequestCount)
	}
}

func TestGRPCServerStatusClient_ReportsRecordedInfers(t *testing.T) {
	addr, stop := newMockGRPCServer(t, "resnet50", 4)
	defer stop()

	ctx, err := inferclient.NewContext(inferclient.ProtocolGRPC, addr, "resnet50", 1)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()
	if err := ctx.SetRunOptions(inferclient.RunOptions{BatchSize: 1}); err != nil {
		t.Fatalf("SetRunOptions: %v", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ctx.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	statusClient, err := inferclient.NewServerStatusClient(inferclient.ProtocolGRPC, addr)
	if err != nil {
		t.Fatalf("NewServerStatusClient: %v", err)
	}
	status, err := statusClient.GetModelStatus(runCtx, "resnet50")
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
