package reporting

import (
	"bytes"
	"strings"
	"testing"

	"github.com/infer-perf/inferperf/internal/perfcore"
)

func TestWriteHuman_RendersConcurrencyAndBatchSize(t *testing.T) {
	statuses := []perfcore.PerfStatus{
		{Concurrency: 8, BatchSize: 2, InferPerSec: 500},
	}

	var buf bytes.Buffer
	if err := WriteHuman(&buf, statuses); err != nil {
		t.Fatalf("WriteHuman: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Concurrency: 8") {
		t.Errorf("output missing concurrency line:\n%s", out)
	}
	if !strings.Contains(out, "Batch size: 2") {
		t.Errorf("output missing batch size:\n%s", out)
	}
	if !strings.Contains(out, "500.00 infer/sec") {
		t.Errorf("output missing throughput:\n%s", out)
	}
}

func TestWriteHuman_FlagsUnstableResult(t *testing.T) {
	statuses := []perfcore.PerfStatus{
		{Concurrency: 1, Unstable: true},
	}

	var buf bytes.Buffer
	if err := WriteHuman(&buf, statuses); err != nil {
		t.Fatalf("WriteHuman: %v", err)
	}
	if !strings.Contains(buf.String(), "did not converge") {
		t.Error("expected the unstable annotation to appear in the output")
	}
}

func TestWriteHuman_OmitsUnstableAnnotationWhenStable(t *testing.T) {
	statuses := []perfcore.PerfStatus{
		{Concurrency: 1, Unstable: false},
	}

	var buf bytes.Buffer
	if err := WriteHuman(&buf, statuses); err != nil {
		t.Fatalf("WriteHuman: %v", err)
	}
	if strings.Contains(buf.String(), "did not converge") {
		t.Error("did not expect the unstable annotation on a converged result")
	}
}

func TestWriteHuman_ZeroServerRequestCountAvoidsDivideByZero(t *testing.T) {
	statuses := []perfcore.PerfStatus{
		{Concurrency: 1, ServerRequestCount: 0, ServerCummTimeNS: 0},
	}

	var buf bytes.Buffer
	if err := WriteHuman(&buf, statuses); err != nil {
		t.Fatalf("WriteHuman: %v", err)
	}
	// Must not panic on a division by a zero request count; fmtPerRequestNS
	// and fmtOverheadNS both guard against it by special-casing count == 0.
	if !strings.Contains(buf.String(), "Avg request latency:") {
		t.Errorf("expected the server latency line to render cleanly:\n%s", buf.String())
	}
}

func TestWriteHuman_MultipleStatusesEachGetTheirOwnBlock(t *testing.T) {
	statuses := []perfcore.PerfStatus{
		{Concurrency: 1},
		{Concurrency: 2},
	}

	var buf bytes.Buffer
	if err := WriteHuman(&buf, statuses); err != nil {
		t.Fatalf("WriteHuman: %v", err)
	}
	out := buf.String()
	if strings.Count(out, "Concurrency:") != 2 {
		t.Errorf("expected two Concurrency blocks, got output:\n%s", out)
	}
}
