package mockserver

import (
	"testing"
	"time"
)

func TestState_ConfigureThenGet(t *testing.T) {
	s := NewState()
	s.Configure("resnet50", 4, []InputSpec{{Name: "INPUT0", ByteSize: 16}}, 5*time.Millisecond, 1)

	m, ok := s.get("resnet50")
	if !ok {
		t.Fatal("expected resnet50 to be configured")
	}
	maxBatch, inputs, latency := m.snapshotMeta()
	if maxBatch != 4 {
		t.Errorf("maxBatch = %d, want 4", maxBatch)
	}
	if len(inputs) != 1 || inputs[0].Name != "INPUT0" {
		t.Errorf("inputs = %+v", inputs)
	}
	if latency != 5*time.Millisecond {
		t.Errorf("latency = %v, want 5ms", latency)
	}
}

func TestState_GetUnconfiguredModelFails(t *testing.T) {
	s := NewState()
	if _, ok := s.get("nope"); ok {
		t.Error("expected ok=false for an unconfigured model")
	}
}

func TestState_RecordInferAccumulatesCounters(t *testing.T) {
	s := NewState()
	s.Configure("resnet50", 4, nil, 0, 1)
	m, _ := s.get("resnet50")

	m.recordInfer(1, 1, 100, 900)
	m.recordInfer(1, 1, 200, 800)

	snapshot := m.snapshotStats()
	c := snapshot[1][1]
	if c.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", c.SuccessCount)
	}
	if c.QueueTotalTime != 300 {
		t.Errorf("QueueTotalTime = %d, want 300", c.QueueTotalTime)
	}
	if c.ComputeTotalTime != 1700 {
		t.Errorf("ComputeTotalTime = %d, want 1700", c.ComputeTotalTime)
	}
	if c.SuccessTotalTime != 2000 {
		t.Errorf("SuccessTotalTime = %d, want 2000", c.SuccessTotalTime)
	}
}

func TestState_RecordInferSeparatesBatchSizesAndVersions(t *testing.T) {
	s := NewState()
	s.Configure("resnet50", 8, nil, 0, 1)
	m, _ := s.get("resnet50")

	m.recordInfer(1, 1, 10, 90)
	m.recordInfer(1, 4, 10, 90)
	m.recordInfer(2, 1, 10, 90)

	snapshot := m.snapshotStats()
	if len(snapshot[1]) != 2 {
		t.Errorf("version 1 has %d batch buckets, want 2", len(snapshot[1]))
	}
	if snapshot[1][1].SuccessCount != 1 {
		t.Errorf("version 1 / batch 1 count = %d, want 1", snapshot[1][1].SuccessCount)
	}
	if snapshot[2][1].SuccessCount != 1 {
		t.Errorf("version 2 / batch 1 count = %d, want 1", snapshot[2][1].SuccessCount)
	}
}

func TestState_ResetClearsAllModels(t *testing.T) {
	s := NewState()
	s.Configure("resnet50", 1, nil, 0, 1)
	s.Reset()

	if _, ok := s.get("resnet50"); ok {
		t.Error("expected Reset to clear configured models")
	}
}

func TestModelState_BeginInferFlatLatencyWithoutRamp(t *testing.T) {
	s := NewState()
	s.Configure("resnet50", 1, nil, 20*time.Millisecond, 1)
	m, _ := s.get("resnet50")

	first := m.beginInfer()
	second := m.beginInfer()
	if first != 20*time.Millisecond || second != 20*time.Millisecond {
		t.Errorf("latencies = %v, %v, want 20ms, 20ms with no ramp set", first, second)
	}
	m.endInfer()
	m.endInfer()
}

func TestModelState_BeginInferScalesWithInFlightCount(t *testing.T) {
	s := NewState()
	s.Configure("resnet50", 1, nil, 20*time.Millisecond, 1)
	s.SetLatencyRamp("resnet50", 15*time.Millisecond)
	m, _ := s.get("resnet50")

	first := m.beginInfer() // 1st in flight: 20 + 15*0
	second := m.beginInfer() // 2nd in flight: 20 + 15*1
	third := m.beginInfer()  // 3rd in flight: 20 + 15*2

	if first != 20*time.Millisecond {
		t.Errorf("first = %v, want 20ms", first)
	}
	if second != 35*time.Millisecond {
		t.Errorf("second = %v, want 35ms", second)
	}
	if third != 50*time.Millisecond {
		t.Errorf("third = %v, want 50ms", third)
	}

	m.endInfer()
	m.endInfer()
	fourth := m.beginInfer() // one still in flight plus this one: 20 + 15*1
	if fourth != 35*time.Millisecond {
		t.Errorf("fourth = %v, want 35ms after two endInfer calls", fourth)
	}
	m.endInfer()
	m.endInfer()
}

func TestState_SetLatencyRampOnUnconfiguredModelIsNoop(t *testing.T) {
	s := NewState()
	s.SetLatencyRamp("nope", 15*time.Millisecond) // must not panic
}
