package perfcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infer-perf/inferperf/internal/inferclient"
)

// fakeContext is a deterministic inferclient.Context: every Run takes
// fixed latency and always succeeds, useful for driving the Controller
// and Composer without a real transport.
type fakeContext struct {
	latency time.Duration

	mu   sync.Mutex
	opts inferclient.RunOptions

	completed atomic.Uint64

	asyncMu  sync.Mutex
	inFlight map[inferclient.RequestID]int64
	ready    chan asyncResultFake
	nextID   atomic.Uint64
}

type asyncResultFake struct {
	id     inferclient.RequestID
	timing inferclient.Timing
}

func newFakeContext(latency time.Duration) *fakeContext {
	return &fakeContext{
		latency:  latency,
		inFlight: make(map[inferclient.RequestID]int64),
		ready:    make(chan asyncResultFake, 4096),
	}
}

func (f *fakeContext) MaxBatchSize() uint32 { return 64 }
func (f *fakeContext) Inputs() []inferclient.Input {
	return []inferclient.Input{{Name: "INPUT0", ByteSize: 16}}
}

func (f *fakeContext) SetRunOptions(opts inferclient.RunOptions) error {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	return nil
}

func (f *fakeContext) Run(ctx context.Context) (inferclient.Timing, error) {
	start := time.Now().UnixNano()
	time.Sleep(f.latency)
	end := time.Now().UnixNano()
	f.completed.Add(1)
	return inferclient.Timing{SubmitNS: start, CompleteNS: end}, nil
}

func (f *fakeContext) AsyncRun(ctx context.Context) (inferclient.RequestID, error) {
	id := inferclient.RequestID(time.Now().Format(time.RFC3339Nano) + "-" + itoa(f.nextID.Add(1)))
	submitNS := time.Now().UnixNano()

	f.asyncMu.Lock()
	f.inFlight[id] = submitNS
	f.asyncMu.Unlock()

	go func() {
		time.Sleep(f.latency)
		f.completed.Add(1)
		f.ready <- asyncResultFake{id: id, timing: inferclient.Timing{SubmitNS: submitNS, CompleteNS: time.Now().UnixNano()}}
	}()
	return id, nil
}

func (f *fakeContext) GetReadyAsyncRequest(ctx context.Context, blocking bool) (inferclient.RequestID, inferclient.Timing, error) {
	if blocking {
		r := <-f.ready
		f.asyncMu.Lock()
		delete(f.inFlight, r.id)
		f.asyncMu.Unlock()
		return r.id, r.timing, nil
	}
	select {
	case r := <-f.ready:
		f.asyncMu.Lock()
		delete(f.inFlight, r.id)
		f.asyncMu.Unlock()
		return r.id, r.timing, nil
	default:
		return "", inferclient.Timing{}, inferclient.ErrUnavailable
	}
}

func (f *fakeContext) Stat() inferclient.ContextStat {
	return inferclient.ContextStat{CompletedRequestCount: f.completed.Load()}
}

func (f *fakeContext) Close() error { return nil }

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// fakeStatusClient reports a server counter that grows by one success per
// recorded completion, independent of the fakeContext's own bookkeeping,
// so Composer has two separate counters to reconcile exactly as it would
// against a real server.
type fakeStatusClient struct {
	mu     sync.Mutex
	counts map[int64]uint64 // version -> success count
}

func newFakeStatusClient() *fakeStatusClient {
	return &fakeStatusClient{counts: make(map[int64]uint64)}
}

func (f *fakeStatusClient) recordSuccess(version int64) {
	f.mu.Lock()
	f.counts[version]++
	f.mu.Unlock()
}

func (f *fakeStatusClient) GetModelStatus(ctx context.Context, modelName string) (inferclient.ServerModelStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := inferclient.ServerModelStatus{
		ModelName:     modelName,
		VersionStatus: make(map[int64]map[uint32]inferclient.InferStats),
	}
	for version, count := range f.counts {
		status.VersionStatus[version] = map[uint32]inferclient.InferStats{
			1: {SuccessCount: count, SuccessTotalTime: int64(count) * 1000},
		}
	}
	return status, nil
}
