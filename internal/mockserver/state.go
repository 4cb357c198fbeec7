package mockserver

import (
	"sync"
	"sync/atomic"
	"time"
)

// modelState tracks one model's configured behavior and the server-side
// counters a real inference server would report through its status
// endpoint.
type modelState struct {
	mu sync.Mutex

	maxBatchSize       uint32
	inputs             []InputSpec
	latency            time.Duration
	latencyPerInFlight time.Duration

	// inFlight counts requests currently sleeping in handleInfer, so the
	// simulated latency can grow with concurrency the way a queuing
	// backend's would (latencyPerInFlight == 0 recovers a flat latency).
	inFlight atomic.Int64

	// versionStats mirrors ServerModelStatus: version -> batch size ->
	// cumulative counters.
	versionStats map[int64]map[uint32]*statCounters
}

type InputSpec struct {
	Name     string
	ByteSize int64
}

type statCounters struct {
	SuccessCount     uint64
	SuccessTotalTime int64
	QueueTotalTime   int64
	ComputeTotalTime int64
}

// State holds every configured model. The zero value is ready to use.
type State struct {
	mu     sync.Mutex
	models map[string]*modelState
}

// NewState builds an empty State.
func NewState() *State {
	return &State{models: make(map[string]*modelState)}
}

// Reset clears all configured models.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = make(map[string]*modelState)
}

// Configure registers or updates a model's metadata and simulated
// latency.
func (s *State) Configure(name string, maxBatchSize uint32, inputs []InputSpec, latency time.Duration, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.models == nil {
		s.models = make(map[string]*modelState)
	}
	m, ok := s.models[name]
	if !ok {
		m = &modelState{versionStats: make(map[int64]map[uint32]*statCounters)}
		s.models[name] = m
	}
	m.mu.Lock()
	m.maxBatchSize = maxBatchSize
	m.inputs = inputs
	m.latency = latency
	if _, ok := m.versionStats[version]; !ok {
		m.versionStats[version] = make(map[uint32]*statCounters)
	}
	m.mu.Unlock()
}

func (s *State) get(name string) (*modelState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[name]
	return m, ok
}

// SetLatencyRamp sets a model's per-additional-in-flight-request latency
// penalty: effective latency becomes base + perInFlight*(inFlight-1). A
// zero ramp (the default after Configure) recovers flat latency.
func (s *State) SetLatencyRamp(name string, perInFlight time.Duration) {
	m, ok := s.get(name)
	if !ok {
		return
	}
	m.mu.Lock()
	m.latencyPerInFlight = perInFlight
	m.mu.Unlock()
}

// beginInfer registers one in-flight request and returns the latency it
// should sleep for, accounting for however many requests (including this
// one) are currently in flight.
func (m *modelState) beginInfer() time.Duration {
	inFlight := m.inFlight.Add(1)

	m.mu.Lock()
	base, perExtra := m.latency, m.latencyPerInFlight
	m.mu.Unlock()

	return base + time.Duration(inFlight-1)*perExtra
}

// endInfer releases the in-flight slot beginInfer reserved.
func (m *modelState) endInfer() {
	m.inFlight.Add(-1)
}

// recordInfer adds one completed request's queue and compute time to the
// model's server-side counters for (version, batchSize). It does not
// sleep; the request handler does that before calling it.
func (m *modelState) recordInfer(version int64, batchSize uint32, queueNS, computeNS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batches, ok := m.versionStats[version]
	if !ok {
		batches = make(map[uint32]*statCounters)
		m.versionStats[version] = batches
	}
	c, ok := batches[batchSize]
	if !ok {
		c = &statCounters{}
		batches[batchSize] = c
	}
	c.SuccessCount++
	c.SuccessTotalTime += queueNS + computeNS
	c.QueueTotalTime += queueNS
	c.ComputeTotalTime += computeNS
}

func (m *modelState) snapshotStats() map[int64]map[uint32]statCounters {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int64]map[uint32]statCounters, len(m.versionStats))
	for version, batches := range m.versionStats {
		b := make(map[uint32]statCounters, len(batches))
		for batchSize, c := range batches {
			b[batchSize] = *c
		}
		out[version] = b
	}
	return out
}

func (m *modelState) snapshotMeta() (uint32, []InputSpec, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxBatchSize, append([]InputSpec(nil), m.inputs...), m.latency
}
