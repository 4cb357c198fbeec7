package inferclient

import "context"

// InferStats is one (success|queue|compute) counter bucket for a given
// (model_version, batch_size) pair, as reported by the server's status
// service.
type InferStats struct {
	SuccessCount     uint64
	SuccessTotalTime int64 // nanoseconds
	QueueTotalTime   int64 // nanoseconds
	ComputeTotalTime int64 // nanoseconds
}

// ServerModelStatus is a snapshot of a model's per-version, per-batch-size
// counters at one instant.
type ServerModelStatus struct {
	ModelName string
	// VersionStatus maps model version -> batch size -> counters.
	VersionStatus map[int64]map[uint32]InferStats
}

// MaxVersion returns the largest version key present, and false if the
// status has no versions at all. Used to resolve the "latest" sentinel
// version.
func (s ServerModelStatus) MaxVersion() (int64, bool) {
	found := false
	var max int64
	for v := range s.VersionStatus {
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found
}

// Lookup returns the InferStats for (version, batchSize), or a zero value
// and false if absent. An absent *start* entry is treated as zeros by the
// Composer (first window after model load); an absent *end* entry is a
// hard failure.
func (s ServerModelStatus) Lookup(version int64, batchSize uint32) (InferStats, bool) {
	byBatch, ok := s.VersionStatus[version]
	if !ok {
		return InferStats{}, false
	}
	stat, ok := byBatch[batchSize]
	return stat, ok
}

// ServerStatusClient reads the server-side status and statistics endpoint.
type ServerStatusClient interface {
	GetModelStatus(ctx context.Context, modelName string) (ServerModelStatus, error)
}

// NewServerStatusClient mirrors NewContext's protocol selection for the
// status service.
func NewServerStatusClient(protocol Protocol, url string) (ServerStatusClient, error) {
	switch protocol {
	case ProtocolHTTP:
		return newHTTPServerStatusClient(url), nil
	case ProtocolGRPC:
		return newGRPCServerStatusClient(url), nil
	default:
		return nil, errUnsupportedProtocol(protocol)
	}
}
