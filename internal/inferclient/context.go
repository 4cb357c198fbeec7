// Package inferclient exposes an inference Context that can run
// synchronous or asynchronous requests against a remote model, plus a
// ServerStatusClient that reads the server's own counters. HTTP and gRPC
// implementations share this one interface so the concurrency manager
// never branches on protocol in its hot path.
package inferclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Protocol selects the wire transport a Context is created over.
type Protocol int

const (
	// ProtocolHTTP speaks a KServe-v2-shaped REST API.
	ProtocolHTTP Protocol = iota
	// ProtocolGRPC speaks the same request/response shapes over gRPC,
	// using a JSON codec rather than generated protobuf bindings.
	ProtocolGRPC
)

// ParseProtocol matches a protocol name case-insensitively ("http",
// "HTTP", "gRPC", ...).
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "http":
		return ProtocolHTTP, nil
	case "grpc":
		return ProtocolGRPC, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q: must be http or grpc", s)
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolGRPC:
		return "grpc"
	default:
		return "unknown"
	}
}

// Input describes one model input tensor. ByteSize is negative for a
// variable-size input, which the worker setup phase rejects.
type Input struct {
	Name     string
	ByteSize int64
}

// RunOptions configures the batch size and requested outputs for every
// subsequent Run/AsyncRun call on a Context.
type RunOptions struct {
	BatchSize        uint32
	RequestedOutputs []string
}

// RequestID identifies one in-flight asynchronous request so its
// completion can be matched back to the t_start recorded when it was
// submitted.
type RequestID string

// Timing is the pair of wall-clock Unix-nanosecond timestamps
// (time.Now().UnixNano()) a transport captures around one request:
// SubmitNS when the call was issued, CompleteNS when its result became
// available. They are not monotonic readings, so a step of the system
// clock during a request shifts them. The worker composes these into a
// perfcore.Timestamp.
type Timing struct {
	SubmitNS   int64
	CompleteNS int64
}

// ContextStat mirrors the four monotonic accumulators the client library
// maintains per context. All four fields are non-decreasing for the
// lifetime of the Context.
type ContextStat struct {
	CompletedRequestCount      uint64
	CumulativeTotalRequestTime int64 // nanoseconds
	CumulativeSendTime         int64 // nanoseconds
	CumulativeReceiveTime      int64 // nanoseconds
}

// Sub returns s - start, field-wise. Used to compute per-window averages
// from two successive snapshots.
func (s ContextStat) Sub(start ContextStat) ContextStat {
	return ContextStat{
		CompletedRequestCount:      s.CompletedRequestCount - start.CompletedRequestCount,
		CumulativeTotalRequestTime: s.CumulativeTotalRequestTime - start.CumulativeTotalRequestTime,
		CumulativeSendTime:         s.CumulativeSendTime - start.CumulativeSendTime,
		CumulativeReceiveTime:      s.CumulativeReceiveTime - start.CumulativeReceiveTime,
	}
}

// ErrUnavailable is returned by GetReadyAsyncRequest when non-blocking and
// nothing is ready yet.
var ErrUnavailable = errors.New("no async request ready")

// ErrVariableSizeInput is returned during Context setup when an input has
// no fixed byte size.
var ErrVariableSizeInput = errors.New("input has variable byte size")

// ErrBatchSizeTooLarge is returned during Context setup when the
// requested batch size exceeds the context's advertised maximum.
var ErrBatchSizeTooLarge = errors.New("batch size exceeds context maximum")

// Context is the capability surface the concurrency manager drives. One
// Context is created per synchronous worker; exactly one is created and
// shared by the (at most one) asynchronous worker.
type Context interface {
	// MaxBatchSize returns the model's advertised maximum batch size.
	MaxBatchSize() uint32

	// Inputs returns the model's input descriptors.
	Inputs() []Input

	// SetRunOptions sets the batch size and requested outputs for
	// subsequent Run/AsyncRun calls. Returns ErrBatchSizeTooLarge if
	// opts.BatchSize > MaxBatchSize(). A variable-size input is rejected
	// earlier, with ErrVariableSizeInput, when the Context is created.
	SetRunOptions(opts RunOptions) error

	// Run issues one synchronous inference call reusing the
	// preallocated input buffers, and returns the timing captured around
	// it. Callers read Stat() afterward for the updated counters.
	Run(ctx context.Context) (Timing, error)

	// AsyncRun submits one request without waiting for its result,
	// returning an id to match against a later completion.
	AsyncRun(ctx context.Context) (RequestID, error)

	// GetReadyAsyncRequest waits for (blocking=true) or polls for
	// (blocking=false) one completed async request. Returns
	// ErrUnavailable if blocking is false and none is ready.
	GetReadyAsyncRequest(ctx context.Context, blocking bool) (RequestID, Timing, error)

	// Stat returns a snapshot of this context's cumulative counters.
	Stat() ContextStat

	// Close releases any transport resources held by the context.
	Close() error
}

// NewContext creates a Context for (protocol, url, modelName, modelVersion).
// Selected once at start-up; nothing downstream branches on protocol
// again.
func NewContext(protocol Protocol, url, modelName string, modelVersion int64) (Context, error) {
	switch protocol {
	case ProtocolHTTP:
		return newHTTPContext(url, modelName, modelVersion)
	case ProtocolGRPC:
		return newGRPCContext(url, modelName, modelVersion)
	default:
		return nil, errUnsupportedProtocol(protocol)
	}
}

func errUnsupportedProtocol(p Protocol) error {
	return fmt.Errorf("unsupported protocol %v", p)
}
