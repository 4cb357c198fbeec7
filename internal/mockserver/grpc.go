package mockserver

import (
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	_ "github.com/infer-perf/inferperf/internal/inferclient" // registers the "json" grpc codec subtype
)

// GRPCServer mirrors the HTTP mock server's three endpoints over
// inference.GRPCInferenceService. There is no protobuf descriptor for
// that service here, so requests are routed by an unknown-service
// handler matching on method name, exactly as inferclient's grpcContext
// invokes them (grpc.go, serverstatus_grpc.go).
type GRPCServer struct {
	state  *State
	logger *slog.Logger
}

// NewGRPCServer builds a gRPC mock server over state. A nil state
// allocates a fresh one.
func NewGRPCServer(state *State) *GRPCServer {
	if state == nil {
		state = NewState()
	}
	return &GRPCServer{state: state, logger: slog.Default()}
}

// Register builds a *grpc.Server dispatching every inbound call through
// this mock's unknown-service handler.
func (g *GRPCServer) Register() *grpc.Server {
	return grpc.NewServer(grpc.UnknownServiceHandler(g.handleUnknown))
}

const (
	methodModelMetadata   = "/inference.GRPCInferenceService/ModelMetadata"
	methodModelStatistics = "/inference.GRPCInferenceService/ModelStatistics"
	methodModelInferPfx   = "/inference.GRPCInferenceService/ModelInfer/"
)

func (g *GRPCServer) handleUnknown(srv any, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method on stream")
	}

	switch {
	case method == methodModelMetadata:
		return g.modelMetadata(stream)
	case method == methodModelStatistics:
		return g.modelStatistics(stream)
	case strings.HasPrefix(method, methodModelInferPfx):
		return g.modelInfer(method, stream)
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

type modelNameRequest struct {
	ModelName string `json:"model_name"`
}

func (g *GRPCServer) modelMetadata(stream grpc.ServerStream) error {
	var req modelNameRequest
	if err := stream.RecvMsg(&req); err != nil {
		return status.Errorf(codes.Internal, "recv: %v", err)
	}

	m, ok := g.state.get(req.ModelName)
	if !ok {
		return status.Errorf(codes.NotFound, "model %q not found", req.ModelName)
	}

	maxBatch, inputs, _ := m.snapshotMeta()
	resp := modelMetadataResponse{MaxBatchSize: maxBatch}
	for _, in := range inputs {
		resp.Inputs = append(resp.Inputs, wireInputMeta{Name: in.Name, ByteSize: in.ByteSize})
	}
	return stream.SendMsg(&resp)
}

func (g *GRPCServer) modelStatistics(stream grpc.ServerStream) error {
	var req modelNameRequest
	if err := stream.RecvMsg(&req); err != nil {
		return status.Errorf(codes.Internal, "recv: %v", err)
	}

	m, ok := g.state.get(req.ModelName)
	if !ok {
		return status.Errorf(codes.NotFound, "model %q not found", req.ModelName)
	}

	snapshot := m.snapshotStats()
	resp := modelStatusResponse{
		ModelName:     req.ModelName,
		VersionStatus: make(map[string]versionStatusWire, len(snapshot)),
	}
	for version, batches := range snapshot {
		batchMap := make(map[string]wireInferStats, len(batches))
		for batchSize, stats := range batches {
			var w wireInferStats
			w.Success.Count = stats.SuccessCount
			w.Success.TotalNS = stats.SuccessTotalTime
			w.Queue.TotalNS = stats.QueueTotalTime
			w.Compute.TotalNS = stats.ComputeTotalTime
			batchMap[strconv.FormatUint(uint64(batchSize), 10)] = w
		}
		resp.VersionStatus[strconv.FormatInt(version, 10)] = versionStatusWire{InferStats: batchMap}
	}
	return stream.SendMsg(&resp)
}

// modelInfer handles "ModelInfer/{model}/{version}", the path shape
// grpcContext.Run encodes the target model and version into since this
// mock has no generated InferRequest message carrying them as fields.
func (g *GRPCServer) modelInfer(method string, stream grpc.ServerStream) error {
	suffix := strings.TrimPrefix(method, methodModelInferPfx)
	parts := strings.SplitN(suffix, "/", 2)
	if len(parts) != 2 {
		return status.Errorf(codes.InvalidArgument, "malformed infer method %s", method)
	}
	modelName := parts[0]
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid version in %s: %v", method, err)
	}

	m, ok := g.state.get(modelName)
	if !ok {
		return status.Errorf(codes.NotFound, "model %q not found", modelName)
	}

	var req inferRequestWire
	if err := stream.RecvMsg(&req); err != nil {
		return status.Errorf(codes.Internal, "recv: %v", err)
	}
	batchSize := wireBatchSize(req)

	latency := m.beginInfer()
	defer m.endInfer()

	queueNS := int64(rand.Intn(1000000))
	computeNS := latency.Nanoseconds() - queueNS
	if computeNS < 0 {
		computeNS = latency.Nanoseconds()
		queueNS = 0
	}
	time.Sleep(latency)

	m.recordInfer(version, batchSize, queueNS, computeNS)
	return stream.SendMsg(&struct{}{})
}
