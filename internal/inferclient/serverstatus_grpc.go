package inferclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type grpcServerStatusClient struct {
	target string
}

func newGRPCServerStatusClient(target string) *grpcServerStatusClient {
	return &grpcServerStatusClient{target: target}
}

func (c *grpcServerStatusClient) GetModelStatus(ctx context.Context, modelName string) (ServerModelStatus, error) {
	conn, err := grpc.NewClient(c.target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return ServerModelStatus{}, fmt.Errorf("dial %s: %w", c.target, err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req := struct {
		ModelName string `json:"model_name"`
	}{ModelName: modelName}
	var wire wireModelStatus
	if err := conn.Invoke(callCtx, "/inference.GRPCInferenceService/ModelStatistics", &req, &wire); err != nil {
		return ServerModelStatus{}, fmt.Errorf("get model status: %w", err)
	}

	return decodeWireStatus(wire)
}
