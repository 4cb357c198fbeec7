package cmd

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/infer-perf/inferperf/internal/logging"
	"github.com/infer-perf/inferperf/internal/mockserver"
)

var (
	mockAddr         string
	mockGRPCAddr     string
	mockModel        string
	mockMaxBatchSize uint32
	mockLatencyMS    int
)

var serveMockCmd = &cobra.Command{
	Use:   "serve-mock",
	Short: "host a synthetic inference server to run against",
	RunE:  runServeMock,
}

func init() {
	rootCmd.AddCommand(serveMockCmd)
	serveMockCmd.Flags().StringVar(&mockAddr, "addr", ":8888", "HTTP listen address")
	serveMockCmd.Flags().StringVar(&mockGRPCAddr, "grpc-addr", "", "gRPC listen address (disabled if empty)")
	serveMockCmd.Flags().StringVar(&mockModel, "model", "", "model to pre-configure (optional)")
	serveMockCmd.Flags().Uint32Var(&mockMaxBatchSize, "max-batch-size", 8, "max batch size for the pre-configured model")
	serveMockCmd.Flags().IntVar(&mockLatencyMS, "latency-ms", 5, "simulated per-request latency in milliseconds")
}

func runServeMock(cmd *cobra.Command, args []string) error {
	logger := logging.Setup(logging.Config{Level: "info", Format: "text"})

	state := mockserver.NewState()
	if mockModel != "" {
		state.Configure(mockModel, mockMaxBatchSize,
			[]mockserver.InputSpec{{Name: "INPUT0", ByteSize: 16}},
			time.Duration(mockLatencyMS)*time.Millisecond, 1)
		logger.Info("pre-configured model", "model", mockModel, "max_batch_size", mockMaxBatchSize)
	}

	httpServer := mockserver.NewServer(state)

	if mockGRPCAddr != "" {
		grpcServer := mockserver.NewGRPCServer(state).Register()
		lis, err := net.Listen("tcp", mockGRPCAddr)
		if err != nil {
			return fmt.Errorf("listen for gRPC: %w", err)
		}
		go func() {
			logger.Info("starting mock gRPC inference server", "addr", mockGRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err.Error())
			}
		}()
	}

	return httpServer.Run(mockAddr)
}
