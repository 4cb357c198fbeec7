package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infer-perf/inferperf/internal/logging"
	"github.com/infer-perf/inferperf/internal/mockserver"
)

func main() {
	addr := flag.String("addr", ":8888", "HTTP listen address")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address (disabled if empty)")
	modelName := flag.String("model", "", "model to pre-configure (optional)")
	maxBatchSize := flag.Uint("max-batch-size", 8, "max batch size for the pre-configured model")
	latencyMS := flag.Int("latency-ms", 5, "simulated per-request latency in milliseconds")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logging.Setup(logging.Config{Level: *logLevel, Format: "text"})

	state := mockserver.NewState()
	if *modelName != "" {
		state.Configure(*modelName, uint32(*maxBatchSize),
			[]mockserver.InputSpec{{Name: "INPUT0", ByteSize: 16}},
			time.Duration(*latencyMS)*time.Millisecond, 1)
		logger.Info("pre-configured model", "model", *modelName, "max_batch_size", *maxBatchSize)
	}

	httpServer := mockserver.NewServer(state)

	if *grpcAddr != "" {
		grpcServer := mockserver.NewGRPCServer(state).Register()
		lis, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			logger.Error("failed to listen for gRPC", "error", err.Error())
			os.Exit(1)
		}
		go func() {
			logger.Info("starting mock gRPC inference server", "addr", *grpcAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err.Error())
			}
		}()
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down mock inference server")
		os.Exit(0)
	}()

	if err := httpServer.Run(*addr); err != nil {
		logger.Error("HTTP server error", "error", err.Error())
		os.Exit(1)
	}
}
