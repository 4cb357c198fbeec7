package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/infer-perf/inferperf/internal/inferclient"
	"github.com/infer-perf/inferperf/internal/logging"
	"github.com/infer-perf/inferperf/internal/perfconfig"
	"github.com/infer-perf/inferperf/internal/perfcore"
	"github.com/infer-perf/inferperf/internal/profiling"
	"github.com/infer-perf/inferperf/internal/reporting"
)

var (
	metricsAddr     string
	profileHost     string
	profilePort     int
	profileUser     string
	profileKeyPath  string
	profileStartCmd string
	profileStopCmd  string
	profileArtifact string
	profileLocalDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a measurement against a model server",
	RunE:  runMeasurement,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	runCmd.Flags().StringVar(&profileHost, "profile-host", "", "remote host to bracket the run with a profiler (disabled if empty)")
	runCmd.Flags().IntVar(&profilePort, "profile-port", 22, "SSH port for the profiling host")
	runCmd.Flags().StringVar(&profileUser, "profile-user", "", "SSH user for the profiling host")
	runCmd.Flags().StringVar(&profileKeyPath, "profile-key", "", "path to an SSH private key for the profiling host")
	runCmd.Flags().StringVar(&profileStartCmd, "profile-start-cmd", "", "remote command that starts profiling")
	runCmd.Flags().StringVar(&profileStopCmd, "profile-stop-cmd", "", "remote command that stops profiling")
	runCmd.Flags().StringVar(&profileArtifact, "profile-artifact", "", "remote path to the profiling artifact")
	runCmd.Flags().StringVar(&profileLocalDir, "profile-local-dir", ".", "local directory to save the retrieved profiling artifact to")
}

func runMeasurement(cmd *cobra.Command, args []string) error {
	cfg, err := perfconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	runID := uuid.New().String()
	ctx := logging.WithRunID(context.Background(), runID)
	logging.Info(ctx, "starting run", "model", cfg.Model.Name, "protocol", cfg.Model.Protocol)

	protocol, err := inferclient.ParseProtocol(cfg.Model.Protocol)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	var profileCtl *profiling.Controller
	if profileHost != "" {
		key, err := os.ReadFile(profileKeyPath)
		if err != nil {
			return fmt.Errorf("read profiling key: %w", err)
		}
		profileCtl = profiling.NewController(profiling.Config{
			Host:               profileHost,
			Port:               profilePort,
			User:               profileUser,
			PrivateKey:         string(key),
			StartCommand:       profileStartCmd,
			StopCommand:        profileStopCmd,
			RemoteArtifactPath: profileArtifact,
			LocalDir:           profileLocalDir,
		}, logger)
		if err := profileCtl.Start(ctx); err != nil {
			logging.Warn(ctx, "profiling failed to start, continuing without it", "error", err.Error())
			profileCtl = nil
		}
	}

	factory := func() (inferclient.Context, error) {
		return inferclient.NewContext(protocol, cfg.Model.URL, cfg.Model.Name, cfg.Model.Version)
	}

	mode := perfcore.ModeSync
	if cfg.Load.Async {
		mode = perfcore.ModeAsync
	}

	runOpts := inferclient.RunOptions{BatchSize: cfg.Load.BatchSize}
	controller := perfcore.NewController(mode, cfg.Model.Protocol, factory, runOpts, cfg.Load.MeasurementWindow,
		perfcore.WithLogger(logger))
	defer func() {
		if err := controller.Close(); err != nil {
			logging.Error(ctx, "controller teardown error", "error", err.Error())
		}
	}()

	go forwardSignals(controller.ExitSignalHandle(), logger)

	statusClient, err := inferclient.NewServerStatusClient(protocol, cfg.Model.URL)
	if err != nil {
		return err
	}
	composer := perfcore.NewComposer(cfg.Model.Name, cfg.Model.Version, cfg.Load.BatchSize)

	sweepCfg := perfcore.SweepConfig{
		Dynamic:             cfg.Sweep.Dynamic,
		StartConcurrency:    cfg.Sweep.StartConcurrency,
		FixedConcurrency:    cfg.Sweep.FixedConcurrency,
		ConcurrencyCap:      cfg.Sweep.ConcurrencyCap,
		LatencyThresholdNS:  cfg.Sweep.LatencyThreshold.Nanoseconds(),
		MaxMeasurementCount: cfg.Load.MaxMeasurementCount,
		Tolerance:           cfg.Load.StabilityTolerance,
	}

	statuses, err := perfcore.Sweep(ctx, controller, statusClient, composer, sweepCfg)
	if err != nil {
		if len(statuses) == 0 {
			return fmt.Errorf("sweep failed: %w", err)
		}
		logging.Warn(ctx, "sweep aborted early, reporting partial results", "error", err.Error())
	}

	if profileCtl != nil {
		if path, err := profileCtl.Stop(ctx); err != nil {
			logging.Warn(ctx, "profiling failed to stop cleanly", "error", err.Error())
		} else {
			logging.Info(ctx, "profiling artifact saved", "path", path)
		}
	}

	if err := reporting.WriteHuman(os.Stdout, statuses); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}

	// The CSV summary is a sweep-over-concurrency table; a fixed run has
	// only the one operating point the human report already covers.
	if cfg.Sweep.Dynamic && cfg.Output.CSVPath != "" {
		f, err := os.Create(cfg.Output.CSVPath)
		if err != nil {
			return fmt.Errorf("create csv output: %w", err)
		}
		defer f.Close()
		if err := reporting.WriteCSV(f, statuses); err != nil {
			return fmt.Errorf("write csv report: %w", err)
		}
		logging.Info(ctx, "csv report written", "path", cfg.Output.CSVPath)
	}

	return nil
}

func forwardSignals(exit *perfcore.ExitSignal, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("signal received, interrupting the current measurement")
	exit.Raise()
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server error", "error", err.Error())
	}
}
