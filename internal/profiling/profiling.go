// Package profiling starts a remote profiler alongside a measurement run
// and retrieves its artifact afterward. It never influences measurement
// semantics and never fails a run; callers log and continue on error.
package profiling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/infer-perf/inferperf/internal/filetransfer"
	perfssh "github.com/infer-perf/inferperf/internal/ssh"
)

// Config describes the remote host and commands used to bracket a
// measurement run with a profiler.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey string

	StartCommand string
	StopCommand  string

	// RemoteArtifactPath is the file the stop command is expected to
	// leave behind; it is retrieved via SFTP and written under LocalDir.
	RemoteArtifactPath string
	LocalDir           string
}

// Controller starts and stops a remote profiling session around a
// measurement run.
type Controller struct {
	cfg      Config
	executor *perfssh.Executor
	verifier *perfssh.Verifier
	conn     *perfssh.Connection
	logger   *slog.Logger
}

// NewController builds a profiling Controller. It does not connect until
// Start is called.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		executor: perfssh.NewExecutor(),
		verifier: perfssh.NewVerifier(
			perfssh.WithVerifyTimeout(2*time.Minute),
			perfssh.WithCheckInterval(5*time.Second),
		),
		logger: logger,
	}
}

// Start waits for the profiling host to accept SSH connections, then
// issues the start command. The wait tolerates a profiler sidecar that
// is still booting when a run begins; failure here is non-fatal to the
// caller, who proceeds with the measurement regardless.
func (c *Controller) Start(ctx context.Context) error {
	creds := perfssh.Credentials{Host: c.cfg.Host, Port: c.cfg.Port, User: c.cfg.User, PrivateKey: c.cfg.PrivateKey}

	if _, err := c.verifier.Verify(ctx, creds); err != nil {
		return fmt.Errorf("profiling: verify connectivity: %w", err)
	}

	conn, err := c.executor.Connect(ctx, creds)
	if err != nil {
		return fmt.Errorf("profiling: connect: %w", err)
	}
	c.conn = conn

	if _, stderr, err := c.executor.RunCommand(ctx, conn, c.cfg.StartCommand); err != nil {
		return fmt.Errorf("profiling: start command: %w (stderr: %s)", err, stderr)
	}
	c.logger.Info("profiling started", "host", c.cfg.Host, "command", c.cfg.StartCommand)
	return nil
}

// Stop issues the stop command, retrieves the resulting artifact over
// SFTP, and closes the connection. Any failure is logged by the caller;
// it never aborts the measurement that was running alongside it.
func (c *Controller) Stop(ctx context.Context) (localPath string, err error) {
	if c.conn == nil {
		return "", fmt.Errorf("profiling: stop called without a started session")
	}
	defer func() {
		if closeErr := c.conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("profiling: close connection: %w", closeErr)
		}
		c.conn = nil
	}()

	if _, stderr, runErr := c.executor.RunCommand(ctx, c.conn, c.cfg.StopCommand); runErr != nil {
		return "", fmt.Errorf("profiling: stop command: %w (stderr: %s)", runErr, stderr)
	}

	path, fetchErr := c.fetchArtifact(ctx)
	if fetchErr != nil {
		return "", fmt.Errorf("profiling: fetch artifact: %w", fetchErr)
	}
	c.logger.Info("profiling artifact retrieved", "path", path)
	return path, nil
}

func (c *Controller) fetchArtifact(ctx context.Context) (string, error) {
	transfer := filetransfer.New(filetransfer.Credentials{
		Host:       c.cfg.Host,
		Port:       c.cfg.Port,
		User:       c.cfg.User,
		PrivateKey: []byte(c.cfg.PrivateKey),
	}, filetransfer.WithConnectTimeout(perfssh.DefaultExecutorConnectTimeout))

	if exists, err := transfer.RemoteFileExists(ctx, c.cfg.RemoteArtifactPath); err == nil && !exists {
		return "", fmt.Errorf("stop command did not leave an artifact at %s", c.cfg.RemoteArtifactPath)
	}

	localPath := fmt.Sprintf("%s/profile-%d.out", c.cfg.LocalDir, time.Now().UnixNano())
	if err := transfer.Download(ctx, c.cfg.RemoteArtifactPath, localPath); err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	return localPath, nil
}
