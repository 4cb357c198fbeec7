package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// DefaultExecutorConnectTimeout is the default timeout for establishing SSH connections
	DefaultExecutorConnectTimeout = 30 * time.Second

	// DefaultExecutorCommandTimeout is the default timeout for command execution
	DefaultExecutorCommandTimeout = 60 * time.Second
)

// Connection represents an established SSH connection to a profiling host
type Connection struct {
	client *ssh.Client
	host   string
	port   int
	user   string
}

// Host returns the connection's host
func (c *Connection) Host() string {
	return c.host
}

// Port returns the connection's port
func (c *Connection) Port() int {
	return c.port
}

// User returns the connection's user
func (c *Connection) User() string {
	return c.user
}

// Close closes the SSH connection
func (c *Connection) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Executor issues commands against a profiling sidecar over SSH.
// Pattern: Connect to a host, run the start/stop commands, close when done.
type Executor struct {
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// ExecutorOption configures the Executor
type ExecutorOption func(*Executor)

// WithExecutorConnectTimeout sets the connection timeout for the executor
func WithExecutorConnectTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.connectTimeout = d
	}
}

// WithExecutorCommandTimeout sets the command execution timeout for the executor
func WithExecutorCommandTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.commandTimeout = d
	}
}

// NewExecutor creates an executor with configurable timeouts
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		connectTimeout: DefaultExecutorConnectTimeout,
		commandTimeout: DefaultExecutorCommandTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Connect establishes an SSH connection to the profiling host named by creds
func (e *Executor) Connect(ctx context.Context, creds Credentials) (*Connection, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User: creds.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // profiling hosts are not known in advance
		Timeout:         e.connectTimeout,
	}

	addr := creds.addr()

	// Create a connection with context support
	dialer := net.Dialer{Timeout: e.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// Wrap the connection with SSH
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	return &Connection{
		client: client,
		host:   creds.Host,
		port:   creds.Port,
		user:   creds.User,
	}, nil
}

// RunCommand executes the profiler's start/stop command and returns stdout/stderr
func (e *Executor) RunCommand(ctx context.Context, conn *Connection, cmd string) (stdout, stderr string, err error) {
	if conn == nil || conn.client == nil {
		return "", "", fmt.Errorf("connection is nil or closed")
	}

	session, err := conn.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	// Create a context with command timeout if not already set
	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	// Use a goroutine to run the command with context cancellation
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case runErr := <-done:
		stdout = strings.TrimSpace(stdoutBuf.String())
		stderr = strings.TrimSpace(stderrBuf.String())
		return stdout, stderr, runErr
	case <-cmdCtx.Done():
		session.Signal(ssh.SIGKILL)
		return "", "", fmt.Errorf("command timed out: %w", cmdCtx.Err())
	}
}
