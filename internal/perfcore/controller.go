package perfcore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/infer-perf/inferperf/internal/inferclient"
)

// Mode selects which Worker variant a Controller drives.
type Mode int

const (
	// ModeSync maintains one goroutine per unit of concurrency, each
	// sustaining exactly one in-flight request.
	ModeSync Mode = iota
	// ModeAsync maintains a single goroutine holding up to pause_index
	// in-flight requests via the transport's async API.
	ModeAsync
)

// ContextFactory creates a fresh inference Context bound to a fixed
// (url, protocol, model, version, batch size, outputs). The Controller
// calls it once per sync worker, or once for the sole async worker.
type ContextFactory func() (inferclient.Context, error)

// workerHandle is independently owned and outlives the worker goroutine
// so the Controller can read it at teardown.
type workerHandle struct {
	index int
	ctx   inferclient.Context

	mu  sync.Mutex
	err error
}

func (h *workerHandle) setErr(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
}

func (h *workerHandle) getErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Controller owns the worker set: it grows it on demand and pauses or
// resumes workers without destroying them to change the active
// concurrency level.
type Controller struct {
	mode       Mode
	protocol   string
	newContext ContextFactory
	runOpts    inferclient.RunOptions
	clock      Clock
	window     measurementWindow
	logger     *slog.Logger

	// status_report_mutex: guards timestamps and workerStats together.
	statusMu    sync.Mutex
	timestamps  []Timestamp
	workerStats []inferclient.ContextStat

	// wake_mutex + wake_signal: guards pauseIndex and wakes parked
	// workers. Never acquired while statusMu is held.
	wakeMu     sync.Mutex
	wakeCond   *sync.Cond
	pauseIndex int

	workers     []*workerHandle // sync mode: one per unit of concurrency
	asyncHandle *workerHandle   // async mode: the single shared worker
	asyncWorker *asyncWorker

	exit *ExitSignal
	wg   sync.WaitGroup
}

// NewController constructs a Controller. factory must be safe to call
// concurrently; the Controller calls it once per worker it spawns.
func NewController(mode Mode, protocol string, factory ContextFactory, runOpts inferclient.RunOptions, window time.Duration, opts ...ControllerOption) *Controller {
	c := &Controller{
		mode:       mode,
		protocol:   protocol,
		newContext: factory,
		runOpts:    runOpts,
		clock:      SystemClock{},
		window:     measurementWindow{length: window},
		logger:     slog.Default(),
		exit:       &ExitSignal{},
	}
	c.wakeCond = sync.NewCond(&c.wakeMu)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ControllerOption configures optional Controller behavior.
type ControllerOption func(*Controller)

// WithClock overrides the clock that failure sentinels are stamped with.
func WithClock(clock Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// ExitSignalHandle returns the Controller's exit flag so a caller (the CLI's
// signal handler) can raise it.
func (c *Controller) ExitSignalHandle() *ExitSignal {
	return c.exit
}

// recordCompletion is the worker-side critical section: append the
// timestamp and copy the context's current stat snapshot, both under
// status_report_mutex.
func (c *Controller) recordCompletion(workerIndex int, ts Timestamp, stat inferclient.ContextStat) {
	c.statusMu.Lock()
	c.timestamps = append(c.timestamps, ts)
	for len(c.workerStats) <= workerIndex {
		c.workerStats = append(c.workerStats, inferclient.ContextStat{})
	}
	c.workerStats[workerIndex] = stat
	c.statusMu.Unlock()
}

// drainStatus is the Sampler's side of the same critical section: swap
// the timestamp buffer for an empty one, then release the lock before
// any analysis happens. The per-worker stat cells are read separately
// via snapshotContextStats, bracketing the sleep rather than the drain.
func (c *Controller) drainStatus() []Timestamp {
	c.statusMu.Lock()
	ts := c.timestamps
	c.timestamps = nil
	c.statusMu.Unlock()
	return ts
}

// snapshotContextStats aggregates the per-worker stat cells last written
// under status_report_mutex, without draining the timestamp buffer, for
// use as a Sampler window boundary.
func (c *Controller) snapshotContextStats() inferclient.ContextStat {
	c.statusMu.Lock()
	stats := append([]inferclient.ContextStat(nil), c.workerStats...)
	c.statusMu.Unlock()
	return aggregateContextStat(stats)
}

// sleepOrExit sleeps for d in short increments, returning early (true)
// if the exit flag is raised mid-sleep, so an interrupt does not have to
// wait out a full measurement window.
func (c *Controller) sleepOrExit(d time.Duration) bool {
	const pollInterval = 20 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		if c.exit.Raised() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}
		time.Sleep(remaining)
	}
}

// aggregateContextStat sums the per-worker stat cells into the single
// ContextStat the Composer needs.
func aggregateContextStat(stats []inferclient.ContextStat) inferclient.ContextStat {
	var agg inferclient.ContextStat
	for _, s := range stats {
		agg.CompletedRequestCount += s.CompletedRequestCount
		agg.CumulativeTotalRequestTime += s.CumulativeTotalRequestTime
		agg.CumulativeSendTime += s.CumulativeSendTime
		agg.CumulativeReceiveTime += s.CumulativeReceiveTime
	}
	return agg
}

// waitWhilePaused blocks a worker whose index is >= pauseIndex until the
// controller raises pauseIndex past it, or the exit flag is raised.
func (c *Controller) waitWhilePaused(index int) (shouldExit bool) {
	c.wakeMu.Lock()
	defer c.wakeMu.Unlock()
	for index >= c.pauseIndex && !c.exit.Raised() {
		c.wakeCond.Wait()
	}
	return c.exit.Raised()
}

// currentPauseIndex reads pauseIndex under wake_mutex.
func (c *Controller) currentPauseIndex() int {
	c.wakeMu.Lock()
	defer c.wakeMu.Unlock()
	return c.pauseIndex
}

// resize sets pauseIndex to target and, in sync mode, spawns new workers
// if target exceeds the current worker count. Workers never shrink in
// number; concurrency decreases only by lowering pauseIndex so trailing
// workers park.
func (c *Controller) resize(target int) error {
	if c.mode == ModeAsync {
		c.wakeMu.Lock()
		c.pauseIndex = target
		c.wakeCond.Broadcast()
		c.wakeMu.Unlock()

		if c.asyncWorker == nil {
			if err := c.spawnAsyncWorker(); err != nil {
				return err
			}
		}
		return nil
	}

	c.wakeMu.Lock()
	current := len(c.workers)
	c.wakeMu.Unlock()

	if target > current {
		for i := current; i < target; i++ {
			if err := c.spawnSyncWorker(i); err != nil {
				return err
			}
		}
	}

	c.wakeMu.Lock()
	c.pauseIndex = target
	c.wakeCond.Broadcast()
	c.wakeMu.Unlock()
	return nil
}

func (c *Controller) spawnSyncWorker(index int) error {
	ctx, err := c.newContext()
	if err != nil {
		return NewMeasurementError(StageSetup, "create context", err)
	}
	if err := ctx.SetRunOptions(c.runOpts); err != nil {
		_ = ctx.Close()
		return NewMeasurementError(StageSetup, "set run options", err)
	}

	h := &workerHandle{index: index, ctx: ctx}

	c.wakeMu.Lock()
	c.workers = append(c.workers, h)
	c.wakeMu.Unlock()

	w := &syncWorker{handle: h, controller: c}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		w.run()
	}()
	return nil
}

func (c *Controller) spawnAsyncWorker() error {
	ctx, err := c.newContext()
	if err != nil {
		return NewMeasurementError(StageSetup, "create context", err)
	}
	if err := ctx.SetRunOptions(c.runOpts); err != nil {
		_ = ctx.Close()
		return NewMeasurementError(StageSetup, "set run options", err)
	}

	h := &workerHandle{index: 0, ctx: ctx}
	c.asyncHandle = h

	w := &asyncWorker{handle: h, controller: c}
	c.asyncWorker = w
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		w.run()
	}()
	return nil
}

// healthCheck returns the first terminal worker error, if any.
func (c *Controller) healthCheck() error {
	c.wakeMu.Lock()
	handles := append([]*workerHandle(nil), c.workers...)
	if c.asyncHandle != nil {
		handles = append(handles, c.asyncHandle)
	}
	c.wakeMu.Unlock()

	for _, h := range handles {
		if err := h.getErr(); err != nil {
			return NewMeasurementError(StageSetup, "worker health check", fmt.Errorf("%w: %v", ErrWorkerUnhealthy, err))
		}
	}
	return nil
}

// Close tears the Controller down: raises the exit flag, ensures no
// worker is parked, wakes everyone, joins all goroutines, and reports the
// first non-nil worker error.
func (c *Controller) Close() error {
	c.logger.Info("tearing down controller", "workers", c.workerCount(), "mode", c.mode)
	c.exit.Raise()

	c.wakeMu.Lock()
	if c.mode == ModeSync {
		c.pauseIndex = len(c.workers) + 1
	} else {
		c.pauseIndex = 1 << 30
	}
	c.wakeCond.Broadcast()
	c.wakeMu.Unlock()

	c.wg.Wait()

	var firstErr error
	for _, h := range c.workers {
		if err := ctxCloseErr(h.ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := h.getErr(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.asyncHandle != nil {
		if err := ctxCloseErr(c.asyncHandle.ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.asyncHandle.getErr(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func ctxCloseErr(ctx inferclient.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Close()
}

// activeConcurrency reports how many workers are currently unparked, for
// tests verifying a pause leaves exactly the requested count running.
func (c *Controller) activeConcurrency() int {
	c.wakeMu.Lock()
	defer c.wakeMu.Unlock()
	n := c.pauseIndex
	if c.mode == ModeSync && n > len(c.workers) {
		n = len(c.workers)
	}
	return n
}

// workerCount reports how many sync workers have been spawned so far.
func (c *Controller) workerCount() int {
	c.wakeMu.Lock()
	defer c.wakeMu.Unlock()
	return len(c.workers)
}
