package perfcore

import "sync/atomic"

// ExitSignal is a lock-free flag, one per Controller, observed at every
// worker loop head. It is monotonic one-way: once raised it never lowers, so no
// lock is required to read or write it.
//
// cmd/inferperf forwards os/signal notifications into the active
// Controller's ExitSignal rather than this type importing os/signal
// itself, keeping the core free of process-global state.
type ExitSignal struct {
	raised atomic.Bool
}

// Raise sets the flag. Idempotent.
func (e *ExitSignal) Raise() {
	e.raised.Store(true)
}

// Raised reports whether the flag has been set.
func (e *ExitSignal) Raised() bool {
	return e.raised.Load()
}
