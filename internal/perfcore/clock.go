package perfcore

import "time"

// Clock is the time source the workers stamp failure sentinels with;
// successful requests carry the transport's own Timing instead, and the
// Sampler does not read it. It is an interface (rather than a bare
// time.Now() call) so tests can supply a fixed time.
type Clock interface {
	NowNS() int64
}

// SystemClock reads time.Now() and reports it as Unix nanoseconds, the
// same time base the transports' Timing values use. UnixNano drops the
// monotonic reading time.Now() carries, so the value follows the wall
// clock and moves if the system clock is stepped.
type SystemClock struct{}

// NowNS returns the current wall-clock time in nanoseconds since the Unix
// epoch.
func (SystemClock) NowNS() int64 {
	return time.Now().UnixNano()
}
