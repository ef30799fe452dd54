// Package rtimer implements the "timer as an owned handle" idiom used
// throughout the sender and receiver engines (spec.md section 9): every
// scheduled timer has exactly one owner that can cancel it, and a session's
// teardown path cancels every timer it owns before it is destroyed.
//
// Handles are built on clockwork.Clock rather than the real time package
// directly so that pacing intervals, hole-scan delays and TTL sweeps can be
// driven deterministically from tests via a clockwork.FakeClock.
package rtimer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle owns a single scheduled callback. It is safe to cancel or
// reschedule a Handle from any goroutine; cancelling a Handle that already
// fired, or one that was never scheduled, is a harmless no-op.
type Handle struct {
	mu    sync.Mutex
	clock clockwork.Clock
	timer clockwork.Timer
}

// New returns an unscheduled Handle bound to clock. Call Schedule to arm
// it.
func New(clock clockwork.Clock) *Handle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handle{clock: clock}
}

// Schedule arms a new callback after d, cancelling any previously scheduled
// callback this Handle owned.
func (h *Handle) Schedule(d time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = h.clock.AfterFunc(d, fn)
}

// Cancel stops the currently scheduled callback, if any. It reports
// whether a pending callback was actually stopped.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer == nil {
		return false
	}
	ok := h.timer.Stop()
	h.timer = nil
	return ok
}
