// Package pulse implements the shared wakeup primitive the supervisor
// uses to tell an idle worker to re-attempt a fetch without busy-polling.
package pulse

import "sync/atomic"

// Signal is a shared auto-reset event: Set wakes exactly one waiter; if
// no one is waiting, the next call to Wait returns immediately. It
// reproduces the teacher corpus's single-event-shared-by-N-workers shape
// with a buffered channel of capacity 1, which already has exactly that
// semantics (a full channel drops no further sends are needed, a receive
// drains it for exactly one waiter).
type Signal struct {
	ch chan struct{}
}

// New returns a Signal with no pending wakeup.
func New() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Set wakes one waiter. If the channel is already full (a previous Set
// has not yet been consumed), the call is a no-op: one pending wakeup is
// exactly as good as two, since a woken worker always drains the queue
// before waiting again.
func (s *Signal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel to select on, so callers can wait on
// {pulse, cancellation, timeout} without an extra goroutine.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// WaitingCount tracks how many workers are currently blocked on the
// pulse, so Pulse's fast path can skip signaling when at least one worker
// is not waiting and so is already draining (advisory only: correctness
// never depends on it being exact).
type WaitingCount struct {
	n atomic.Int64
}

func (w *WaitingCount) Inc() { w.n.Add(1) }
func (w *WaitingCount) Dec() { w.n.Add(-1) }

// AllWaiting reports whether every one of total workers is currently
// parked on the pulse. Racy by construction: a worker may transition in
// or out of the wait between this check and the caller's next action.
func (w *WaitingCount) AllWaiting(total int) bool {
	return int(w.n.Load()) >= total
}
