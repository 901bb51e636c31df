package broadcast

import (
	"sync"
	"time"

	"idlecore/internal/clock"
)

// Throttler coalesces change signals into at most one emit per window. The
// emit function is expected to read the latest state itself, so a deferred
// emit always carries the state at fire time.
type Throttler struct {
	clk    clock.Clock
	window time.Duration
	emit   func()

	mu      sync.Mutex
	last    time.Time
	emitted bool
	pending clock.Timer
	stopped bool
}

func New(clk clock.Clock, window time.Duration, emit func()) *Throttler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Throttler{clk: clk, window: window, emit: emit}
}

// Notify signals that state changed.
func (t *Throttler) Notify() {
	t.mu.Lock()
	if t.stopped || t.pending != nil {
		t.mu.Unlock()
		return
	}
	now := t.clk.Now()
	since := now.Sub(t.last)
	if !t.emitted || since >= t.window {
		t.last = now
		t.emitted = true
		t.mu.Unlock()
		t.emit()
		return
	}
	t.pending = t.clk.AfterFunc(t.window-since, t.fire)
	t.mu.Unlock()
}

func (t *Throttler) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.last = t.clk.Now()
	t.emitted = true
	t.mu.Unlock()
	t.emit()
}

// Pending reports whether a deferred emit is scheduled.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Stop cancels any deferred emit; later Notify calls are ignored.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
