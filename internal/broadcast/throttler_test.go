package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"idlecore/internal/clock"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	state int
	seen  []int
	at    []time.Time
	clk   clock.Clock
}

func (r *recorder) set(v int) {
	r.mu.Lock()
	r.state = v
	r.mu.Unlock()
}

func (r *recorder) emit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, r.state)
	r.at = append(r.at, r.clk.Now())
}

func newThrottler() (*Throttler, *recorder, *clock.Fake) {
	clk := clock.NewFake(t0)
	rec := &recorder{clk: clk}
	return New(clk, 100*time.Millisecond, rec.emit), rec, clk
}

func TestFirstNotifyEmitsImmediately(t *testing.T) {
	th, rec, _ := newThrottler()
	rec.set(1)
	th.Notify()
	assert.Equal(t, []int{1}, rec.seen)
	assert.False(t, th.Pending())
}

func TestBurstWithinWindowEmitsOnceWithLatestState(t *testing.T) {
	th, rec, clk := newThrottler()
	th.Notify()
	rec.seen = nil
	rec.at = nil

	for i := 1; i <= 50; i++ {
		clk.Advance(time.Millisecond)
		rec.set(i)
		th.Notify()
	}
	assert.Empty(t, rec.seen)
	assert.True(t, th.Pending())

	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, []int{50}, rec.seen)
	assert.Equal(t, t0.Add(100*time.Millisecond), rec.at[0])
}

func TestLatestStateIsReadAtFireTime(t *testing.T) {
	th, rec, clk := newThrottler()
	th.Notify()
	clk.Advance(10 * time.Millisecond)
	rec.set(7)
	th.Notify()
	// Changed after scheduling, with no further Notify.
	rec.set(8)
	clk.Advance(90 * time.Millisecond)
	assert.Equal(t, []int{0, 8}, rec.seen)
}

func TestNotifyAfterWindowEmitsImmediately(t *testing.T) {
	th, rec, clk := newThrottler()
	th.Notify()
	clk.Advance(250 * time.Millisecond)
	rec.set(3)
	th.Notify()
	assert.Equal(t, []int{0, 3}, rec.seen)
	assert.False(t, th.Pending())
}

func TestAtMostOneEmitPerWindow(t *testing.T) {
	th, rec, clk := newThrottler()
	for i := 0; i < 1000; i++ {
		rec.set(i)
		th.Notify()
		clk.Advance(7 * time.Millisecond)
	}
	clk.Advance(time.Second)
	for i := 1; i < len(rec.at); i++ {
		assert.GreaterOrEqual(t, rec.at[i].Sub(rec.at[i-1]), 100*time.Millisecond)
	}
	assert.Equal(t, 999, rec.seen[len(rec.seen)-1])
}

func TestStopCancelsPending(t *testing.T) {
	th, rec, clk := newThrottler()
	th.Notify()
	clk.Advance(time.Millisecond)
	th.Notify()
	th.Stop()
	clk.Advance(time.Second)
	th.Notify()
	assert.Len(t, rec.seen, 1)
	assert.Zero(t, clk.Pending())
}
