package queue

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

const DefaultGranularity = time.Second

// Timer fires once after a duration has passed on either the monotonic
// clock or the wall clock, whichever gets there first. The monotonic clock
// stops while the host sleeps; the wall clock does not.
type Timer struct {
	clock       mclock.Clock
	wall        func() time.Time
	granularity time.Duration

	mu      sync.Mutex
	pending mclock.Timer
	gen     uint64
}

func NewTimer(clock mclock.Clock, wall func() time.Time, granularity time.Duration) *Timer {
	if clock == nil {
		clock = mclock.System{}
	}
	if wall == nil {
		wall = time.Now
	}
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	return &Timer{clock: clock, wall: wall, granularity: granularity}
}

// Reset cancels any pending schedule and arranges for fn to run after d.
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	start := t.clock.Now()
	wallStart := t.wall()
	t.scheduleLocked(gen, start, wallStart, d, d, fn)
}

// Stop cancels the pending schedule, if any.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
}

// Pending reports whether fn is still waiting to run.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

func (t *Timer) stopLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

func (t *Timer) scheduleLocked(gen uint64, start mclock.AbsTime, wallStart time.Time, d, remaining time.Duration, fn func()) {
	wait := remaining
	if wait > t.granularity {
		wait = t.granularity
	}
	t.pending = t.clock.AfterFunc(wait, func() {
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		elapsed := time.Duration(t.clock.Now() - start)
		if wallElapsed := t.wall().Sub(wallStart); wallElapsed > elapsed {
			elapsed = wallElapsed
		}
		if elapsed >= d {
			t.pending = nil
			t.mu.Unlock()
			fn()
			return
		}
		t.scheduleLocked(gen, start, wallStart, d, d-elapsed, fn)
		t.mu.Unlock()
	})
}
