package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsInOrder(t *testing.T) {
	q := New()
	defer q.Close()

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, q.Async(func() { got = append(got, i) }))
	}
	var snapshot []int
	require.True(t, q.Sync(func() { snapshot = append([]int(nil), got...) }))

	require.Len(t, snapshot, 50)
	for i, v := range snapshot {
		assert.Equal(t, i, v)
	}
}

func TestQueue_AsyncFromQueuedFunction(t *testing.T) {
	q := New()
	defer q.Close()

	done := make(chan struct{})
	q.Async(func() {
		q.Async(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested task never ran")
	}
}

func TestQueue_ClosedRejectsWork(t *testing.T) {
	q := New()
	q.Close()
	q.Close()

	var ran atomic.Bool
	assert.False(t, q.Async(func() { ran.Store(true) }))
	assert.False(t, q.Sync(func() { ran.Store(true) }))
	assert.True(t, q.Closed())
	assert.False(t, ran.Load())
}

type fakeWall struct {
	mu  sync.Mutex
	now time.Time
}

func (w *fakeWall) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *fakeWall) Advance(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = w.now.Add(d)
}

func TestTimer_FiresOnMonotonicClock(t *testing.T) {
	clock := &mclock.Simulated{}
	wall := &fakeWall{now: time.Unix(1000, 0)}
	timer := NewTimer(clock, wall.Now, time.Second)

	var fired atomic.Int32
	timer.Reset(60*time.Second, func() { fired.Add(1) })
	assert.True(t, timer.Pending())

	clock.Run(59 * time.Second)
	assert.Equal(t, int32(0), fired.Load())

	clock.Run(time.Second)
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, timer.Pending())

	clock.Run(2 * time.Minute)
	assert.Equal(t, int32(1), fired.Load(), "fires once")
}

func TestTimer_FiresAfterSuspend(t *testing.T) {
	clock := &mclock.Simulated{}
	wall := &fakeWall{now: time.Unix(1000, 0)}
	timer := NewTimer(clock, wall.Now, time.Second)

	var fired atomic.Int32
	timer.Reset(60*time.Second, func() { fired.Add(1) })

	// The host slept for two minutes: wall time moved, monotonic did not.
	wall.Advance(2 * time.Minute)
	clock.Run(time.Second)
	assert.Equal(t, int32(1), fired.Load())
}

func TestTimer_StopAndReset(t *testing.T) {
	clock := &mclock.Simulated{}
	wall := &fakeWall{now: time.Unix(1000, 0)}
	timer := NewTimer(clock, wall.Now, time.Second)

	var first, second atomic.Int32
	timer.Reset(10*time.Second, func() { first.Add(1) })
	clock.Run(5 * time.Second)
	timer.Reset(10*time.Second, func() { second.Add(1) })
	clock.Run(6 * time.Second)
	assert.Equal(t, int32(0), first.Load(), "replaced schedule never fires")
	assert.Equal(t, int32(0), second.Load())

	clock.Run(4 * time.Second)
	assert.Equal(t, int32(1), second.Load())

	timer.Reset(time.Second, func() { first.Add(1) })
	timer.Stop()
	clock.Run(time.Minute)
	assert.Equal(t, int32(0), first.Load())
	assert.False(t, timer.Pending())
}
