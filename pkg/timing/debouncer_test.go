package timing

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	clock := NewFakeClock(epoch)
	var calls int32
	d := NewDebouncer(clock, 2*time.Second, func() { atomic.AddInt32(&calls, 1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		clock.Advance(300 * time.Millisecond)
	}
	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.True(t, d.Pending())

	clock.Advance(2 * time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, d.Pending())
	assert.Zero(t, clock.PendingTimers())
}

func TestDebouncer_SeparateWindows(t *testing.T) {
	clock := NewFakeClock(epoch)
	var calls int32
	d := NewDebouncer(clock, time.Second, func() { atomic.AddInt32(&calls, 1) })

	d.Trigger()
	clock.Advance(time.Second)
	d.Trigger()
	clock.Advance(time.Second)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDebouncer_CancelAndFlush(t *testing.T) {
	clock := NewFakeClock(epoch)
	var calls int32
	d := NewDebouncer(clock, time.Second, func() { atomic.AddInt32(&calls, 1) })

	assert.False(t, d.Cancel())
	d.Trigger()
	assert.True(t, d.Cancel())
	clock.Advance(5 * time.Second)
	assert.Zero(t, atomic.LoadInt32(&calls))

	assert.False(t, d.Flush(), "nothing pending")
	d.Trigger()
	assert.True(t, d.Flush())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	clock.Advance(5 * time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "flushed window does not fire again")
}

func TestDebouncer_StopIgnoresLaterTriggers(t *testing.T) {
	clock := NewFakeClock(epoch)
	var calls int32
	d := NewDebouncer(clock, time.Second, func() { atomic.AddInt32(&calls, 1) })

	d.Trigger()
	d.Stop()
	d.Trigger()
	clock.Advance(10 * time.Second)

	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.False(t, d.Pending())
}

func TestDebouncer_RealClock(t *testing.T) {
	done := make(chan struct{})
	d := NewDebouncer(nil, 10*time.Millisecond, func() { close(done) })
	d.Trigger()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced call never ran")
	}
}

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	clock := NewFakeClock(epoch)
	var order []int

	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() {
		order = append(order, 1)
		clock.AfterFunc(500*time.Millisecond, func() { order = append(order, 15) })
	})
	stopped := clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	clock.Advance(5 * time.Second)

	assert.Equal(t, []int{1, 15, 3}, order)
	assert.Equal(t, epoch.Add(5*time.Second), clock.Now())
}

func TestDebouncer_WaitCoversRunningCall(t *testing.T) {
	clock := NewFakeClock(epoch)
	started := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	d := NewDebouncer(clock, time.Second, func() {
		close(started)
		<-release
		atomic.StoreInt32(&finished, 1)
	})

	d.Wait()
	d.Trigger()
	go clock.Advance(time.Second)
	<-started
	assert.False(t, d.Cancel(), "call already left the window")

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	d.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}
