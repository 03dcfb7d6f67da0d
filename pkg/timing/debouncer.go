package timing

import (
	"sync"
	"time"
)

// Debouncer runs fn once a quiet period of delay follows the last
// Trigger. Each Trigger cancels and restarts the window, so a burst of
// triggers produces a single call.
type Debouncer struct {
	mu     sync.Mutex
	clock  Clock
	delay  time.Duration
	fn     func()
	timer  Timer
	gen    uint64
	closed bool
	// running counts timer-driven calls that have left the window but
	// not returned yet
	running int
	idle    *sync.Cond
}

// NewDebouncer creates a debouncer. A nil clock uses the wall clock.
func NewDebouncer(clock Clock, delay time.Duration, fn func()) *Debouncer {
	d := &Debouncer{
		clock: OrReal(clock),
		delay: delay,
		fn:    fn,
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Trigger restarts the quiet window
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

// fire ignores callbacks from windows that were restarted after their
// timer had already fired but before it ran.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.running++
	d.mu.Unlock()
	defer d.done()
	d.fn()
}

func (d *Debouncer) done() {
	d.mu.Lock()
	d.running--
	if d.running == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// Wait blocks until any timer-driven call already under way returns
func (d *Debouncer) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.running > 0 {
		d.idle.Wait()
	}
}

// Pending reports whether a call is scheduled
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Cancel drops a scheduled call and reports whether one was pending
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

func (d *Debouncer) cancelLocked() bool {
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	return true
}

// Flush runs a scheduled call immediately on the caller's goroutine and
// reports whether one was pending
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	pending := d.cancelLocked()
	d.mu.Unlock()
	if pending {
		d.fn()
	}
	return pending
}

// Stop cancels any scheduled call; later triggers are ignored
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.closed = true
}
