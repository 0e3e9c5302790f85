// File: core/timer.go
// Author: momentics <momentics@gmail.com>
//
// One-shot and repeating deadline callbacks registered with the owning
// thread's dispatcher.

package core

import (
	"sync"
	"time"

	"github.com/jamesmaino/libcamera-willfork/api"
)

// Timer fires its Timeout signal when its deadline expires. Start and Stop
// must be called on the owning object's thread; arming from a foreign
// thread is a programming error. A repeating timer rearms on expiry
// without issuing catch-up fires for missed periods.
type Timer struct {
	owner *Object

	// Timeout is emitted on expiry, carrying the timer.
	Timeout *Signal[*Timer]

	mu        sync.Mutex
	interval  time.Duration
	deadline  time.Time
	repeating bool
	running   bool
}

// NewTimer creates a stopped timer owned by owner.
func NewTimer(owner *Object) *Timer {
	return &Timer{
		owner:   owner,
		Timeout: NewSignal[*Timer](owner),
	}
}

// Start arms the timer to fire after interval, repeating every interval
// when repeating is true. Restarting a running timer pushes the deadline
// forward.
func (t *Timer) Start(interval time.Duration, repeating bool) {
	d := t.checkThread("Timer.Start")

	t.mu.Lock()
	wasRunning := t.running
	t.interval = interval
	t.repeating = repeating
	t.deadline = time.Now().Add(interval)
	t.running = true
	t.mu.Unlock()

	if !wasRunning {
		d.registerTimer(t)
		t.owner.addTimer(t)
	}
	d.Interrupt()
}

// Stop disarms the timer. Stopping a stopped timer is a no-op.
func (t *Timer) Stop() {
	d := t.checkThread("Timer.Stop")

	t.mu.Lock()
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()

	if wasRunning {
		d.unregisterTimer(t)
		t.owner.removeTimer(t)
	}
}

// Running reports whether the timer is armed.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Interval returns the configured interval.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// checkThread panics unless called on the owning thread.
func (t *Timer) checkThread(op string) *EventDispatcher {
	th := t.owner.Thread()
	if CurrentThread() != th {
		panic(api.NewError(api.ErrCodeWrongThread, op+": called from foreign thread").
			WithContext("owner_thread", th.ID().String()))
	}
	d, err := th.eventDispatcher()
	if err != nil {
		panic(api.NewError(api.ErrCodeResourceExhausted, op+": no dispatcher").
			WithContext("cause", err.Error()))
	}
	return d
}

// deadlineState returns the deadline and whether the timer is armed.
func (t *Timer) deadlineState() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline, t.running
}

// expire fires the timer if its deadline has passed, rearming repeating
// timers one period ahead without catch-up. Reports whether Timeout should
// be emitted.
func (t *Timer) expire(now time.Time, d *EventDispatcher) bool {
	t.mu.Lock()
	if !t.running || t.deadline.After(now) {
		t.mu.Unlock()
		return false
	}
	if t.repeating {
		t.deadline = t.deadline.Add(t.interval)
		if !t.deadline.After(now) {
			t.deadline = now.Add(t.interval)
		}
		t.mu.Unlock()
		return true
	}
	t.running = false
	t.mu.Unlock()

	d.unregisterTimer(t)
	t.owner.removeTimer(t)
	return true
}

// stopInternal disarms the timer during owner destruction.
func (t *Timer) stopInternal(d *EventDispatcher) {
	t.mu.Lock()
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()

	if wasRunning {
		d.unregisterTimer(t)
	}
}

// rehome moves a running timer between dispatchers during MoveToThread.
// The deadline is preserved.
func (t *Timer) rehome(old, next *EventDispatcher) {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	if !running {
		return
	}
	old.unregisterTimer(t)
	next.registerTimer(t)
}
