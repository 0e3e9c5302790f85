// File: core/dispatcher.go
// Author: momentics <momentics@gmail.com>
//
// Per-thread event dispatcher: multiplexes fd readiness, timer expiry and
// message-queue wake-ups over one reactor poll.

package core

import (
	"sync"
	"time"

	"github.com/jamesmaino/libcamera-willfork/api"
	"github.com/jamesmaino/libcamera-willfork/control"
	"github.com/jamesmaino/libcamera-willfork/reactor"
)

// notifierSlots holds the notifiers registered for one fd, one per
// interest type.
type notifierSlots struct {
	read  *EventNotifier
	write *EventNotifier
	exc   *EventNotifier
}

func (s *notifierSlots) slotFor(interest reactor.InterestType) **EventNotifier {
	switch interest {
	case reactor.InterestRead:
		return &s.read
	case reactor.InterestWrite:
		return &s.write
	default:
		return &s.exc
	}
}

func (s *notifierSlots) mask() reactor.InterestType {
	var m reactor.InterestType
	if s.read != nil {
		m |= reactor.InterestRead
	}
	if s.write != nil {
		m |= reactor.InterestWrite
	}
	if s.exc != nil {
		m |= reactor.InterestError
	}
	return m
}

func (s *notifierSlots) empty() bool {
	return s.read == nil && s.write == nil && s.exc == nil
}

// EventDispatcher multiplexes fd readiness, timer deadlines and queue
// wake-ups for one thread. Notifier and timer registration is funneled
// through EventNotifier and Timer; Interrupt is the only entry point
// intended for foreign threads.
type EventDispatcher struct {
	thread *Thread
	r      reactor.Reactor

	mu     sync.Mutex
	fds    map[int]*notifierSlots
	timers []*Timer
}

// newEventDispatcher builds a dispatcher over the platform reactor. The
// reactor's event batch size comes from the installed configuration.
func newEventDispatcher() (*EventDispatcher, error) {
	maxEvents := 0
	if cs := configStore.Load(); cs != nil {
		if v, ok := cs.Get(control.KeyReactorMaxEvents); ok {
			if n, ok := v.(int); ok {
				maxEvents = n
			}
		}
	}
	r, err := reactor.NewReactor(maxEvents)
	if err != nil {
		return nil, err
	}
	return &EventDispatcher{
		r:   r,
		fds: make(map[int]*notifierSlots),
	}, nil
}

// Interrupt wakes a blocked ProcessEvents call. Safe from any thread.
func (d *EventDispatcher) Interrupt() {
	if err := d.r.Wake(); err != nil {
		logger().Debug().Err(err).Msg("dispatcher wake failed")
	}
}

// ProcessEvents polls for fd readiness, queue wake-ups and timer expiry.
// The poll timeout is the smaller of the supplied timeout and the nearest
// armed timer deadline; negative means wait indefinitely. Ready notifier
// signals are emitted synchronously before control returns to the loop.
func (d *EventDispatcher) ProcessEvents(timeout time.Duration) error {
	if next, ok := d.nextTimerTimeout(); ok && (timeout < 0 || next < timeout) {
		timeout = next
	}
	if _, err := d.r.Poll(timeout); err != nil {
		return err
	}
	d.processTimers(time.Now())
	return nil
}

// close releases the reactor.
func (d *EventDispatcher) close() {
	if err := d.r.Close(); err != nil {
		logger().Debug().Err(err).Msg("reactor close failed")
	}
}

// registerNotifier binds n's fd and interest to the reactor.
func (d *EventDispatcher) registerNotifier(n *EventNotifier) error {
	d.mu.Lock()
	slots, ok := d.fds[n.fd]
	if !ok {
		slots = &notifierSlots{}
		d.fds[n.fd] = slots
	}
	slot := slots.slotFor(n.interest)
	if *slot != nil {
		d.mu.Unlock()
		return api.ErrFDAlreadyRegistered
	}
	*slot = n
	mask := slots.mask()
	first := !ok
	d.mu.Unlock()

	var err error
	if first {
		err = d.r.Register(n.fd, mask, d.dispatchFD)
	} else {
		err = d.r.Modify(n.fd, mask, d.dispatchFD)
	}
	if err != nil {
		d.mu.Lock()
		*slots.slotFor(n.interest) = nil
		if slots.empty() {
			delete(d.fds, n.fd)
		}
		d.mu.Unlock()
	}
	return err
}

// unregisterNotifier removes n from the reactor interest set.
func (d *EventDispatcher) unregisterNotifier(n *EventNotifier) error {
	d.mu.Lock()
	slots, ok := d.fds[n.fd]
	if !ok || *slots.slotFor(n.interest) != n {
		d.mu.Unlock()
		return api.ErrFDNotRegistered
	}
	*slots.slotFor(n.interest) = nil
	empty := slots.empty()
	if empty {
		delete(d.fds, n.fd)
	}
	mask := slots.mask()
	d.mu.Unlock()

	if empty {
		return d.r.Unregister(n.fd)
	}
	return d.r.Modify(n.fd, mask, d.dispatchFD)
}

// dispatchFD emits the activation signals of the notifiers matching the
// readiness mask. Runs on the owning thread inside Poll.
func (d *EventDispatcher) dispatchFD(fd int, ready reactor.InterestType) {
	d.mu.Lock()
	slots, ok := d.fds[fd]
	var targets []*EventNotifier
	if ok {
		if ready&(reactor.InterestRead|reactor.InterestHangup) != 0 && slots.read != nil {
			targets = append(targets, slots.read)
		}
		if ready&reactor.InterestWrite != 0 && slots.write != nil {
			targets = append(targets, slots.write)
		}
		if ready&reactor.InterestError != 0 && slots.exc != nil {
			targets = append(targets, slots.exc)
		}
	}
	d.mu.Unlock()

	for _, n := range targets {
		if n.Enabled() {
			n.Activated.Emit(n)
		}
	}
}

// registerTimer arms t with the dispatcher.
func (d *EventDispatcher) registerTimer(t *Timer) {
	d.mu.Lock()
	d.timers = append(d.timers, t)
	d.mu.Unlock()
}

// unregisterTimer disarms t.
func (d *EventDispatcher) unregisterTimer(t *Timer) {
	d.mu.Lock()
	kept := d.timers[:0]
	for _, x := range d.timers {
		if x != t {
			kept = append(kept, x)
		}
	}
	d.timers = kept
	d.mu.Unlock()
}

// nextTimerTimeout returns the duration until the nearest armed deadline.
func (d *EventDispatcher) nextTimerTimeout() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var nearest time.Time
	found := false
	for _, t := range d.timers {
		deadline, running := t.deadlineState()
		if !running {
			continue
		}
		if !found || deadline.Before(nearest) {
			nearest = deadline
			found = true
		}
	}
	if !found {
		return 0, false
	}
	until := time.Until(nearest)
	if until < 0 {
		until = 0
	}
	return until, true
}

// processTimers fires every expired timer exactly once per poll.
func (d *EventDispatcher) processTimers(now time.Time) {
	d.mu.Lock()
	snapshot := append([]*Timer(nil), d.timers...)
	d.mu.Unlock()

	for _, t := range snapshot {
		if t.expire(now, d) {
			observeTimerFire()
			t.Timeout.Emit(t)
		}
	}
}
