// File: core/notifier.go
// Author: momentics <momentics@gmail.com>
//
// Event notifier binding one fd and interest type to an activation signal
// while registered with its owner's dispatcher.

package core

import (
	"sync/atomic"

	"github.com/jamesmaino/libcamera-willfork/api"
	"github.com/jamesmaino/libcamera-willfork/reactor"
)

// EventNotifier watches one file descriptor for a single interest type
// (read, write or error) and emits Activated when it becomes ready. A
// notifier is valid only while registered with its owner's thread; it must
// be destroyed before the fd is closed. Construction must happen on the
// owning object's thread.
type EventNotifier struct {
	fd       int
	interest reactor.InterestType
	owner    *Object

	// Activated is emitted from the owning thread's loop whenever the fd
	// is ready, carrying the notifier.
	Activated *Signal[*EventNotifier]

	enabled    atomic.Bool
	registered atomic.Bool
}

// NewEventNotifier registers fd with the owner's thread dispatcher for one
// interest type. interest must be exactly one of InterestRead,
// InterestWrite or InterestError.
func NewEventNotifier(fd int, interest reactor.InterestType, owner *Object) (*EventNotifier, error) {
	if fd < 0 || owner == nil {
		return nil, api.ErrInvalidArgument
	}
	switch interest {
	case reactor.InterestRead, reactor.InterestWrite, reactor.InterestError:
	default:
		return nil, api.ErrInvalidArgument
	}

	th := owner.Thread()
	if CurrentThread() != th {
		panic(api.NewError(api.ErrCodeWrongThread,
			"NewEventNotifier: called from foreign thread").
			WithContext("owner_thread", th.ID().String()))
	}

	n := &EventNotifier{
		fd:       fd,
		interest: interest,
		owner:    owner,
	}
	n.Activated = NewSignal[*EventNotifier](owner)
	n.enabled.Store(true)

	d, err := th.eventDispatcher()
	if err != nil {
		return nil, err
	}
	if err := d.registerNotifier(n); err != nil {
		return nil, err
	}
	n.registered.Store(true)
	owner.addNotifier(n)
	return n, nil
}

// FD returns the watched file descriptor.
func (n *EventNotifier) FD() int {
	return n.fd
}

// Interest returns the watched interest type.
func (n *EventNotifier) Interest() reactor.InterestType {
	return n.interest
}

// SetEnabled suppresses or resumes activation without unregistering.
func (n *EventNotifier) SetEnabled(enabled bool) {
	n.enabled.Store(enabled)
}

// Enabled reports whether activation is delivered.
func (n *EventNotifier) Enabled() bool {
	return n.enabled.Load()
}

// Destroy unregisters the notifier. Must be called on the owning thread
// before the fd is closed.
func (n *EventNotifier) Destroy() error {
	th := n.owner.Thread()
	if CurrentThread() != th {
		panic(api.NewError(api.ErrCodeWrongThread,
			"EventNotifier.Destroy: called from foreign thread").
			WithContext("owner_thread", th.ID().String()))
	}
	if !n.registered.CompareAndSwap(true, false) {
		return nil
	}
	err := th.tryDispatcher().unregisterNotifier(n)
	n.owner.removeNotifier(n)
	n.Activated.clearAll()
	return err
}

// destroyInternal unregisters during owner destruction; the owner list is
// already cleared.
func (n *EventNotifier) destroyInternal(d *EventDispatcher) {
	if !n.registered.CompareAndSwap(true, false) {
		return
	}
	if err := d.unregisterNotifier(n); err != nil {
		logger().Debug().Err(err).Int("fd", n.fd).Msg("notifier unregister failed")
	}
	n.Activated.clearAll()
}

// rehome migrates the registration between dispatchers during
// MoveToThread. Level-triggered registration guarantees readiness already
// pending on the fd is reported again by the target dispatcher.
func (n *EventNotifier) rehome(old, next *EventDispatcher) {
	if !n.registered.Load() {
		return
	}
	if err := old.unregisterNotifier(n); err != nil {
		logger().Debug().Err(err).Int("fd", n.fd).Msg("notifier rehome unregister failed")
	}
	if err := next.registerNotifier(n); err != nil {
		logger().Error().Err(err).Int("fd", n.fd).Msg("notifier rehome register failed")
		n.registered.Store(false)
	}
}
