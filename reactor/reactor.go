// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral reactor interface for fd readiness multiplexing.

package reactor

import "time"

// InterestType is a bit mask describing fd readiness conditions.
type InterestType uint32

const (
	// InterestRead indicates the file descriptor is readable.
	InterestRead InterestType = 1 << iota
	// InterestWrite indicates the file descriptor is writable.
	InterestWrite
	// InterestError indicates an error condition on the file descriptor.
	InterestError
	// InterestHangup indicates the peer closed its end.
	InterestHangup
)

// Callback is invoked for each ready file descriptor during Poll.
type Callback func(fd int, ready InterestType)

// Reactor defines the event demultiplexer operations used by a dispatcher.
//
// Register, Modify and Unregister are safe to call from any goroutine.
// Poll must only be called by the goroutine that owns the reactor; Wake may
// be called from anywhere to interrupt a blocked Poll.
type Reactor interface {
	// Register adds fd with the given interest mask. The callback runs
	// synchronously inside Poll when fd becomes ready.
	Register(fd int, interest InterestType, cb Callback) error

	// Modify replaces the interest mask and callback of a registered fd.
	Modify(fd int, interest InterestType, cb Callback) error

	// Unregister removes fd from the interest set.
	Unregister(fd int) error

	// Poll blocks up to timeout for readiness or a wake-up, then invokes
	// the callbacks of every ready fd. A negative timeout blocks
	// indefinitely. Returns the number of ready fds dispatched.
	Poll(timeout time.Duration) (n int, err error)

	// Wake interrupts a concurrent Poll call. Multiple wakes coalesce.
	Wake() error

	// Close releases the reactor resources.
	Close() error
}
