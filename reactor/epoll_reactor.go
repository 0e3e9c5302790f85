//go:build linux
// +build linux

// File: reactor/epoll_reactor.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) reactor with an eventfd wake channel. Registration is
// level-triggered so that readiness signaled before an fd migrates between
// epoll instances is observed again by the new instance.

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesmaino/libcamera-willfork/api"
)

// fdEntry stores interest and callback for one registered fd.
type fdEntry struct {
	interest InterestType
	cb       Callback
}

// epollReactor implements Reactor using epoll and eventfd.
type epollReactor struct {
	epfd   int
	wakeFd int

	mu      sync.Mutex
	entries map[int]fdEntry
	closed  bool

	events []unix.EpollEvent
}

// NewReactor constructs the platform reactor for Linux. maxEvents bounds the
// number of readiness events handled per Poll call; values <= 0 default to 64.
func NewReactor(maxEvents int) (Reactor, error) {
	if maxEvents <= 0 {
		maxEvents = 64
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wake fd: %w", err)
	}

	return &epollReactor{
		epfd:    epfd,
		wakeFd:  wakeFd,
		entries: make(map[int]fdEntry),
		events:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

// epollMask translates an interest mask into epoll event bits.
func epollMask(interest InterestType) uint32 {
	var events uint32
	if interest&InterestRead != 0 {
		events |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		events |= unix.EPOLLOUT
	}
	// EPOLLERR and EPOLLHUP are always reported by the kernel.
	return events
}

// readyMask translates epoll event bits back into an interest mask.
func readyMask(events uint32) InterestType {
	var ready InterestType
	if events&unix.EPOLLIN != 0 {
		ready |= InterestRead
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= InterestWrite
	}
	if events&unix.EPOLLERR != 0 {
		ready |= InterestError
	}
	if events&unix.EPOLLHUP != 0 {
		ready |= InterestHangup
	}
	return ready
}

// Register adds a file descriptor to the epoll interest set.
func (r *epollReactor) Register(fd int, interest InterestType, cb Callback) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return api.ErrDispatcherClosed
	}
	if _, ok := r.entries[fd]; ok {
		r.mu.Unlock()
		return api.ErrFDAlreadyRegistered
	}
	r.entries[fd] = fdEntry{interest: interest, cb: cb}
	r.mu.Unlock()

	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		r.mu.Lock()
		delete(r.entries, fd)
		r.mu.Unlock()
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Modify replaces the interest mask and callback of a registered fd.
func (r *epollReactor) Modify(fd int, interest InterestType, cb Callback) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return api.ErrDispatcherClosed
	}
	if _, ok := r.entries[fd]; !ok {
		r.mu.Unlock()
		return api.ErrFDNotRegistered
	}
	r.entries[fd] = fdEntry{interest: interest, cb: cb}
	r.mu.Unlock()

	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Unregister removes a file descriptor from the epoll interest set.
func (r *epollReactor) Unregister(fd int) error {
	r.mu.Lock()
	if _, ok := r.entries[fd]; !ok {
		r.mu.Unlock()
		return api.ErrFDNotRegistered
	}
	delete(r.entries, fd)
	r.mu.Unlock()

	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Poll waits up to timeout for readiness and dispatches ready callbacks.
func (r *epollReactor) Poll(timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}

	n, err := unix.EpollWait(r.epfd, r.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(r.events[i].Fd)
		if fd == r.wakeFd {
			r.drainWake()
			continue
		}

		r.mu.Lock()
		entry, ok := r.entries[fd]
		r.mu.Unlock()
		if !ok {
			// Unregistered between wait and dispatch.
			continue
		}

		ready := readyMask(r.events[i].Events)
		dispatched++
		func() {
			defer func() {
				_ = recover()
			}()
			entry.cb(fd, ready)
		}()
	}
	return dispatched, nil
}

// Wake interrupts a blocked Poll. Concurrent wakes coalesce in the eventfd
// counter.
func (r *epollReactor) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(r.wakeFd, buf[:])
	if err == unix.EAGAIN {
		// Counter saturated, a wake-up is already pending.
		return nil
	}
	return err
}

// drainWake consumes the eventfd counter after a wake-up.
func (r *epollReactor) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(r.wakeFd, buf[:])
}

// Close releases the epoll instance and the wake eventfd.
func (r *epollReactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.entries = nil
	r.mu.Unlock()

	unix.Close(r.wakeFd)
	return unix.Close(r.epfd)
}
