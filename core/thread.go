// File: core/thread.go
// Author: momentics <momentics@gmail.com>
//
// Execution context owning an event dispatcher and a FIFO message queue.
// The loop alternates between draining a snapshot of the queue and polling
// the dispatcher with a timer-aware timeout.

package core

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/jamesmaino/libcamera-willfork/affinity"
	"github.com/jamesmaino/libcamera-willfork/api"
	"github.com/jamesmaino/libcamera-willfork/control"
	"github.com/jamesmaino/libcamera-willfork/internal/gid"
)

// ThreadState describes the lifecycle of a thread.
type ThreadState int32

const (
	// ThreadNotStarted is the state before Start.
	ThreadNotStarted ThreadState = iota
	// ThreadRunning means the loop is executing.
	ThreadRunning
	// ThreadExiting means Exit was requested and the loop is winding down.
	ThreadExiting
	// ThreadStopped means the loop has returned.
	ThreadStopped
)

// String returns the state name.
func (s ThreadState) String() string {
	switch s {
	case ThreadNotStarted:
		return "not-started"
	case ThreadRunning:
		return "running"
	case ThreadExiting:
		return "exiting"
	case ThreadStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

var (
	threadSeq      atomic.Uint64
	currentThreads sync.Map // goroutine id -> *Thread
	configStore    atomic.Pointer[control.ConfigStore]
)

// SetConfig installs the tuning configuration consulted when dispatchers
// are created (see control package for the supported keys).
func SetConfig(cs *control.ConfigStore) {
	configStore.Store(cs)
}

// Thread is an OS-backed execution context. It owns one event dispatcher
// and the FIFO message queue of every object affine to it. Threads are not
// restartable.
type Thread struct {
	id      uuid.UUID
	seq     uint64
	name    string
	adopted bool

	qmu      sync.Mutex
	messages *queue.Queue

	stateMu  sync.Mutex
	state    ThreadState
	exitCode int

	exitRequested atomic.Bool
	doneCh        chan struct{}

	cpu atomic.Int32

	// The dispatcher owns kernel resources (epoll fd, eventfd), so it is
	// created on first use: loop threads get one at construction, adopted
	// threads only when a notifier or timer actually registers.
	dmu        sync.Mutex
	dispatcher *EventDispatcher
}

// NewThread creates a thread with its dispatcher. The loop does not run
// until Start is called.
func NewThread(name string) (*Thread, error) {
	t := newThread(name)
	if _, err := t.eventDispatcher(); err != nil {
		return nil, err
	}
	return t, nil
}

func newThread(name string) *Thread {
	t := &Thread{
		id:       uuid.New(),
		seq:      threadSeq.Add(1),
		name:     name,
		messages: queue.New(),
		doneCh:   make(chan struct{}),
		state:    ThreadNotStarted,
	}
	t.cpu.Store(-1)
	return t
}

// eventDispatcher returns the thread's dispatcher, creating it on first
// use.
func (t *Thread) eventDispatcher() (*EventDispatcher, error) {
	t.dmu.Lock()
	defer t.dmu.Unlock()
	if t.dispatcher == nil {
		d, err := newEventDispatcher()
		if err != nil {
			return nil, err
		}
		d.thread = t
		t.dispatcher = d
	}
	return t.dispatcher, nil
}

// tryDispatcher returns the dispatcher when one exists, without creating
// one.
func (t *Thread) tryDispatcher() *EventDispatcher {
	t.dmu.Lock()
	defer t.dmu.Unlock()
	return t.dispatcher
}

// SetAffinity requests pinning the loop's OS thread to cpuID when the
// loop starts. A negative value leaves scheduling to the OS.
func (t *Thread) SetAffinity(cpuID int) {
	t.cpu.Store(int32(cpuID))
}

// CurrentThread returns the thread executing the calling goroutine. A
// goroutine outside any managed loop is adopted on first use with a stub
// thread whose queue exists but whose loop never runs, the way a process
// main thread participates in affinity without a loop. Adoption allocates
// no kernel resources: a dispatcher is built only if a notifier or timer
// registers on the adopted thread.
func CurrentThread() *Thread {
	g := gid.ID()
	if v, ok := currentThreads.Load(g); ok {
		return v.(*Thread)
	}

	t := newThread(fmt.Sprintf("adopted-%d", g))
	t.adopted = true
	if actual, loaded := currentThreads.LoadOrStore(g, t); loaded {
		return actual.(*Thread)
	}
	return t
}

// ID returns the thread's unique identity.
func (t *Thread) ID() uuid.UUID {
	return t.id
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// State returns the current lifecycle state.
func (t *Thread) State() ThreadState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// Start launches the execution context and its loop.
func (t *Thread) Start() error {
	t.stateMu.Lock()
	if t.state != ThreadNotStarted {
		t.stateMu.Unlock()
		return api.ErrThreadRunning
	}
	t.state = ThreadRunning
	t.stateMu.Unlock()

	if _, err := t.eventDispatcher(); err != nil {
		t.stateMu.Lock()
		t.state = ThreadNotStarted
		t.stateMu.Unlock()
		return err
	}

	go t.loop()
	return nil
}

// Exit records code and requests loop termination. The loop drains its
// remaining messages before stopping.
func (t *Thread) Exit(code int) {
	t.stateMu.Lock()
	t.exitCode = code
	if t.state == ThreadRunning {
		t.state = ThreadExiting
	}
	t.stateMu.Unlock()

	t.exitRequested.Store(true)
	if d := t.tryDispatcher(); d != nil {
		d.Interrupt()
	}
}

// Wait blocks until the loop has returned and yields the exit code. On a
// thread that was never started it returns immediately.
func (t *Thread) Wait() int {
	t.stateMu.Lock()
	started := t.state != ThreadNotStarted
	code := t.exitCode
	t.stateMu.Unlock()
	if !started {
		return code
	}

	<-t.doneCh

	t.stateMu.Lock()
	code = t.exitCode
	t.stateMu.Unlock()
	return code
}

// loop is the thread body: drain a snapshot of the message queue, poll the
// dispatcher with a timeout bounded by the nearest timer deadline, repeat
// until exit is requested, then drain once more so messages posted before
// Exit still deliver.
func (t *Thread) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cpu := int(t.cpu.Load()); cpu >= 0 {
		if err := affinity.SetAffinity(cpu); err != nil {
			logger().Warn().Err(err).Int("cpu", cpu).Str("thread", t.name).Msg("cpu pinning failed")
		}
	}

	g := gid.ID()
	currentThreads.Store(g, t)
	observeThreads(1)
	logger().Debug().Str("thread", t.name).Str("id", t.id.String()).Msg("thread loop started")

	d := t.tryDispatcher() // Start guarantees one exists

	for !t.exitRequested.Load() {
		t.dispatchMessages()
		if t.exitRequested.Load() {
			break
		}
		if err := d.ProcessEvents(-1); err != nil {
			logger().Error().Err(err).Str("thread", t.name).Msg("dispatcher poll failed")
			break
		}
	}

	t.dispatchMessages()

	currentThreads.Delete(g)
	observeThreads(-1)
	d.close()

	t.stateMu.Lock()
	t.state = ThreadStopped
	t.stateMu.Unlock()
	close(t.doneCh)
	logger().Debug().Str("thread", t.name).Str("id", t.id.String()).Msg("thread loop stopped")
}

// dispatchMessages drains the snapshot of messages queued at entry. New
// messages posted while draining wait for the next iteration, bounding
// work per iteration so fd polling is never starved.
func (t *Thread) dispatchMessages() {
	t.qmu.Lock()
	n := t.messages.Length()
	t.qmu.Unlock()

	for i := 0; i < n; i++ {
		t.qmu.Lock()
		if t.messages.Length() == 0 {
			t.qmu.Unlock()
			return
		}
		msg := t.messages.Remove().(*Message)
		// Claim while still holding qmu: a MoveToThread transferring the
		// rest of the backlog cannot let the target loop deliver a later
		// message before this one.
		msg.receiver.claimDelivery(msg)
		t.qmu.Unlock()

		msg.receiver.deliver(msg)
	}
}

// enqueueMessage appends msg to the queue. Callers wake the dispatcher
// after releasing their locks.
func (t *Thread) enqueueMessage(msg *Message) {
	t.qmu.Lock()
	t.messages.Add(msg)
	t.qmu.Unlock()
}

// wake interrupts a blocked dispatcher poll. Adopted threads without a
// dispatcher have no poll to interrupt.
func (t *Thread) wake() {
	if d := t.tryDispatcher(); d != nil {
		d.Interrupt()
	}
}

// transferMessages moves o's queued backlog to target, preserving the
// relative order of both queues. Both queue mutexes are taken in creation
// order so concurrent transfers cannot deadlock.
func (t *Thread) transferMessages(o *Object, target *Thread) {
	first, second := t, target
	if first.seq > second.seq {
		first, second = second, first
	}
	first.qmu.Lock()
	second.qmu.Lock()

	n := t.messages.Length()
	for i := 0; i < n; i++ {
		msg := t.messages.Remove().(*Message)
		if msg.receiver == o {
			target.messages.Add(msg)
		} else {
			t.messages.Add(msg)
		}
	}

	second.qmu.Unlock()
	first.qmu.Unlock()
}

// removeMessages discards queued messages targeting o. Blocking messages
// cannot be present: destruction with blocking invocations in flight
// panics before this point. Removed messages were never claimed, so the
// delivery claim queue is unaffected.
func (t *Thread) removeMessages(o *Object) {
	t.qmu.Lock()
	n := t.messages.Length()
	for i := 0; i < n; i++ {
		msg := t.messages.Remove().(*Message)
		if msg.receiver == o {
			continue
		}
		t.messages.Add(msg)
	}
	t.qmu.Unlock()
}
