// File: core/object.go
// Author: momentics <momentics@gmail.com>
//
// Thread-affine base object: message posting, cross-thread invocation,
// affinity reassignment and destruction bookkeeping.
//
// Lock order: Object.mu may be taken with no other lock held; a thread's
// queue mutex is taken under Object.mu on the post and move paths; the
// delivery claim mutex is a leaf taken under the queue mutex on the claim
// path. No user code ever runs under any of them.

package core

import (
	"sync"
	"sync/atomic"

	"github.com/jamesmaino/libcamera-willfork/api"
)

// Object is the base of everything communicating across threads. An
// object is affine to exactly one thread: the thread creating it, until
// reassigned with MoveToThread. Messages posted to the object execute on
// its owning thread in FIFO order.
type Object struct {
	mu        sync.Mutex
	thread    *Thread
	handler   func(*Message)
	destroyed bool

	notifiers []*EventNotifier
	timers    []*Timer

	signalRefs   map[signalBase]int
	ownedSignals []signalBase

	// Delivery claim queue. A loop claims a message while still holding
	// its thread's queue mutex, so claim order equals the global
	// per-object dequeue order even across a MoveToThread handoff;
	// deliveries then execute strictly in claim order.
	claimMu   sync.Mutex
	claimCond *sync.Cond
	claims    []*Message

	blockingInFlight atomic.Int32
}

// NewObject creates an object affine to the calling thread.
func NewObject() *Object {
	o := &Object{
		thread:     CurrentThread(),
		signalRefs: make(map[signalBase]int),
	}
	o.claimCond = sync.NewCond(&o.claimMu)
	return o
}

// Thread returns the object's current owning thread.
func (o *Object) Thread() *Thread {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.thread
}

// SetMessageHandler installs the handler receiving MessageUser messages.
func (o *Object) SetMessageHandler(fn func(*Message)) {
	o.mu.Lock()
	o.handler = fn
	o.mu.Unlock()
}

// PostMessage enqueues msg onto the owning thread's queue and wakes its
// dispatcher. Safe to call from any thread. Messages posted back-to-back
// from one thread are delivered in post order.
func (o *Object) PostMessage(msg *Message) {
	if msg.Type == MessageNone {
		msg.Type = MessageUser
	}
	o.post(msg)
}

// postInvoke queues a bound method invocation.
func (o *Object) postInvoke(m *BoundMethod, pack *Pack, sem *Semaphore, oneShot bool) {
	o.post(&Message{
		Type:    MessageInvoke,
		method:  m,
		pack:    pack,
		sem:     sem,
		oneShot: oneShot,
	})
}

func (o *Object) post(msg *Message) {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		logger().Warn().Msg("message posted to destroyed object, dropped")
		if msg.sem != nil {
			msg.sem.Release(1)
		}
		return
	}
	t := o.thread
	msg.receiver = o
	if msg.sem != nil {
		o.blockingInFlight.Add(1)
	}
	t.enqueueMessage(msg)
	o.mu.Unlock()

	t.wake()
	observePosted()
}

// claimDelivery appends msg to the object's delivery claim queue. The
// caller holds its thread's queue mutex, which is what makes the claim
// order match the dequeue order across a concurrent MoveToThread.
func (o *Object) claimDelivery(msg *Message) {
	o.claimMu.Lock()
	o.claims = append(o.claims, msg)
	o.claimMu.Unlock()
}

// deliver executes one claimed message on the calling thread, waiting
// its turn in claim order first. A loop that dequeued a later message
// blocks here until the earlier delivery, possibly running on the
// object's previous thread, has finished.
func (o *Object) deliver(msg *Message) {
	o.claimMu.Lock()
	for o.claims[0] != msg {
		o.claimCond.Wait()
	}
	o.claimMu.Unlock()

	defer func() {
		o.claimMu.Lock()
		o.claims = o.claims[1:]
		o.claimMu.Unlock()
		o.claimCond.Broadcast()
	}()

	switch msg.Type {
	case MessageInvoke:
		// The caller is committed to this thread once execution starts;
		// dropping the in-flight count here lets the method destroy or
		// move its own object.
		if msg.sem != nil {
			o.blockingInFlight.Add(-1)
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger().Error().Interface("panic", r).Msg("queued method invocation panicked")
				}
				if msg.sem != nil {
					msg.sem.Release(1)
				}
			}()
			msg.method.invokePack(msg.pack)
		}()
		if msg.oneShot {
			msg.method = nil
			msg.pack = nil
		}

	default:
		o.mu.Lock()
		handler := o.handler
		o.mu.Unlock()
		if handler != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger().Error().Interface("panic", r).Msg("message handler panicked")
					}
				}()
				handler(msg)
			}()
		}
	}

	observeDelivered()
}

// MoveToThread reassigns the object's affinity to target. Messages queued
// before the move are transferred in order; registered notifiers and
// timers are re-homed onto the target thread's dispatcher, so readiness
// already signaled on a still-registered fd is observed by the target
// loop. Callable from any thread.
//
// Moving an object while a blocking invocation targeting it is in flight
// is a programming error and panics.
func (o *Object) MoveToThread(target *Thread) {
	if target == nil {
		panic(api.NewError(api.ErrCodeInvalidArgument, "MoveToThread: nil target thread"))
	}

	o.mu.Lock()
	old := o.thread
	if old == target {
		o.mu.Unlock()
		return
	}
	if o.blockingInFlight.Load() > 0 {
		o.mu.Unlock()
		panic(api.NewError(api.ErrCodeWrongThread,
			"MoveToThread: blocking invocation in flight").
			WithContext("object_thread", old.ID().String()))
	}

	old.transferMessages(o, target)
	o.thread = target
	notifiers := append([]*EventNotifier(nil), o.notifiers...)
	timers := append([]*Timer(nil), o.timers...)
	o.mu.Unlock()

	if len(notifiers) > 0 || len(timers) > 0 {
		// Registrations force a dispatcher on both sides; the old thread
		// already has one, the target may need its first.
		oldD := old.tryDispatcher()
		newD, err := target.eventDispatcher()
		if err != nil {
			logger().Error().Err(err).Msg("target thread has no dispatcher, notifiers and timers dropped")
		} else {
			for _, n := range notifiers {
				n.rehome(oldD, newD)
			}
			for _, t := range timers {
				t.rehome(oldD, newD)
			}
		}
	}

	target.wake()
	old.wake()

	logger().Debug().
		Str("from", old.ID().String()).
		Str("to", target.ID().String()).
		Msg("object moved to thread")
}

// Destroy detaches the object from the messaging core: queued messages
// targeting it are discarded, every signal referencing it as a receiver is
// disconnected, signals it owns are cleared, and its notifiers and timers
// are unregistered.
//
// Destroy must not race with pending blocking invocations (panics), and
// must run on the owning thread when notifiers or timers are still
// registered.
func (o *Object) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	if o.blockingInFlight.Load() > 0 {
		o.mu.Unlock()
		panic(api.NewError(api.ErrCodeWrongThread,
			"Destroy: blocking invocation in flight"))
	}
	t := o.thread
	notifiers := o.notifiers
	timers := o.timers
	if (len(notifiers) > 0 || len(timers) > 0) && CurrentThread() != t {
		o.mu.Unlock()
		panic(api.NewError(api.ErrCodeWrongThread,
			"Destroy: called from foreign thread with registered notifiers or timers").
			WithContext("owner_thread", t.ID().String()))
	}
	o.destroyed = true
	o.notifiers = nil
	o.timers = nil
	refs := make([]signalBase, 0, len(o.signalRefs))
	for s := range o.signalRefs {
		refs = append(refs, s)
	}
	o.signalRefs = make(map[signalBase]int)
	owned := o.ownedSignals
	o.ownedSignals = nil
	o.mu.Unlock()

	if d := t.tryDispatcher(); d != nil {
		for _, n := range notifiers {
			n.destroyInternal(d)
		}
		for _, tm := range timers {
			tm.stopInternal(d)
		}
	}

	t.removeMessages(o)

	for _, s := range refs {
		s.disconnectReceiver(o)
	}
	for _, s := range owned {
		s.clearAll()
	}
}

// addSignalRef records one more connection referencing o as a receiver.
func (o *Object) addSignalRef(s signalBase) {
	o.mu.Lock()
	if !o.destroyed {
		o.signalRefs[s]++
	}
	o.mu.Unlock()
}

// releaseSignalRef drops one connection back-reference.
func (o *Object) releaseSignalRef(s signalBase) {
	o.mu.Lock()
	if n, ok := o.signalRefs[s]; ok {
		if n <= 1 {
			delete(o.signalRefs, s)
		} else {
			o.signalRefs[s] = n - 1
		}
	}
	o.mu.Unlock()
}

// addOwnedSignal records a signal owned by o as its source.
func (o *Object) addOwnedSignal(s signalBase) {
	o.mu.Lock()
	o.ownedSignals = append(o.ownedSignals, s)
	o.mu.Unlock()
}

func (o *Object) addNotifier(n *EventNotifier) {
	o.mu.Lock()
	o.notifiers = append(o.notifiers, n)
	o.mu.Unlock()
}

func (o *Object) removeNotifier(n *EventNotifier) {
	o.mu.Lock()
	kept := o.notifiers[:0]
	for _, x := range o.notifiers {
		if x != n {
			kept = append(kept, x)
		}
	}
	o.notifiers = kept
	o.mu.Unlock()
}

func (o *Object) addTimer(t *Timer) {
	o.mu.Lock()
	o.timers = append(o.timers, t)
	o.mu.Unlock()
}

func (o *Object) removeTimer(t *Timer) {
	o.mu.Lock()
	kept := o.timers[:0]
	for _, x := range o.timers {
		if x != t {
			kept = append(kept, x)
		}
	}
	o.timers = kept
	o.mu.Unlock()
}

// InvokeMethod0 invokes a niladic method bound to obj per the connection
// type. It reports whether the invocation completed before returning.
func InvokeMethod0(obj *Object, fn func(), ct ConnectionType) bool {
	m := BindMethod0(obj, fn)
	m.connType = ct
	return m.activatePack(newPack(), true)
}

// InvokeMethod invokes a single-argument method bound to obj per the
// connection type. The argument is copied into the invocation pack.
func InvokeMethod[A any](obj *Object, fn func(A), ct ConnectionType, arg A) bool {
	m := BindMethod(obj, fn)
	m.connType = ct
	return m.activatePack(newPack(arg), true)
}

// InvokeMethod0R invokes a niladic method with a return value. The result
// is usable only when the second return is true: direct and blocking
// invocations complete synchronously, queued ones do not.
func InvokeMethod0R[R any](obj *Object, fn func() R, ct ConnectionType) (R, bool) {
	m := BindMethod0R(obj, fn)
	m.connType = ct
	pack := newPack()
	usable := m.activatePack(pack, true)
	var ret R
	if usable && pack.ret != nil {
		ret = pack.ret.(R)
	}
	return ret, usable
}

// InvokeMethodR invokes a single-argument method with a return value.
func InvokeMethodR[A, R any](obj *Object, fn func(A) R, ct ConnectionType, arg A) (R, bool) {
	m := BindMethodR(obj, fn)
	m.connType = ct
	pack := newPack(arg)
	usable := m.activatePack(pack, true)
	var ret R
	if usable && pack.ret != nil {
		ret = pack.ret.(R)
	}
	return ret, usable
}
