// File: core/signal.go
// Author: momentics <momentics@gmail.com>
//
// Signal/slot fan-out. A signal keeps an ordered connection list; emitting
// snapshots the list and dispatches each entry per its connection type, so
// connects and disconnects during an emission never affect that emission.

package core

import "sync"

// signalBase is the type-erased view of a Signal used for receiver
// back-reference bookkeeping and owner cleanup.
type signalBase interface {
	disconnectReceiver(o *Object)
	clearAll()
}

type signalEntry[T any] struct {
	id       uint64
	receiver *Object
	method   *BoundMethod
}

// Signal is an ordered list of (receiver, slot, connection type) entries.
// Emit fans out in connection order. Duplicate connections of the same
// receiver and slot are kept and fire independently.
type Signal[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []signalEntry[T]
	owner   *Object
}

// NewSignal creates a signal. A non-nil owner registers the signal for
// purging when the owner is destroyed; pass nil for a free-standing signal.
func NewSignal[T any](owner *Object) *Signal[T] {
	s := &Signal[T]{owner: owner}
	if owner != nil {
		owner.addOwnedSignal(s)
	}
	return s
}

// Connection identifies one signal/slot connection and allows removing
// exactly that entry.
type Connection struct {
	once   sync.Once
	remove func()
}

// Disconnect removes the connection. Safe to call more than once.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	c.once.Do(c.remove)
}

// Connect appends a slot with automatic connection type resolution.
func (s *Signal[T]) Connect(receiver *Object, fn func(T)) *Connection {
	return s.ConnectType(receiver, fn, ConnectionAuto)
}

// ConnectType appends a slot with an explicit connection type. Connecting
// the same receiver and slot twice keeps both entries; each fires on emit.
func (s *Signal[T]) ConnectType(receiver *Object, fn func(T), ct ConnectionType) *Connection {
	method := BindMethod(receiver, fn)
	method.connType = ct

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.entries = append(s.entries, signalEntry[T]{id: id, receiver: receiver, method: method})
	s.mu.Unlock()

	receiver.addSignalRef(s)

	return &Connection{remove: func() { s.removeEntry(id) }}
}

// Disconnect removes every entry connected to receiver. Disconnecting a
// receiver that was never connected is a no-op.
func (s *Signal[T]) Disconnect(receiver *Object) {
	s.mu.Lock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.receiver == receiver {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.mu.Unlock()

	for i := 0; i < removed; i++ {
		receiver.releaseSignalRef(s)
	}
}

// Emit delivers v to every entry connected at the time of the call, in
// connection order. Each entry receives its own argument pack. Direct
// slots run to completion: a panicking slot is logged and delivery
// continues with the next entry. Blocking entries complete before the
// following entry is dispatched.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := make([]signalEntry[T], len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	observeEmit()

	for _, e := range snapshot {
		pack := newPack(v)
		if e.method.resolveType() == ConnectionDirect {
			invokeDirect(e.method, pack)
			continue
		}
		e.method.activatePack(pack, false)
	}
}

// invokeDirect runs a direct slot, containing a panic so later slots in
// the same emission still run.
func invokeDirect(m *BoundMethod, pack *Pack) {
	defer func() {
		if r := recover(); r != nil {
			logger().Error().Interface("panic", r).Msg("signal slot panicked during direct emit")
		}
	}()
	m.invokePack(pack)
}

// removeEntry drops the entry with the given id, if still present.
func (s *Signal[T]) removeEntry(id uint64) {
	s.mu.Lock()
	var receiver *Object
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.id == id {
			receiver = e.receiver
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.mu.Unlock()

	if receiver != nil {
		receiver.releaseSignalRef(s)
	}
}

// disconnectReceiver removes entries for a receiver being destroyed. The
// receiver clears its own back-references, so none are released here.
func (s *Signal[T]) disconnectReceiver(o *Object) {
	s.mu.Lock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.receiver == o {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.mu.Unlock()
}

// clearAll drops every connection, releasing receiver back-references.
// Used when the owning object is destroyed.
func (s *Signal[T]) clearAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for _, e := range entries {
		e.receiver.releaseSignalRef(s)
	}
}
