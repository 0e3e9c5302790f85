// File: core/bound_method.go
// Author: momentics <momentics@gmail.com>
//
// Type-erased bound callables and the connection type policy governing
// where and when they execute relative to the caller.

package core

import "github.com/jamesmaino/libcamera-willfork/api"

// ConnectionType selects where and when a bound method executes relative
// to the invoking caller.
type ConnectionType int

const (
	// ConnectionAuto resolves to ConnectionDirect when the caller runs on
	// the receiver's owning thread and to ConnectionQueued otherwise.
	ConnectionAuto ConnectionType = iota
	// ConnectionDirect executes synchronously on the caller's stack.
	ConnectionDirect
	// ConnectionQueued posts the invocation to the receiver's thread and
	// returns immediately. The return value is not usable by the caller.
	ConnectionQueued
	// ConnectionBlocking posts the invocation to the receiver's thread and
	// blocks the caller until it completes. Using it when caller and
	// receiver share a thread is a programming error and panics.
	ConnectionBlocking
)

// String returns the connection type name.
func (c ConnectionType) String() string {
	switch c {
	case ConnectionAuto:
		return "auto"
	case ConnectionDirect:
		return "direct"
	case ConnectionQueued:
		return "queued"
	case ConnectionBlocking:
		return "blocking"
	default:
		return "invalid"
	}
}

// Pack carries a copy of the call arguments and the return value slot of
// one invocation. For queued and blocking delivery the pack lives until
// the target thread executes the call.
type Pack struct {
	args []any
	ret  any
}

func newPack(args ...any) *Pack {
	return &Pack{args: args}
}

// BoundMethod is a type-erased callable bound to a receiver object. The
// erased entry point consumes packed arguments and produces the packed
// return value; typed construction goes through the BindMethod helpers,
// which wrap concrete signatures without reflection.
type BoundMethod struct {
	object   *Object
	connType ConnectionType
	fn       func(args []any) any
}

// BindMethod0 binds a niladic function to obj.
func BindMethod0(obj *Object, fn func()) *BoundMethod {
	return &BoundMethod{
		object:   obj,
		connType: ConnectionAuto,
		fn: func([]any) any {
			fn()
			return nil
		},
	}
}

// BindMethod binds a single-argument function to obj.
func BindMethod[A any](obj *Object, fn func(A)) *BoundMethod {
	return &BoundMethod{
		object:   obj,
		connType: ConnectionAuto,
		fn: func(args []any) any {
			fn(args[0].(A))
			return nil
		},
	}
}

// BindMethod0R binds a niladic function with a return value to obj.
func BindMethod0R[R any](obj *Object, fn func() R) *BoundMethod {
	return &BoundMethod{
		object:   obj,
		connType: ConnectionAuto,
		fn: func([]any) any {
			return fn()
		},
	}
}

// BindMethodR binds a single-argument function with a return value to obj.
func BindMethodR[A, R any](obj *Object, fn func(A) R) *BoundMethod {
	return &BoundMethod{
		object:   obj,
		connType: ConnectionAuto,
		fn: func(args []any) any {
			return fn(args[0].(A))
		},
	}
}

// Object returns the receiver the method is bound to.
func (m *BoundMethod) Object() *Object {
	return m.object
}

// invokePack executes the erased entry point, storing the return value in
// the pack.
func (m *BoundMethod) invokePack(pack *Pack) {
	pack.ret = m.fn(pack.args)
}

// resolveType resolves ConnectionAuto against the caller's current thread.
func (m *BoundMethod) resolveType() ConnectionType {
	if m.connType != ConnectionAuto {
		return m.connType
	}
	if CurrentThread() == m.object.Thread() {
		return ConnectionDirect
	}
	return ConnectionQueued
}

// activatePack dispatches the invocation per the resolved connection type.
// oneShot releases the method after the queued invocation executes.
//
// It reports whether the return value stored in the pack is usable by the
// caller: true for direct and blocking delivery, false for queued.
func (m *BoundMethod) activatePack(pack *Pack, oneShot bool) bool {
	switch m.resolveType() {
	case ConnectionQueued:
		m.object.postInvoke(m, pack, nil, oneShot)
		return false

	case ConnectionBlocking:
		th := m.object.Thread()
		if CurrentThread() == th {
			panic(api.NewError(api.ErrCodeWrongThread,
				"blocking invocation of a method owned by the calling thread").
				WithContext("thread", th.ID().String()))
		}
		sem := NewSemaphore(0)
		m.object.postInvoke(m, pack, sem, oneShot)
		sem.Acquire(1)
		return true

	default: // ConnectionDirect
		m.invokePack(pack)
		return true
	}
}
