// File: core/message.go
// Author: momentics <momentics@gmail.com>
//
// Typed work envelope queued on an object's owning thread.

package core

// MessageType discriminates message variants.
type MessageType int

const (
	// MessageNone marks an uninitialized message.
	MessageNone MessageType = iota
	// MessageInvoke carries a bound method invocation.
	MessageInvoke
	// MessageUser carries an application payload delivered to the
	// receiver's message handler.
	MessageUser
)

// Message is the unit queued on a thread's message queue. Each message
// targets exactly one receiver object; delivery order is FIFO per owning
// thread across all of its objects.
type Message struct {
	// Type discriminates how the message is delivered.
	Type MessageType

	// Data is the application payload of MessageUser messages.
	Data any

	receiver *Object

	// Invoke message state.
	method  *BoundMethod
	pack    *Pack
	sem     *Semaphore
	oneShot bool
}

// NewMessage creates a user message carrying data.
func NewMessage(data any) *Message {
	return &Message{Type: MessageUser, Data: data}
}

// Receiver returns the object the message targets. It is set when the
// message is posted.
func (m *Message) Receiver() *Object {
	return m.receiver
}
