// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities shared by the object
// core, the reactor, and the control plane.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrNotSupported        = fmt.Errorf("operation not supported on this platform")
	ErrDispatcherClosed    = fmt.Errorf("event dispatcher is closed")
	ErrFDAlreadyRegistered = fmt.Errorf("file descriptor already registered")
	ErrFDNotRegistered     = fmt.Errorf("file descriptor not registered")
	ErrThreadRunning       = fmt.Errorf("thread already running")
	ErrThreadNotRunning    = fmt.Errorf("thread is not running")
	ErrResourceExhausted   = fmt.Errorf("resource exhausted")
	ErrInvalidArgument     = fmt.Errorf("invalid argument")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeWrongThread
	ErrCodeClosed
	ErrCodeResourceExhausted
	ErrCodeNotSupported
	ErrCodeNotFound
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
