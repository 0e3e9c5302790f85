// File: core/logging.go
// Author: momentics <momentics@gmail.com>
//
// Package-level structured logger. Logging is a cross-cutting concern
// shared by every thread loop, so a single swappable logger avoids
// per-instance configuration surface.

package core

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

var loggerPtr atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	loggerPtr.Store(&nop)
}

// SetLogger installs the structured logger used by the object core.
// The default logger discards everything.
func SetLogger(l zerolog.Logger) {
	loggerPtr.Store(&l)
}

// logger returns the currently installed logger. zerolog's level methods
// take a pointer receiver, so call sites chain on the returned pointer.
func logger() *zerolog.Logger {
	return loggerPtr.Load()
}
