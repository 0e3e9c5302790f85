//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/jamesmaino/libcamera-willfork/api"

// NewReactor returns an error on platforms without a reactor implementation.
func NewReactor(maxEvents int) (Reactor, error) {
	return nil, api.ErrNotSupported
}
