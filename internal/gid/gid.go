// File: internal/gid/gid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Goroutine identity helper backing the current-thread registry.
// The ID is parsed from the runtime.Stack header, which is stable
// across Go releases even though it is not a documented API.

package gid

import "runtime"

// ID returns the numeric identifier of the calling goroutine.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
