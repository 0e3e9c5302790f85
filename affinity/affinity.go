// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations
// are located in separate files guarded by build tags. Callers must hold
// the OS thread (runtime.LockOSThread) for pinning to be meaningful.

package affinity

// SetAffinity pins the current OS thread to a given logical CPU core on
// supported platforms. On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}
