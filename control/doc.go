// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime observability and tuning layer for the object core.
//
// Provides concurrent-safe state handling primitives including:
//   - Prometheus metrics for message, signal and timer traffic
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
package control
