// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package core implements the thread-affine object model used as the
// communication backbone of the camera control stack: objects bound to an
// owning thread, signal/slot fan-out with direct, queued and blocking
// connection types, cross-thread method invocation, and per-thread event
// loops multiplexing fd readiness, timers and message delivery.
//
// Every Object is affine to exactly one Thread. Messages posted to an
// object are executed by its owning thread's loop in FIFO order; affinity
// can be reassigned at runtime with MoveToThread without losing queued
// messages or pending fd readiness.
package core
