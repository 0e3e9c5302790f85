// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode file descriptor demultiplexer used
// by per-thread event dispatchers: interest registration, a timeout-bounded
// Poll call, and a cross-thread wake channel. The Linux implementation is
// built on epoll and eventfd.
package reactor
