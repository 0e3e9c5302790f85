// File: core/semaphore.go
// Author: momentics <momentics@gmail.com>
//
// Counting semaphore parking a caller until a cross-thread invocation
// completes. Condition-variable based, no spin waiting.

package core

import "sync"

// Semaphore is a counting wait/signal primitive.
type Semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

// NewSemaphore creates a semaphore with an initial resource count n.
func NewSemaphore(n int) *Semaphore {
	s := &Semaphore{count: n}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Available returns the current resource count.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Acquire blocks until n resources are available and takes them.
func (s *Semaphore) Acquire(n int) {
	s.mu.Lock()
	for s.count < n {
		s.cond.Wait()
	}
	s.count -= n
	s.mu.Unlock()
}

// TryAcquire takes n resources without blocking. It reports whether the
// resources were taken.
func (s *Semaphore) TryAcquire(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count < n {
		return false
	}
	s.count -= n
	return true
}

// Release returns n resources and wakes blocked acquirers.
func (s *Semaphore) Release(n int) {
	s.mu.Lock()
	s.count += n
	s.mu.Unlock()
	s.cond.Broadcast()
}
