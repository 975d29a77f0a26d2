package fetchkit

import "sync"

// Semaphore bounds the number of concurrently running workers. Its capacity
// can be resized at runtime without disturbing slots already held.
//
// Semaphore is safe for concurrent use by multiple goroutines.
type Semaphore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int
	current int
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(n int) *Semaphore {
	s := &Semaphore{max: n}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// TryAcquire attempts to take a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < s.max {
		s.current++
		return true
	}
	return false
}

// Acquire blocks until a slot is available.
func (s *Semaphore) Acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.current >= s.max {
		s.cond.Wait()
	}
	s.current++
}

// Release returns a slot to the semaphore.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current > 0 {
		s.current--
		s.cond.Signal()
	}
}

// Resize changes the capacity. Growing wakes blocked acquirers; shrinking
// never revokes slots already held, the count drains down as they release.
func (s *Semaphore) Resize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grew := n > s.max
	s.max = n
	if grew {
		s.cond.Broadcast()
	}
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current >= s.max {
		return 0
	}
	return s.max - s.current
}

// Capacity returns the current maximum capacity.
func (s *Semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

// InUse returns the number of slots currently held.
func (s *Semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
