package shutdown

import "sync"

// SignalCounter implements "first signal is graceful, the next one forces".
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	forceAfter int
	onForce    func()
	forced     bool
}

// NewSignalCounter calls onForce once when the count reaches forceAfter.
// A forceAfter below 1 is treated as 1.
func NewSignalCounter(forceAfter int, onForce func()) *SignalCounter {
	if forceAfter < 1 {
		forceAfter = 1
	}
	return &SignalCounter{forceAfter: forceAfter, onForce: onForce}
}

// Increment records a signal and returns the new count. The force callback
// runs outside the lock, at most once.
func (s *SignalCounter) Increment() int {
	s.mu.Lock()
	s.count++
	count := s.count
	fire := count >= s.forceAfter && !s.forced && s.onForce != nil
	if fire {
		s.forced = true
	}
	onForce := s.onForce
	s.mu.Unlock()

	if fire {
		onForce()
	}
	return count
}

// Count returns the number of signals seen.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
