// Package shutdown turns operator signals into a cancellation token for the
// training run and runs ordered cleanup once the run is over.
package shutdown

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackerClosed is returned when trying to start an operation on a closed tracker.
var ErrTrackerClosed = errors.New("operation tracker is closed")

// OperationTracker counts in-flight operations (the supervised run, chart
// renders) so shutdown can wait for them before releasing resources.
type OperationTracker struct {
	mu     sync.Mutex
	active int
	closed bool
	idle   chan struct{} // closed whenever active drops to zero
}

// NewOperationTracker creates a tracker with no active operations.
func NewOperationTracker() *OperationTracker {
	idle := make(chan struct{})
	close(idle)
	return &OperationTracker{idle: idle}
}

// Start registers a new operation. It returns false once the tracker is
// closed; when it returns true the caller must call Done exactly once.
func (t *OperationTracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if t.active == 0 {
		t.idle = make(chan struct{})
	}
	t.active++
	return true
}

// Done marks an operation as complete.
func (t *OperationTracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		panic("shutdown: Done called without matching Start")
	}
	t.active--
	if t.active == 0 {
		close(t.idle)
	}
}

// Wait blocks until no operation is active or ctx ends.
func (t *OperationTracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further Start calls; operations already running continue.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// ActiveCount returns the current number of active operations.
func (t *OperationTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// IsClosed returns true if the tracker has been closed.
func (t *OperationTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
