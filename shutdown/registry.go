package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"trainwatch/core"
)

type cleanupEntry struct {
	name     string
	priority int // lower runs earlier
	fn       core.ShutdownFunc
}

// Registry holds cleanup steps and runs them once, in priority order.
// Steps with equal priority run in registration order.
//
// Priorities used by trainwatch:
//   - 10: stop the GPU collector and status server
//   - 20: drain the async database writer
//   - 30: close the database
//   - 40: remove leftover temp files
//   - 90: sync the logger
type Registry struct {
	mu      sync.Mutex
	entries []cleanupEntry
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a cleanup step. Registration after Run is ignored.
func (r *Registry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, cleanupEntry{name: name, priority: priority, fn: fn})
}

// Run executes every step, even after failures, and joins their errors.
// Only the first call does anything.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the registered steps in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.sortedLocked()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Count returns the number of registered steps.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) sortedLocked() []cleanupEntry {
	sorted := make([]cleanupEntry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}
