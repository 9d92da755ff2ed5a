package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trainwatch/logging"
)

// DefaultQueueCapacity is the default buffer size for queued writes.
const DefaultQueueCapacity = 512

// WriteFunc is one queued database write.
type WriteFunc func(ctx context.Context) error

// AsyncWriter applies writes on a background goroutine so callers on the
// training read loop never wait on SQLite.
//
// Writes that do not fit in the queue are dropped and counted.
type AsyncWriter struct {
	queue   chan namedWrite
	logger  *logging.Logger
	wg      sync.WaitGroup
	stop    chan struct{}
	mu      sync.Mutex
	started bool
	stopped bool

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

type namedWrite struct {
	name string
	fn   WriteFunc
}

// NewAsyncWriter creates a writer with the given queue capacity
// (DefaultQueueCapacity when < 1).
func NewAsyncWriter(logger *logging.Logger, capacity int) *AsyncWriter {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AsyncWriter{
		queue:  make(chan namedWrite, capacity),
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Start launches the background goroutine. Subsequent calls are no-ops.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.loop()
}

func (w *AsyncWriter) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			w.drain()
			return
		case op := <-w.queue:
			w.apply(op)
		}
	}
}

func (w *AsyncWriter) drain() {
	for {
		select {
		case op := <-w.queue:
			w.apply(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) apply(op namedWrite) {
	if err := op.fn(context.Background()); err != nil {
		w.failed.Add(1)
		w.logger.Warn("Async database write failed",
			zap.String("write", op.name),
			zap.Error(err))
		return
	}
	w.written.Add(1)
}

// Enqueue queues fn without blocking. It returns false when the queue is
// full or the writer has stopped.
func (w *AsyncWriter) Enqueue(name string, fn WriteFunc) bool {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		w.dropped.Add(1)
		return false
	}

	select {
	case w.queue <- namedWrite{name: name, fn: fn}:
		return true
	default:
		if w.dropped.Add(1) == 1 {
			w.logger.Warn("Async write queue full, dropping samples",
				zap.Int("capacity", cap(w.queue)))
		}
		return false
	}
}

// Pending returns the number of queued writes.
func (w *AsyncWriter) Pending() int {
	return len(w.queue)
}

// Written, Dropped and Failed report write counts since creation.
func (w *AsyncWriter) Written() int64 { return w.written.Load() }
func (w *AsyncWriter) Dropped() int64 { return w.dropped.Load() }
func (w *AsyncWriter) Failed() int64  { return w.failed.Load() }

// IsStarted returns whether the background goroutine is running.
func (w *AsyncWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Drain stops accepting writes, applies everything queued and waits for
// the goroutine to exit or ctx to expire.
func (w *AsyncWriter) Drain(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	if !started {
		w.drain()
		return nil
	}
	close(w.stop)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Debug("Async writer drained",
			zap.Int64("written", w.Written()),
			zap.Int64("dropped", w.Dropped()),
			zap.Int64("failed", w.Failed()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopWithTimeout drains with a bounded wait and reports whether it finished.
func (w *AsyncWriter) StopWithTimeout(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.Drain(ctx) == nil
}
