package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trainwatch/core"
	"trainwatch/logging"
)

// ErrInterrupted is the cancellation cause recorded when an operator signal arrives.
var ErrInterrupted = errors.New("interrupted by signal")

// Manager coordinates the lifetime of one trainwatch invocation.
//
// The first SIGINT/SIGTERM cancels Context(), which the supervisor treats as
// its interruption token. A second signal runs the force handler (by default
// exit with 130) without waiting for cleanup. Shutdown waits for tracked
// operations and then runs the cleanup registry.
//
// Usage:
//
//	manager := shutdown.NewManager(logger)
//	manager.Register("database", 30, func(ctx context.Context) error { return db.Close() })
//	manager.Start()
//	defer manager.Shutdown()
//
//	err := manager.WrapOperation(ctx, "training-run", func(ctx context.Context) error {
//	    outcome = sup.Run(manager.Context())
//	    return nil
//	})
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu       sync.Mutex
	started  bool
	shutdown bool
	received os.Signal
	onForce  func()

	ctx    context.Context
	cancel context.CancelCauseFunc

	tracker  *OperationTracker
	registry *Registry
	signals  *SignalCounter

	sigChan chan os.Signal
	stop    chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole Shutdown sequence. Default is 30 seconds.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithForceHandler replaces the action taken on the second signal.
func WithForceHandler(fn func()) ManagerOption {
	return func(m *Manager) {
		m.onForce = fn
	}
}

// NewManager creates a Manager. Signals are not handled until Start.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancelCause(context.Background())

	m := &Manager{
		logger:   logger,
		timeout:  30 * time.Second,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 2),
		stop:     make(chan struct{}),
		onForce: func() {
			os.Exit(core.ExitCodeSIGINT)
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, m.force)
	return m
}

// Context is cancelled by the first operator signal or by Cancel.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Cancel cancels Context() without a signal.
func (m *Manager) Cancel(cause error) {
	m.cancel(cause)
}

// Interrupted reports whether an operator signal was received.
func (m *Manager) Interrupted() bool {
	return m.Signal() != nil
}

// Signal returns the first signal received, or nil.
func (m *Manager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// SetForceHandler replaces the second-signal action after construction,
// once the process to kill is known.
func (m *Manager) SetForceHandler(fn func()) {
	m.mu.Lock()
	m.onForce = fn
	m.mu.Unlock()
}

// Register adds a cleanup step; lower priorities run first.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("Registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start begins listening for SIGINT and SIGTERM. Subsequent calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-m.sigChan:
				m.handleSignal(sig)
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	m.mu.Lock()
	first := m.received == nil
	if first {
		m.received = sig
	}
	m.mu.Unlock()

	if first {
		m.logger.Info("Received signal, stopping training run",
			zap.String("signal", sig.String()),
		)
		m.cancel(fmt.Errorf("%w: %s", ErrInterrupted, sig))
	}
	m.signals.Increment()
}

func (m *Manager) force() {
	m.logger.Warn("Received second signal, forcing immediate exit")
	_ = m.logger.Sync()

	m.mu.Lock()
	fn := m.onForce
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Shutdown rejects new operations, waits for in-flight ones and runs the
// cleanup steps, all within the configured timeout. Only the first call
// does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	if started {
		signal.Stop(m.sigChan)
		close(m.stop)
	}

	begin := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.tracker.Close()
	if n := m.tracker.ActiveCount(); n > 0 {
		m.logger.Info("Waiting for in-flight operations", zap.Int("active_count", n))
	}
	if err := m.tracker.Wait(ctx); err != nil {
		m.logger.Warn("Timed out waiting for in-flight operations",
			zap.Int("remaining_ops", m.tracker.ActiveCount()),
		)
	}

	// Cleanup always gets at least one second, even after a slow wait.
	cleanupCtx := ctx
	if deadline, _ := ctx.Deadline(); time.Until(deadline) < time.Second {
		var cancelCleanup context.CancelFunc
		cleanupCtx, cancelCleanup = context.WithTimeout(context.Background(), time.Second)
		defer cancelCleanup()
	}

	m.logger.Debug("Running cleanup", zap.Strings("handlers", m.registry.Names()))
	err := m.registry.Run(cleanupCtx)
	if err != nil {
		m.logger.Error("Shutdown completed with errors",
			zap.Duration("duration", time.Since(begin)),
			zap.Error(err),
		)
		return err
	}

	m.logger.Debug("Shutdown completed", zap.Duration("duration", time.Since(begin)))
	return nil
}

// WrapOperation runs fn as a tracked operation so Shutdown waits for it.
// It returns ErrTrackerClosed without running fn once Shutdown has begun.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("Operation rejected, shutting down", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ActiveOperations returns the count of currently in-flight operations.
func (m *Manager) ActiveOperations() int {
	return m.tracker.ActiveCount()
}

// IsShuttingDown returns true if Shutdown has been called.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// RegisteredHandlers returns cleanup step names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
