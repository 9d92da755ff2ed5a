package shutdown

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"trainwatch/logging"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	return NewManager(logging.FromZap(zaptest.NewLogger(t)), opts...)
}

func TestManager_NewManager(t *testing.T) {
	m := newTestManager(t)
	if m.Context().Err() != nil {
		t.Error("context should not be cancelled initially")
	}
	if m.IsShuttingDown() || m.Interrupted() {
		t.Error("new manager should be idle")
	}
	if m.timeout != 30*time.Second {
		t.Errorf("timeout = %v", m.timeout)
	}
}

func TestManager_FirstSignalCancelsContext(t *testing.T) {
	var forced atomic.Int32
	m := newTestManager(t, WithForceHandler(func() { forced.Add(1) }))

	m.handleSignal(os.Interrupt)

	select {
	case <-m.Context().Done():
	default:
		t.Fatal("context should be cancelled after the first signal")
	}
	if !errors.Is(context.Cause(m.Context()), ErrInterrupted) {
		t.Errorf("cause = %v, want ErrInterrupted", context.Cause(m.Context()))
	}
	if m.Signal() != os.Interrupt || !m.Interrupted() {
		t.Errorf("Signal() = %v", m.Signal())
	}
	if forced.Load() != 0 {
		t.Error("first signal must not force")
	}

	m.handleSignal(syscall.SIGTERM)
	if forced.Load() != 1 {
		t.Errorf("force handler ran %d times, want 1", forced.Load())
	}
	if m.Signal() != os.Interrupt {
		t.Error("Signal() should keep the first signal")
	}
}

func TestManager_SetForceHandler(t *testing.T) {
	m := newTestManager(t, WithForceHandler(func() { t.Error("replaced handler called") }))
	var called atomic.Bool
	m.SetForceHandler(func() { called.Store(true) })
	m.handleSignal(os.Interrupt)
	m.handleSignal(os.Interrupt)
	if !called.Load() {
		t.Error("new force handler not called")
	}
}

func TestManager_CancelWithoutSignal(t *testing.T) {
	m := newTestManager(t)
	m.Cancel(errors.New("done"))
	if m.Context().Err() == nil {
		t.Error("Cancel should cancel the context")
	}
	if m.Interrupted() {
		t.Error("Cancel is not an operator interruption")
	}
}

func TestManager_ShutdownRunsHandlersInOrder(t *testing.T) {
	m := newTestManager(t)
	var order []string
	m.Register("db", 30, func(ctx context.Context) error {
		order = append(order, "db")
		return nil
	})
	m.Register("writer", 20, func(ctx context.Context) error {
		order = append(order, "writer")
		return nil
	})
	m.Start()

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if len(order) != 2 || order[0] != "writer" || order[1] != "db" {
		t.Errorf("order = %v", order)
	}
	if !m.IsShuttingDown() {
		t.Error("IsShuttingDown() should be true")
	}
	if err := m.Shutdown(); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestManager_ShutdownReportsErrors(t *testing.T) {
	m := newTestManager(t)
	boom := errors.New("close failed")
	m.Register("db", 30, func(ctx context.Context) error { return boom })
	if err := m.Shutdown(); !errors.Is(err, boom) {
		t.Errorf("Shutdown() = %v, want %v", err, boom)
	}
}

func TestManager_ShutdownWaitsForOperations(t *testing.T) {
	m := newTestManager(t)
	started := make(chan struct{})
	var finished atomic.Bool

	go func() {
		_ = m.WrapOperation(context.Background(), "render", func(ctx context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	<-started

	var cleanupSawFinished bool
	m.Register("check", 0, func(ctx context.Context) error {
		cleanupSawFinished = finished.Load()
		return nil
	})

	if err := m.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if !cleanupSawFinished {
		t.Error("cleanup ran before the in-flight operation finished")
	}
}

func TestManager_ShutdownTimesOutWaiting(t *testing.T) {
	m := newTestManager(t, WithTimeout(30*time.Millisecond))
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = m.WrapOperation(context.Background(), "stuck", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ran := false
	m.Register("still-runs", 0, func(ctx context.Context) error {
		ran = true
		return ctx.Err()
	})

	begin := time.Now()
	if err := m.Shutdown(); err != nil {
		t.Errorf("Shutdown() = %v, cleanup should get a fresh deadline", err)
	}
	if !ran {
		t.Error("cleanup should still run after the wait timed out")
	}
	if time.Since(begin) > 2*time.Second {
		t.Error("Shutdown took too long")
	}
}

func TestManager_WrapOperation(t *testing.T) {
	m := newTestManager(t)

	executed := false
	err := m.WrapOperation(context.Background(), "op", func(ctx context.Context) error {
		executed = true
		if m.ActiveOperations() != 1 {
			t.Errorf("ActiveOperations() = %d inside operation", m.ActiveOperations())
		}
		return nil
	})
	if err != nil || !executed {
		t.Fatalf("WrapOperation() = %v, executed = %v", err, executed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.WrapOperation(ctx, "cancelled", func(context.Context) error {
		t.Error("should not run with a cancelled context")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Errorf("WrapOperation(cancelled) = %v", err)
	}

	_ = m.Shutdown()
	if err := m.WrapOperation(context.Background(), "late", func(context.Context) error {
		t.Error("should not run after shutdown")
		return nil
	}); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("WrapOperation after shutdown = %v, want ErrTrackerClosed", err)
	}
}

func TestManager_StartIdempotent(t *testing.T) {
	m := newTestManager(t)
	m.Start()
	m.Start()
	if err := m.Shutdown(); err != nil {
		t.Fatal(err)
	}
}
