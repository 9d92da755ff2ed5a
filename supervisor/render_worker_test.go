package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"trainwatch/history"
)

// gatedRenderer blocks each render until the test releases it.
type gatedRenderer struct {
	started chan int
	release chan struct{}

	mu     sync.Mutex
	counts []int
}

func (r *gatedRenderer) RenderProgress(snap history.Snapshot) error {
	r.started <- snap.Count()
	<-r.release
	r.mu.Lock()
	r.counts = append(r.counts, snap.Count())
	r.mu.Unlock()
	return nil
}

func snapshotOf(n int) history.Snapshot {
	h := history.New()
	for i := 0; i < n; i++ {
		h.RecordLoss(history.MetricSample{Iteration: i, Loss: 1})
	}
	return h.Snapshot()
}

func TestRenderWorker_LatestWins(t *testing.T) {
	r := &gatedRenderer{started: make(chan int, 4), release: make(chan struct{})}
	w := startRenderWorker(context.Background(), r, nil, testLogger(t))

	w.Submit(snapshotOf(1))
	if got := <-r.started; got != 1 {
		t.Fatalf("first render = %d, want 1", got)
	}

	// The worker is busy; only the newest of these survives.
	w.Submit(snapshotOf(2))
	w.Submit(snapshotOf(3))
	w.Submit(snapshotOf(4))

	r.release <- struct{}{}
	select {
	case got := <-r.started:
		if got != 4 {
			t.Errorf("second render = %d, want 4", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued snapshot never rendered")
	}
	r.release <- struct{}{}
	w.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counts) != 2 || r.counts[0] != 1 || r.counts[1] != 4 {
		t.Errorf("rendered = %v, want [1 4]", r.counts)
	}
}

func TestRenderWorker_SubmitNeverBlocks(t *testing.T) {
	r := &gatedRenderer{started: make(chan int, 1), release: make(chan struct{})}
	w := startRenderWorker(context.Background(), r, nil, testLogger(t))

	w.Submit(snapshotOf(1))
	<-r.started

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Submit(snapshotOf(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit blocked while the worker was busy")
	}

	close(r.release)
	w.Stop()
	w.Stop()
}
