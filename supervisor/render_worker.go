package supervisor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"trainwatch/history"
	"trainwatch/logging"
)

// renderWorker draws progress charts off the read loop. Its queue holds one
// snapshot; a newer snapshot replaces one that has not been drawn yet.
type renderWorker struct {
	ctx      context.Context
	renderer ProgressRenderer
	wrap     OperationWrapper
	logger   *logging.Logger

	queue    chan history.Snapshot
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func startRenderWorker(ctx context.Context, renderer ProgressRenderer, wrap OperationWrapper, logger *logging.Logger) *renderWorker {
	if wrap == nil {
		wrap = func(ctx context.Context, _ string, fn func(context.Context) error) error {
			return fn(ctx)
		}
	}
	w := &renderWorker{
		ctx:      ctx,
		renderer: renderer,
		wrap:     wrap,
		logger:   logger,
		queue:    make(chan history.Snapshot, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit queues snap without blocking.
func (w *renderWorker) Submit(snap history.Snapshot) {
	for {
		select {
		case w.queue <- snap:
			return
		default:
		}
		select {
		case <-w.queue:
		default:
		}
	}
}

// Stop waits for an in-progress render to finish. A queued snapshot is dropped.
func (w *renderWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	<-w.done
}

func (w *renderWorker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case snap := <-w.queue:
			w.render(snap)
		}
	}
}

func (w *renderWorker) render(snap history.Snapshot) {
	err := w.wrap(w.ctx, "render-progress", func(context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("renderer panicked: %v", r)
			}
		}()
		return w.renderer.RenderProgress(snap)
	})
	if err != nil {
		w.logger.Warn("Failed to render progress chart",
			zap.Int("samples", snap.Count()),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("Progress chart rendered", zap.Int("samples", snap.Count()))
}
