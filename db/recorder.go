package db

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"trainwatch/core"
	"trainwatch/history"
	"trainwatch/logging"
	"trainwatch/metrics"
)

// Recorder feeds supervisor events into the Repository.
// Persistence is best effort: failures are logged and never reach the caller's
// control flow, and a run whose row could not be created records nothing else.
type Recorder struct {
	repo    *Repository
	logger  *logging.Logger
	enabled atomic.Bool
}

// NewRecorder creates a Recorder over repo.
func NewRecorder(repo *Repository, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{repo: repo, logger: logger.Named("history-db")}
}

// RunStarted inserts the run row and enables sample recording.
func (r *Recorder) RunStarted(ctx context.Context, run core.RunInfo) error {
	if err := r.repo.CreateRun(ctx, run); err != nil {
		r.logger.Warn("Run history disabled for this run", zap.Error(err))
		return err
	}
	r.enabled.Store(true)
	return nil
}

// LossRecorded queues a loss sample.
func (r *Recorder) LossRecorded(runID string, s history.MetricSample) {
	if !r.enabled.Load() {
		return
	}
	if err := r.repo.InsertLossSample(context.Background(), runID, s); err != nil {
		r.logger.Warn("Failed to store loss sample", zap.Int("iteration", s.Iteration), zap.Error(err))
	}
}

// ValidationRecorded queues a mAP reading.
func (r *Recorder) ValidationRecorded(runID string, v history.ValidationSample) {
	if !r.enabled.Load() {
		return
	}
	if err := r.repo.InsertValidationSample(context.Background(), runID, v); err != nil {
		r.logger.Warn("Failed to store validation sample", zap.Error(err))
	}
}

// GPUSampled queues a GPU reading.
func (r *Recorder) GPUSampled(runID string, g metrics.GPUSample) {
	if !r.enabled.Load() {
		return
	}
	if err := r.repo.InsertGPUSample(context.Background(), runID, g); err != nil {
		r.logger.Debug("Failed to store GPU sample", zap.Error(err))
	}
}

// RunFinished writes the terminal state of the run.
func (r *Recorder) RunFinished(ctx context.Context, s core.RunSummary) error {
	if !r.enabled.Load() {
		return nil
	}
	if err := r.repo.FinishRun(ctx, s); err != nil {
		r.logger.Warn("Failed to finish run record", zap.String("run_id", s.RunID), zap.Error(err))
		return err
	}
	return nil
}
