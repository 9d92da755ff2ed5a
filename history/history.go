// Package history stores the metric series of one training run.
package history

import (
	"math"
	"sync"

	"go.uber.org/zap/zapcore"
)

// MetricSample is one parsed loss line.
type MetricSample struct {
	Iteration int
	Loss      float64
	AvgLoss   float64
	WallTime  *float64 // seconds since the run started, nil when unknown
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s MetricSample) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("iteration", s.Iteration)
	enc.AddFloat64("loss", s.Loss)
	enc.AddFloat64("avg_loss", s.AvgLoss)
	if s.WallTime != nil {
		enc.AddFloat64("wall_time", *s.WallTime)
	}
	return nil
}

// ValidationSample is one parsed mAP line. Iteration is the iteration of the
// most recent loss sample before it; HasIteration is false when none existed.
type ValidationSample struct {
	MAP          float64
	Iteration    int
	HasIteration bool
}

// History is an append-only store for loss and validation samples.
// Appends come from a single writer; Snapshot may be called from any goroutine.
type History struct {
	mu          sync.RWMutex
	losses      []MetricSample
	validations []ValidationSample
}

// New returns an empty history.
func New() *History {
	return &History{}
}

// RecordLoss appends a loss sample.
func (h *History) RecordLoss(s MetricSample) {
	if s.WallTime != nil {
		w := *s.WallTime
		s.WallTime = &w
	}
	h.mu.Lock()
	h.losses = append(h.losses, s)
	h.mu.Unlock()
}

// RecordValidation appends a validation sample.
func (h *History) RecordValidation(s ValidationSample) {
	h.mu.Lock()
	h.validations = append(h.validations, s)
	h.mu.Unlock()
}

// Len returns the number of loss samples recorded so far.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.losses)
}

// Snapshot returns a read-only view of everything recorded so far.
//
// The view shares backing arrays with the history. Entries are never
// modified after being appended, and the capacity of each view is clamped to
// its length so a later append reallocates or writes past the view instead
// of into it.
func (h *History) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, m := len(h.losses), len(h.validations)
	return Snapshot{
		Losses:      h.losses[:n:n],
		Validations: h.validations[:m:m],
	}
}

// Snapshot is an immutable view of a History. Callers must not modify the slices.
type Snapshot struct {
	Losses      []MetricSample
	Validations []ValidationSample
}

// Count returns the number of loss samples.
func (s Snapshot) Count() int {
	return len(s.Losses)
}

// Empty reports whether no loss sample was recorded.
func (s Snapshot) Empty() bool {
	return len(s.Losses) == 0
}

// FirstLoss returns the first recorded loss.
func (s Snapshot) FirstLoss() (float64, bool) {
	if len(s.Losses) == 0 {
		return 0, false
	}
	return s.Losses[0].Loss, true
}

// LastLoss returns the most recently recorded loss.
func (s Snapshot) LastLoss() (float64, bool) {
	if len(s.Losses) == 0 {
		return 0, false
	}
	return s.Losses[len(s.Losses)-1].Loss, true
}

// MinLoss returns the smallest recorded loss.
func (s Snapshot) MinLoss() (float64, bool) {
	if len(s.Losses) == 0 {
		return 0, false
	}
	best := math.Inf(1)
	for _, l := range s.Losses {
		best = math.Min(best, l.Loss)
	}
	return best, true
}

// MaxMAP returns the largest recorded mAP.
func (s Snapshot) MaxMAP() (float64, bool) {
	if len(s.Validations) == 0 {
		return 0, false
	}
	best := math.Inf(-1)
	for _, v := range s.Validations {
		best = math.Max(best, v.MAP)
	}
	return best, true
}

// LastIteration returns the iteration of the latest loss sample.
func (s Snapshot) LastIteration() (int, bool) {
	if len(s.Losses) == 0 {
		return 0, false
	}
	return s.Losses[len(s.Losses)-1].Iteration, true
}

// Iterations returns the iteration series.
func (s Snapshot) Iterations() []int {
	out := make([]int, len(s.Losses))
	for i, l := range s.Losses {
		out[i] = l.Iteration
	}
	return out
}

// LossSeries returns the raw loss series.
func (s Snapshot) LossSeries() []float64 {
	out := make([]float64, len(s.Losses))
	for i, l := range s.Losses {
		out[i] = l.Loss
	}
	return out
}

// AvgLossSeries returns the smoothed loss series.
func (s Snapshot) AvgLossSeries() []float64 {
	out := make([]float64, len(s.Losses))
	for i, l := range s.Losses {
		out[i] = l.AvgLoss
	}
	return out
}

// MAPSeries returns the mAP series in the order it was observed.
func (s Snapshot) MAPSeries() []float64 {
	out := make([]float64, len(s.Validations))
	for i, v := range s.Validations {
		out[i] = v.MAP
	}
	return out
}

// MAPIterations returns the iteration each mAP value belongs to, or -1 when
// it arrived before any loss sample.
func (s Snapshot) MAPIterations() []int {
	out := make([]int, len(s.Validations))
	for i, v := range s.Validations {
		if v.HasIteration {
			out[i] = v.Iteration
		} else {
			out[i] = -1
		}
	}
	return out
}

// IterationTime is the wall time spent between two consecutive timed loss samples.
type IterationTime struct {
	Iteration int
	Seconds   float64 // per iteration
}

// IterationTimes derives seconds per iteration between consecutive samples
// that both carry a wall time and advance the iteration counter.
func (s Snapshot) IterationTimes() []IterationTime {
	var out []IterationTime
	var prev *MetricSample
	for i := range s.Losses {
		cur := &s.Losses[i]
		if cur.WallTime == nil {
			continue
		}
		if prev != nil && cur.Iteration > prev.Iteration {
			dt := *cur.WallTime - *prev.WallTime
			steps := float64(cur.Iteration - prev.Iteration)
			if dt >= 0 {
				out = append(out, IterationTime{Iteration: cur.Iteration, Seconds: dt / steps})
			}
		}
		prev = cur
	}
	return out
}
