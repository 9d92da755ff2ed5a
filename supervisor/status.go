package supervisor

import (
	"math"
	"time"

	"trainwatch/core"
)

// Phase is the supervisor's position in its state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleted
	PhaseEarlyStopped
	PhaseInterrupted
	PhaseFailed
)

// String returns the string representation of a phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseEarlyStopped:
		return "early_stopped"
	case PhaseInterrupted:
		return "interrupted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase is an end state.
func (p Phase) Terminal() bool {
	return p >= PhaseCompleted
}

func phaseFor(o core.RunOutcome) Phase {
	switch o.Kind {
	case core.OutcomeCompleted:
		return PhaseCompleted
	case core.OutcomeEarlyStopped:
		return PhaseEarlyStopped
	case core.OutcomeInterrupted:
		return PhaseInterrupted
	default:
		return PhaseFailed
	}
}

// Status is a point-in-time view of a run, safe to read from any goroutine.
type Status struct {
	RunID       string        `json:"run_id"`
	Phase       string        `json:"phase"`
	PID         int           `json:"pid,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	Elapsed     time.Duration `json:"-"`
	ElapsedSec  float64       `json:"elapsed_seconds"`
	Samples     int           `json:"samples"`
	Validations int           `json:"validations"`
	Iteration   *int          `json:"iteration,omitempty"`
	LastLoss    *float64      `json:"last_loss,omitempty"`
	LastAvg     *float64      `json:"last_avg_loss,omitempty"`
	BestLoss    *float64      `json:"best_loss,omitempty"`
	BestMAP     float64       `json:"best_map"`
	StaleCount  int           `json:"stale_count"`
	Patience    int           `json:"patience"`
	Outcome     string        `json:"outcome,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// Status returns the current run status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := Status{
		RunID:      s.runID,
		Phase:      s.phase.String(),
		PID:        s.pid,
		BestMAP:    s.state.BestMAP,
		StaleCount: s.state.StaleCount,
		Patience:   s.state.Patience,
	}
	started, ended := s.startedAt, s.endedAt
	if !math.IsInf(s.state.BestLoss, 1) {
		v := s.state.BestLoss
		st.BestLoss = &v
	}
	if s.hasIter {
		v := s.iteration
		st.Iteration = &v
	}
	if s.outcome != nil {
		st.Outcome = s.outcome.Kind.String()
		st.Message = s.outcome.Message()
	}
	s.mu.RUnlock()

	if !started.IsZero() {
		st.StartedAt = &started
		if ended.IsZero() {
			ended = s.now()
		}
		st.Elapsed = ended.Sub(started)
		st.ElapsedSec = st.Elapsed.Seconds()
	}

	snap := s.history.Snapshot()
	st.Samples = snap.Count()
	st.Validations = len(snap.Validations)
	if n := len(snap.Losses); n > 0 {
		last := snap.Losses[n-1]
		st.LastLoss = &last.Loss
		st.LastAvg = &last.AvgLoss
	}
	return st
}
