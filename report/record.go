// Package report turns a run's metric history into the persisted artifacts:
// a JSON report, an in-progress chart and a final chart.
package report

import (
	"encoding/json"
	"io"
	"math"
	"time"

	"trainwatch/core"
	"trainwatch/earlystop"
	"trainwatch/history"
	"trainwatch/metrics"
)

// Input is everything the final report is built from.
type Input struct {
	RunID     string
	Snapshot  history.Snapshot
	Best      earlystop.State
	Outcome   core.RunOutcome
	StartedAt time.Time
	Elapsed   time.Duration
	GPU       *metrics.GPUSummary
	// Now stamps the report; time.Now when zero.
	Now time.Time
}

// Record is the JSON document written to the report file.
// Loss summaries are null when no loss sample was recorded.
type Record struct {
	RunID              string              `json:"run_id,omitempty"`
	Timestamp          string              `json:"timestamp"`
	StartedAt          string              `json:"started_at,omitempty"`
	Outcome            string              `json:"outcome"`
	Success            bool                `json:"success"`
	Message            string              `json:"message"`
	StoppedAtIteration *int                `json:"stopped_at_iteration,omitempty"`
	FailureCause       string              `json:"failure_cause,omitempty"`
	TotalIterations    int                 `json:"total_iterations"`
	LastIteration      *int                `json:"last_iteration"`
	ElapsedTimeHours   float64             `json:"elapsed_time_hours"`
	InitialLoss        *float64            `json:"initial_loss"`
	FinalLoss          *float64            `json:"final_loss"`
	BestLoss           *float64            `json:"best_loss"`
	BestMAP            float64             `json:"best_map"`
	Patience           int                 `json:"patience"`
	StaleCount         int                 `json:"stale_count"`
	Iterations         []int               `json:"iterations"`
	Losses             []float64           `json:"losses"`
	AvgLosses          []float64           `json:"avg_losses"`
	MAPs               []float64           `json:"maps"`
	MAPIterations      []*int              `json:"map_iterations"`
	GPU                *metrics.GPUSummary `json:"gpu,omitempty"`
}

// BuildRecord derives the report document. An empty history yields a
// well-formed record with empty series.
func BuildRecord(in Input) Record {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	snap := in.Snapshot

	rec := Record{
		RunID:            in.RunID,
		Timestamp:        now.Format(time.RFC3339),
		Outcome:          in.Outcome.Kind.String(),
		Success:          in.Outcome.Success(),
		Message:          in.Outcome.Message(),
		TotalIterations:  snap.Count(),
		ElapsedTimeHours: in.Elapsed.Hours(),
		Patience:         in.Best.Patience,
		StaleCount:       in.Best.StaleCount,
		Iterations:       snap.Iterations(),
		Losses:           snap.LossSeries(),
		AvgLosses:        snap.AvgLossSeries(),
		MAPs:             snap.MAPSeries(),
		MAPIterations:    make([]*int, len(snap.Validations)),
		GPU:              in.GPU,
	}
	if !in.StartedAt.IsZero() {
		rec.StartedAt = in.StartedAt.Format(time.RFC3339)
	}

	switch in.Outcome.Kind {
	case core.OutcomeEarlyStopped:
		at := in.Outcome.StoppedAt
		rec.StoppedAtIteration = &at
	case core.OutcomeFailed:
		if in.Outcome.Cause != nil {
			rec.FailureCause = in.Outcome.Cause.Error()
		}
	case core.OutcomeCompleted:
		if in.Outcome.ExitErr != nil {
			rec.FailureCause = in.Outcome.ExitErr.Error()
		}
	}

	if v, ok := snap.LastIteration(); ok {
		rec.LastIteration = &v
	}
	if v, ok := snap.FirstLoss(); ok {
		rec.InitialLoss = &v
	}
	if v, ok := snap.LastLoss(); ok {
		rec.FinalLoss = &v
	}
	if v, ok := bestLoss(in.Best, snap); ok {
		rec.BestLoss = &v
	}
	rec.BestMAP = in.Best.BestMAP
	if v, ok := snap.MaxMAP(); ok && v > rec.BestMAP {
		rec.BestMAP = v
	}

	for i, v := range snap.Validations {
		if v.HasIteration {
			it := v.Iteration
			rec.MAPIterations[i] = &it
		}
	}
	return rec
}

func bestLoss(state earlystop.State, snap history.Snapshot) (float64, bool) {
	best, ok := snap.MinLoss()
	if !math.IsInf(state.BestLoss, 1) && !math.IsNaN(state.BestLoss) {
		if !ok || state.BestLoss < best {
			best = state.BestLoss
		}
		ok = true
	}
	return best, ok
}

// WriteJSON encodes the record with two-space indentation.
func (r Record) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
