package core

import (
	"math"
	"strings"
	"time"
)

// RunInfo describes a run at launch.
type RunInfo struct {
	ID        string
	StartedAt time.Time
	Command   []string
	Patience  int
}

// CommandLine joins the launch command for display and persistence.
func (r RunInfo) CommandLine() string {
	return strings.Join(r.Command, " ")
}

// RunSummary describes a run once it reached a terminal state.
type RunSummary struct {
	RunID         string
	FinishedAt    time.Time
	Outcome       RunOutcome
	Samples       int
	LastIteration int
	BestLoss      float64 // +Inf when no loss was observed
	BestMAP       float64
	ReportPath    string
}

// HasBestLoss reports whether BestLoss holds an observed value.
func (s RunSummary) HasBestLoss() bool {
	return !math.IsInf(s.BestLoss, 1) && !math.IsNaN(s.BestLoss)
}
