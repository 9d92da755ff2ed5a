// Package earlystop implements the patience-based stopping policy applied to
// the loss and mAP stream of a training run.
package earlystop

import (
	"errors"
	"fmt"
	"math"
)

// DefaultPatience is used when a tracker is built with a non-positive patience.
const DefaultPatience = 200

var (
	// ErrPatienceLocked is returned by SetPatience once observation has begun.
	ErrPatienceLocked = errors.New("patience cannot change after observation has started")
	// ErrInvalidPatience is returned for a patience below 1.
	ErrInvalidPatience = errors.New("patience must be positive")
)

// State is a copy of the tracker's decision state.
type State struct {
	BestLoss   float64 // +Inf until the first observation
	BestMAP    float64
	StaleCount int
	Patience   int
}

// Tracker counts consecutive non-improving observations.
//
// An observation improves when its loss is strictly below the best loss so
// far, or when it carries an mAP strictly above the best mAP so far. An
// improvement resets the stale count; anything else increments it by one.
// The tracker has no side effects beyond its own state and is not safe for
// concurrent use; the supervisor's read loop is its only caller.
type Tracker struct {
	state    State
	observed int
}

// New returns a tracker with the given patience, or DefaultPatience if patience < 1.
func New(patience int) *Tracker {
	if patience < 1 {
		patience = DefaultPatience
	}
	return &Tracker{
		state: State{
			BestLoss: math.Inf(1),
			Patience: patience,
		},
	}
}

// SetPatience overrides the patience before the first Observe call.
func (t *Tracker) SetPatience(patience int) error {
	if patience < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPatience, patience)
	}
	if t.observed > 0 {
		return ErrPatienceLocked
	}
	t.state.Patience = patience
	return nil
}

// Observe records one observation and reports whether training should stop.
// mAP is nil when no validation result accompanies this loss.
func (t *Tracker) Observe(loss float64, mAP *float64) bool {
	t.observed++

	improved := false
	if loss < t.state.BestLoss {
		t.state.BestLoss = loss
		improved = true
	}
	if mAP != nil && *mAP > t.state.BestMAP {
		t.state.BestMAP = *mAP
		improved = true
	}

	if improved {
		t.state.StaleCount = 0
	} else {
		t.state.StaleCount++
	}
	return t.state.StaleCount >= t.state.Patience
}

// State returns a copy of the current decision state.
func (t *Tracker) State() State {
	return t.state
}

// Observations returns how many times Observe has been called.
func (t *Tracker) Observations() int {
	return t.observed
}
