package core

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// OutcomeKind enumerates the terminal states of a supervised run.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeEarlyStopped
	OutcomeInterrupted
	OutcomeFailed
)

// String returns the string representation of an outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeEarlyStopped:
		return "early_stopped"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunOutcome is decided once, when the run reaches a terminal state.
type RunOutcome struct {
	Kind OutcomeKind

	// StoppedAt is the iteration that triggered early stopping.
	StoppedAt int

	// Cause is set for OutcomeFailed.
	Cause error

	// ExitErr is the process exit error for OutcomeCompleted, nil on a clean exit.
	ExitErr error
}

// Completed builds the outcome for a process whose output reached EOF.
func Completed(exitErr error) RunOutcome {
	return RunOutcome{Kind: OutcomeCompleted, ExitErr: exitErr}
}

// EarlyStopped builds the outcome for a run terminated by the early-stopping policy.
func EarlyStopped(iteration int) RunOutcome {
	return RunOutcome{Kind: OutcomeEarlyStopped, StoppedAt: iteration}
}

// Interrupted builds the outcome for an operator abort.
func Interrupted() RunOutcome {
	return RunOutcome{Kind: OutcomeInterrupted}
}

// Failed builds the outcome for a run that could not be monitored to the end.
func Failed(cause error) RunOutcome {
	return RunOutcome{Kind: OutcomeFailed, Cause: cause}
}

// Success reports whether the run ended the way a training run is supposed to.
func (o RunOutcome) Success() bool {
	switch o.Kind {
	case OutcomeCompleted:
		return o.ExitErr == nil
	case OutcomeEarlyStopped:
		return true
	default:
		return false
	}
}

// Message is the one-line operator message printed at the end of a run.
func (o RunOutcome) Message() string {
	switch o.Kind {
	case OutcomeCompleted:
		if o.ExitErr != nil {
			return fmt.Sprintf("training process exited abnormally: %v", o.ExitErr)
		}
		return "training completed"
	case OutcomeEarlyStopped:
		return fmt.Sprintf("early stopping at iteration %d", o.StoppedAt)
	case OutcomeInterrupted:
		return "training interrupted by operator"
	case OutcomeFailed:
		return fmt.Sprintf("training failed: %v", o.Cause)
	default:
		return "unknown outcome"
	}
}

// String implements fmt.Stringer.
func (o RunOutcome) String() string {
	return o.Kind.String()
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging.
func (o RunOutcome) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", o.Kind.String())
	enc.AddBool("success", o.Success())
	if o.Kind == OutcomeEarlyStopped {
		enc.AddInt("stopped_at", o.StoppedAt)
	}
	if o.Cause != nil {
		enc.AddString("cause", o.Cause.Error())
	}
	if o.ExitErr != nil {
		enc.AddString("exit_error", o.ExitErr.Error())
	}
	return nil
}
