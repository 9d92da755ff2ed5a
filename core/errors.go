package core

import (
	"errors"
	"fmt"
	"strings"
)

// PreconditionError describes a single check that must pass before a
// training run may be launched.
type PreconditionError struct {
	Code    string // Error code for programmatic handling
	Subject string // File path or executable the check was about
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *PreconditionError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for precondition failures
const (
	ErrCodeMissingArtifact       = "MISSING_ARTIFACT"
	ErrCodeExecutableUnavailable = "EXECUTABLE_UNAVAILABLE"
	ErrCodeInvalidConfig         = "INVALID_CONFIG"
)

// Sentinel errors surfaced by the supervisor.
var (
	// ErrProcessStart is returned when the training executable cannot be spawned.
	ErrProcessStart = errors.New("failed to start training process")
	// ErrStreamRead is returned when reading the process output stream fails.
	ErrStreamRead = errors.New("failed to read training output")
	// ErrAlreadyRan is returned when a supervisor is asked to run twice.
	ErrAlreadyRan = errors.New("supervisor has already run")
)

// ErrMissingArtifact returns an error for a required input file that does not exist.
func ErrMissingArtifact(kind, path string) *PreconditionError {
	return &PreconditionError{
		Code:    ErrCodeMissingArtifact,
		Subject: path,
		Message: fmt.Sprintf("Missing %s: %s", kind, path),
		Action:  "Create the file or point the matching TRAINWATCH_* setting at it",
	}
}

// ErrExecutableUnavailable returns an error when the training executable cannot be probed.
func ErrExecutableUnavailable(executable string, reason string) *PreconditionError {
	return &PreconditionError{
		Code:    ErrCodeExecutableUnavailable,
		Subject: executable,
		Message: fmt.Sprintf("Training executable %q is not available: %s", executable, reason),
		Action:  "Install darknet and make sure it is on PATH, or set TRAINWATCH_DARKNET",
	}
}

// ErrInvalidConfig returns an error for a configuration value that cannot be used.
func ErrInvalidConfig(field string, reason string) *PreconditionError {
	return &PreconditionError{
		Code:    ErrCodeInvalidConfig,
		Subject: field,
		Message: fmt.Sprintf("Invalid configuration %s: %s", field, reason),
	}
}

// PreconditionFailure aggregates every failed precondition so the operator
// sees the full list at once instead of fixing problems one at a time.
type PreconditionFailure struct {
	errs []*PreconditionError
}

// NewPreconditionFailure returns nil when errs is empty.
func NewPreconditionFailure(errs []*PreconditionError) *PreconditionFailure {
	if len(errs) == 0 {
		return nil
	}
	return &PreconditionFailure{errs: errs}
}

// Errors returns the individual failures in check order.
func (f *PreconditionFailure) Errors() []*PreconditionError {
	out := make([]*PreconditionError, len(f.errs))
	copy(out, f.errs)
	return out
}

// Subjects lists what was missing or unavailable.
func (f *PreconditionFailure) Subjects() []string {
	out := make([]string, 0, len(f.errs))
	for _, e := range f.errs {
		out = append(out, e.Subject)
	}
	return out
}

func (f *PreconditionFailure) Error() string {
	lines := make([]string, 0, len(f.errs))
	for _, e := range f.errs {
		lines = append(lines, "  - "+e.Message)
	}
	return fmt.Sprintf("%d precondition(s) failed:\n%s", len(f.errs), strings.Join(lines, "\n"))
}

// Unwrap exposes the individual errors to errors.Is / errors.As.
func (f *PreconditionFailure) Unwrap() []error {
	out := make([]error, len(f.errs))
	for i, e := range f.errs {
		out[i] = e
	}
	return out
}

// IsPreconditionError checks if an error is (or wraps) a PreconditionError and returns it if so.
func IsPreconditionError(err error) (*PreconditionError, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a PreconditionError.
func GetErrorCode(err error) string {
	if pe, ok := IsPreconditionError(err); ok {
		return pe.Code
	}
	return ""
}
