package core

import (
	"os"
	"syscall"
)

// Exit codes for the application.
// These follow Unix conventions where signal-based exits are 128 + signal number.
const (
	// ExitCodeSuccess indicates the run completed or stopped early (exit code 0)
	ExitCodeSuccess = 0

	// ExitCodeError indicates the monitored process ended abnormally (exit code 1)
	ExitCodeError = 1

	// ExitCodePrecondition indicates a required input or the executable was missing
	ExitCodePrecondition = 2

	// ExitCodeSIGINT indicates the run was interrupted by the operator.
	// Convention: 128 + 2 (SIGINT) = 130
	ExitCodeSIGINT = 130

	// ExitCodeSIGTERM indicates termination due to SIGTERM
	// Convention: 128 + 15 (SIGTERM) = 143
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodePrecondition:
		return "precondition failed"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}

// ExitCodeForOutcome maps a terminal run outcome to the process exit code.
func ExitCodeForOutcome(o RunOutcome) int {
	switch o.Kind {
	case OutcomeInterrupted:
		return ExitCodeSIGINT
	case OutcomeFailed:
		return ExitCodeError
	}
	if !o.Success() {
		return ExitCodeError
	}
	return ExitCodeSuccess
}

// ExitCodeForSignal returns the exit code of a run interrupted by sig:
// 143 for SIGTERM, 130 for SIGINT or an unknown signal.
func ExitCodeForSignal(sig os.Signal) int {
	if sig == syscall.SIGTERM {
		return ExitCodeSIGTERM
	}
	return ExitCodeSIGINT
}

// IsSignalExit returns true if the exit code indicates a signal-based termination.
func IsSignalExit(code int) bool {
	return code == ExitCodeSIGINT || code == ExitCodeSIGTERM
}
