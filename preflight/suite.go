package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"trainwatch/core"
)

// StepStatus represents the status of a preflight step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Step is one executed check.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// Result is the outcome of a full suite run.
type Result struct {
	Steps    []Step
	Passed   int
	Failed   int
	Warnings int
	Duration time.Duration
	// Failure lists every failed precondition; nil when Success.
	Failure *core.PreconditionFailure
}

// Success reports whether every required check passed. Warnings do not fail the suite.
func (r Result) Success() bool {
	return r.Failure == nil
}

// Summary returns a one-line description.
func (r Result) Summary() string {
	var sb strings.Builder
	if r.Success() {
		sb.WriteString("Preflight passed: ")
	} else {
		sb.WriteString("Preflight failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d checks passed", r.Passed, len(r.Steps))
	if r.Failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.Failed)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	fmt.Fprintf(&sb, " (took %v)", r.Duration.Round(time.Millisecond))
	return sb.String()
}

// Suite runs every check even after a failure so the operator sees the
// complete list of what is missing.
type Suite struct {
	output       io.Writer
	showProgress bool
	artifacts    []Artifact
	executable   string
	probeTimeout time.Duration
	probe        ProbeFunc
	diskPath     string
	minFreeBytes int64
	freeSpace    func(string) (int64, error)
}

// NewSuite builds the checks for cfg.
func NewSuite(cfg *core.Config) *Suite {
	return &Suite{
		output:       os.Stdout,
		showProgress: true,
		artifacts:    RequiredArtifacts(cfg),
		executable:   cfg.DarknetPath,
		probeTimeout: cfg.ProbeTimeout,
		probe:        ProbeExecutable,
		diskPath:     cfg.BackupDir,
		minFreeBytes: DefaultMinFreeBytes,
		freeSpace:    FreeSpace,
	}
}

// WithOutput sets the writer for progress output.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithShowProgress enables or disables progress output.
func (s *Suite) WithShowProgress(show bool) *Suite {
	s.showProgress = show
	return s
}

// WithProbe replaces the executable probe.
func (s *Suite) WithProbe(probe ProbeFunc) *Suite {
	s.probe = probe
	return s
}

// WithDiskCheck sets the directory and threshold for the free-space warning.
// A threshold of 0 skips the step.
func (s *Suite) WithDiskCheck(path string, minFreeBytes int64) *Suite {
	s.diskPath = path
	s.minFreeBytes = minFreeBytes
	return s
}

// Run executes all checks. The returned error is the *core.PreconditionFailure
// also stored in Result.Failure.
func (s *Suite) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	steps := make([]Step, 0, len(s.artifacts)+2)
	var failures []*core.PreconditionError

	if s.showProgress {
		s.printHeader("Training Preflight")
	}

	for _, a := range s.artifacts {
		a := a
		step := s.runStep(capitalize(a.Kind), func() (StepStatus, string, error) {
			if err := CheckFileExists(a.Path); err != nil {
				failures = append(failures, core.ErrMissingArtifact(a.Kind, a.Path))
				return StepFailed, a.Path, err
			}
			return StepPassed, a.Path, nil
		})
		steps = append(steps, step)
	}

	steps = append(steps, s.runStep("Training executable", func() (StepStatus, string, error) {
		if err := s.probe(ctx, s.executable, s.probeTimeout); err != nil {
			failures = append(failures, core.ErrExecutableUnavailable(s.executable, err.Error()))
			return StepFailed, s.executable, err
		}
		return StepPassed, s.executable, nil
	}))

	if s.minFreeBytes > 0 {
		steps = append(steps, s.runStep("Disk space", func() (StepStatus, string, error) {
			free, err := s.freeSpace(s.diskPath)
			if err != nil {
				return StepWarning, "could not determine free space", err
			}
			msg := fmt.Sprintf("%s free", formatBytes(free))
			if free < s.minFreeBytes {
				return StepWarning, msg, fmt.Errorf("less than %s free for weight backups", formatBytes(s.minFreeBytes))
			}
			return StepPassed, msg, nil
		}))
	}

	result := Result{
		Steps:    steps,
		Duration: time.Since(start),
		Failure:  core.NewPreconditionFailure(failures),
	}
	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.Passed++
		case StepFailed:
			result.Failed++
		case StepWarning:
			result.Warnings++
		}
	}

	if s.showProgress {
		s.printSummary(result)
	}

	if result.Failure != nil {
		return result, result.Failure
	}
	return result, nil
}

func (s *Suite) runStep(name string, fn func() (StepStatus, string, error)) Step {
	if s.showProgress {
		fmt.Fprintf(s.output, "  ◌ %s...", name)
	}

	started := time.Now()
	status, message, err := fn()
	step := Step{
		Name:    name,
		Status:  status,
		Message: message,
		Error:   err,
		Latency: time.Since(started),
	}

	if s.showProgress {
		s.printStep(step)
	}
	return step
}

func (s *Suite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *Suite) printStep(step Step) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	default:
		icon, clr = "?", color.New(color.FgWhite)
	}

	fmt.Fprint(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if step.Error != nil && step.Status != StepPassed {
		clr.Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *Suite) printSummary(result Result) {
	fmt.Fprintln(s.output)

	if result.Success() {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprint(s.output, "━━━ Preflight Passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d checks passed in %v)",
			result.Passed, len(result.Steps), result.Duration.Round(time.Millisecond))
		ok.Fprintln(s.output, " ━━━")
	} else {
		fail := color.New(color.FgRed, color.Bold)
		fail.Fprint(s.output, "━━━ Preflight Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)", result.Passed, result.Failed)
		fail.Fprintln(s.output, " ━━━")

		for _, subject := range result.Failure.Subjects() {
			color.New(color.FgRed).Fprintf(s.output, "   - %s\n", subject)
		}
	}

	fmt.Fprintln(s.output)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
