// Package supervisor runs the training process and turns its output into
// decisions: every line is parsed, recorded and fed to the early-stopping
// tracker, and the run ends in exactly one terminal outcome followed by
// exactly one report.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trainwatch/core"
	"trainwatch/earlystop"
	"trainwatch/history"
	"trainwatch/logging"
	"trainwatch/metrics"
	"trainwatch/parser"
	"trainwatch/report"
)

const (
	// DefaultRenderStride is the number of distinct iterations between progress charts.
	DefaultRenderStride = 50
	// DefaultGracePeriod is how long a terminated process has before it is killed.
	DefaultGracePeriod = 10 * time.Second

	finishTimeout = 5 * time.Second
)

// ErrPatienceLocked is returned by SetPatience once the run has started.
var ErrPatienceLocked = errors.New("patience can only be set before the run starts")

// Config tunes supervision.
type Config struct {
	Patience     int
	RenderStride int
	GracePeriod  time.Duration
	// Echo receives every output line of the process; nil disables echoing.
	Echo io.Writer
}

// DefaultConfig returns the default supervision settings.
func DefaultConfig() Config {
	return Config{
		Patience:     earlystop.DefaultPatience,
		RenderStride: DefaultRenderStride,
		GracePeriod:  DefaultGracePeriod,
	}
}

// Reporter produces the final report. It is called exactly once per run.
type Reporter interface {
	Generate(in report.Input) error
}

// ProgressRenderer draws the in-progress chart.
type ProgressRenderer interface {
	RenderProgress(snap history.Snapshot) error
}

// RunRecorder persists run history. Implementations must not block for long;
// sample calls happen on the read loop.
type RunRecorder interface {
	RunStarted(ctx context.Context, run core.RunInfo) error
	LossRecorded(runID string, s history.MetricSample)
	ValidationRecorded(runID string, v history.ValidationSample)
	RunFinished(ctx context.Context, s core.RunSummary) error
}

// GPUSource provides the GPU usage summary for the report.
type GPUSource interface {
	Summary() metrics.GPUSummary
}

// OperationWrapper runs fn as a tracked operation. shutdown.Manager.WrapOperation
// has this signature.
type OperationWrapper func(ctx context.Context, name string, fn func(context.Context) error) error

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithConfig replaces the supervision settings.
func WithConfig(cfg Config) Option {
	return func(s *Supervisor) {
		s.cfg = cfg
	}
}

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		s.launcher = l
	}
}

// WithProgressRenderer enables progress charts.
func WithProgressRenderer(r ProgressRenderer) Option {
	return func(s *Supervisor) {
		s.renderer = r
	}
}

// WithRecorder enables run history persistence.
func WithRecorder(r RunRecorder) Option {
	return func(s *Supervisor) {
		s.recorder = r
	}
}

// WithGPUSource adds a GPU summary to the report.
func WithGPUSource(g GPUSource) Option {
	return func(s *Supervisor) {
		s.gpu = g
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Supervisor) {
		s.runID = id
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		s.now = now
	}
}

// WithOperationWrapper tracks progress renders so shutdown waits for them.
func WithOperationWrapper(wrap OperationWrapper) Option {
	return func(s *Supervisor) {
		s.wrap = wrap
	}
}

// WithReportPath sets the report location stored with the run history.
func WithReportPath(path string) Option {
	return func(s *Supervisor) {
		s.reportPath = path
	}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Supervisor owns one training run. It is single use.
type Supervisor struct {
	cmd        Command
	cfg        Config
	launcher   Launcher
	reporter   Reporter
	renderer   ProgressRenderer
	recorder   RunRecorder
	gpu        GPUSource
	wrap       OperationWrapper
	logger     *logging.Logger
	procLogger *logging.Logger
	runID      string
	reportPath string
	now        func() time.Time

	tracker *earlystop.Tracker
	history *history.History

	mu        sync.RWMutex
	ran       bool
	phase     Phase
	state     earlystop.State
	startedAt time.Time
	endedAt   time.Time
	pid       int
	proc      Process
	outcome   *core.RunOutcome
	iteration int
	hasIter   bool
}

// New creates a Supervisor for cmd. reporter is required.
func New(cmd Command, reporter Reporter, logger *logging.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Supervisor{
		cmd:      cmd,
		cfg:      DefaultConfig(),
		launcher: ExecLauncher{},
		reporter: reporter,
		logger:   logger.Named("supervisor"),
		now:      time.Now,
		history:  history.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = NewRunID()
	}
	if s.cfg.RenderStride < 1 {
		s.cfg.RenderStride = DefaultRenderStride
	}
	if s.cfg.GracePeriod <= 0 {
		s.cfg.GracePeriod = DefaultGracePeriod
	}
	s.procLogger = logger.Named("darknet")
	s.logger = s.logger.With(logging.RunField(s.runID))
	s.tracker = earlystop.New(s.cfg.Patience)
	s.state = s.tracker.State()
	return s
}

// RunID returns the run identifier.
func (s *Supervisor) RunID() string {
	return s.runID
}

// SetPatience overrides the early-stopping patience. It fails once Run has been called.
func (s *Supervisor) SetPatience(patience int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ran {
		return ErrPatienceLocked
	}
	if err := s.tracker.SetPatience(patience); err != nil {
		return err
	}
	s.cfg.Patience = patience
	s.state = s.tracker.State()
	return nil
}

// History returns the metric history of the run. Only its Snapshot method
// is safe while the run is in progress.
func (s *Supervisor) History() *history.History {
	return s.history
}

// runContext is the per-run state threaded through the read loop.
type runContext struct {
	ctx        context.Context
	logger     *logging.Logger
	started    time.Time
	proc       Process
	lines      *lineReader
	render     *renderWorker
	pendingMAP *float64
	lastIter   int
	hasIter    bool
	distinct   int
}

// Run launches the process and supervises it until a terminal state.
// Cancelling ctx interrupts the run. The report is generated before Run
// returns, whatever the outcome. A second call returns Failed without
// launching anything or producing a report.
func (s *Supervisor) Run(ctx context.Context) core.RunOutcome {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return core.Failed(core.ErrAlreadyRan)
	}
	s.ran = true
	started := s.now()
	s.startedAt = started
	s.mu.Unlock()

	rc := &runContext{ctx: ctx, logger: s.logger, started: started}

	s.logger.Info("Starting training run",
		zap.String("command", s.cmd.String()),
		zap.Int("patience", s.cfg.Patience),
	)
	if s.recorder != nil {
		info := core.RunInfo{
			ID:        s.runID,
			StartedAt: started,
			Command:   s.cmd.Argv(),
			Patience:  s.cfg.Patience,
		}
		// History is best effort; the recorder logs its own failures.
		_ = s.recorder.RunStarted(context.WithoutCancel(ctx), info)
	}

	if ctx.Err() != nil {
		return s.finish(rc, core.Interrupted())
	}

	proc, err := s.launcher.Launch(ctx, s.cmd)
	if err != nil {
		s.logger.Error("Failed to start training process", zap.Error(err))
		return s.finish(rc, core.Failed(fmt.Errorf("%w: %w", core.ErrProcessStart, err)))
	}
	rc.proc = proc

	s.mu.Lock()
	s.phase = PhaseRunning
	s.pid = proc.Pid()
	s.proc = proc
	s.mu.Unlock()
	s.logger.Info("Training process started", zap.Int("pid", proc.Pid()))

	if s.renderer != nil {
		rc.render = startRenderWorker(ctx, s.renderer, s.wrap, s.logger)
	}
	rc.lines = startLineReader(proc.Output())
	defer rc.lines.Close()

	return s.finish(rc, s.loop(rc))
}

// Kill ends the training process at once, without the grace period. Run
// still reaches its terminal state and writes the report. It reports
// whether a running process was killed.
func (s *Supervisor) Kill() bool {
	s.mu.RLock()
	proc, phase := s.proc, s.phase
	s.mu.RUnlock()
	if proc == nil || phase != PhaseRunning {
		return false
	}

	s.logger.Warn("Killing training process", zap.Int("pid", proc.Pid()))
	if err := proc.Kill(); err != nil {
		s.logger.Error("Failed to kill training process", zap.Error(err))
		return false
	}
	return true
}

// loop consumes lines until the run reaches a terminal state.
func (s *Supervisor) loop(rc *runContext) core.RunOutcome {
	for {
		if rc.ctx.Err() != nil {
			return s.interrupt(rc)
		}

		select {
		case <-rc.ctx.Done():
			return s.interrupt(rc)

		case line, ok := <-rc.lines.lines:
			if !ok {
				if err := rc.lines.err; err != nil {
					rc.logger.Error("Failed to read training output", zap.Error(err))
					s.stopProcess(rc)
					return core.Failed(fmt.Errorf("%w: %w", core.ErrStreamRead, err))
				}
				return s.awaitExit(rc)
			}
			if stop, iteration := s.handleLine(rc, line); stop {
				rc.logger.Info("Early stopping triggered",
					zap.Int("iteration", iteration),
					zap.Int("patience", s.cfg.Patience),
				)
				s.stopProcess(rc)
				return core.EarlyStopped(iteration)
			}
		}
	}
}

// handleLine processes one output line. It reports whether the tracker
// asked to stop, and the iteration of the loss sample that triggered it.
func (s *Supervisor) handleLine(rc *runContext, line string) (bool, int) {
	if s.cfg.Echo != nil {
		fmt.Fprintln(s.cfg.Echo, line)
	}
	s.procLogger.Debug(line)

	ev := parser.Parse(line)
	switch ev.Kind {
	case parser.LossEvent:
		wall := s.now().Sub(rc.started).Seconds()
		sample := history.MetricSample{
			Iteration: ev.Iteration,
			Loss:      ev.Loss,
			AvgLoss:   ev.AvgLoss,
			WallTime:  &wall,
		}
		s.history.RecordLoss(sample)
		if s.recorder != nil {
			s.recorder.LossRecorded(s.runID, sample)
		}

		stop := s.tracker.Observe(ev.Loss, rc.pendingMAP)
		rc.pendingMAP = nil

		if !rc.hasIter || ev.Iteration != rc.lastIter {
			rc.distinct++
			if rc.render != nil && rc.distinct%s.cfg.RenderStride == 0 {
				rc.render.Submit(s.history.Snapshot())
			}
		}
		rc.lastIter, rc.hasIter = ev.Iteration, true

		s.mu.Lock()
		s.state = s.tracker.State()
		s.iteration, s.hasIter = ev.Iteration, true
		s.mu.Unlock()

		rc.logger.Debug("Loss sample", logging.SampleFields(ev.Iteration, ev.Loss, ev.AvgLoss)...)
		return stop, ev.Iteration

	case parser.ValidationEvent:
		v := history.ValidationSample{
			MAP:          ev.MAP,
			Iteration:    rc.lastIter,
			HasIteration: rc.hasIter,
		}
		s.history.RecordValidation(v)
		if s.recorder != nil {
			s.recorder.ValidationRecorded(s.runID, v)
		}
		// Consumed by the next loss observation; a newer reading replaces it.
		m := ev.MAP
		rc.pendingMAP = &m

		rc.logger.Info("Validation result", logging.ValidationFields(ev.MAP, rc.lastIter, rc.hasIter)...)
	}
	return false, 0
}

func (s *Supervisor) interrupt(rc *runContext) core.RunOutcome {
	rc.logger.Info("Interrupt received, stopping training process")
	s.stopProcess(rc)
	return core.Interrupted()
}

// awaitExit waits for the process after its output closed.
func (s *Supervisor) awaitExit(rc *runContext) core.RunOutcome {
	done := make(chan error, 1)
	go func() {
		done <- rc.proc.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			rc.logger.Warn("Training process exited with error", zap.Error(err))
		} else {
			rc.logger.Info("Training process exited")
		}
		return core.Completed(err)
	case <-rc.ctx.Done():
		return s.interrupt(rc)
	}
}

// stopProcess terminates the process and kills it if it outlives the grace period.
func (s *Supervisor) stopProcess(rc *runContext) {
	if rc.proc == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		_ = rc.proc.Wait()
		close(done)
	}()

	if err := rc.proc.Terminate(); err != nil {
		rc.logger.Warn("Failed to terminate training process", zap.Error(err))
	}

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	rc.logger.Warn("Training process did not exit in time, killing",
		zap.Duration("grace_period", s.cfg.GracePeriod),
	)
	if err := rc.proc.Kill(); err != nil {
		rc.logger.Error("Failed to kill training process", zap.Error(err))
		return
	}
	<-done
}

// finish records the terminal state and emits the report. It runs exactly
// once per Run call that got past the single-use check.
func (s *Supervisor) finish(rc *runContext, outcome core.RunOutcome) core.RunOutcome {
	if rc.render != nil {
		rc.render.Stop()
	}

	finished := s.now()
	state := s.tracker.State()

	s.mu.Lock()
	s.phase = phaseFor(outcome)
	s.endedAt = finished
	s.state = state
	s.outcome = &outcome
	s.mu.Unlock()

	snap := s.history.Snapshot()
	in := report.Input{
		RunID:     s.runID,
		Snapshot:  snap,
		Best:      state,
		Outcome:   outcome,
		StartedAt: rc.started,
		Elapsed:   finished.Sub(rc.started),
		Now:       finished,
	}
	if s.gpu != nil {
		if g := s.gpu.Summary(); g.Samples > 0 {
			in.GPU = &g
		}
	}

	if err := s.reporter.Generate(in); err != nil {
		rc.logger.Error("Failed to generate report", zap.Error(err))
	}

	if s.recorder != nil {
		summary := core.RunSummary{
			RunID:      s.runID,
			FinishedAt: finished,
			Outcome:    outcome,
			Samples:    snap.Count(),
			BestLoss:   state.BestLoss,
			BestMAP:    state.BestMAP,
			ReportPath: s.reportPath,
		}
		if last, ok := snap.LastIteration(); ok {
			summary.LastIteration = last
		}
		if m, ok := snap.MaxMAP(); ok && m > summary.BestMAP {
			summary.BestMAP = m
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(rc.ctx), finishTimeout)
		_ = s.recorder.RunFinished(ctx, summary)
		cancel()
	}

	rc.logger.Info("Training run finished",
		logging.OutcomeField(outcome),
		zap.Int("samples", snap.Count()),
		zap.Duration("elapsed", finished.Sub(rc.started)),
	)
	return outcome
}
