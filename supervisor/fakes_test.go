package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"trainwatch/core"
	"trainwatch/history"
	"trainwatch/logging"
	"trainwatch/report"
)

var (
	errTerminated = errors.New("signal: terminated")
	errKilled     = errors.New("signal: killed")
)

func lossLine(iteration int, loss float64) string {
	return fmt.Sprintf("%d: loss=%.3f, avg loss=%.3f", iteration, loss, loss)
}

func mapLine(m float64) string {
	return fmt.Sprintf("mean_average_precision (mAP@0.50) = %f", m)
}

// fakeProcess is a Process whose output the test writes through a pipe.
type fakeProcess struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	ignoreTerm bool

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error

	mu         sync.Mutex
	terminated int
	killed     int
}

func newFakeProcess() *fakeProcess {
	pr, pw := io.Pipe()
	return &fakeProcess{pr: pr, pw: pw, exited: make(chan struct{})}
}

func (p *fakeProcess) Output() io.Reader { return p.pr }
func (p *fakeProcess) Pid() int          { return 4242 }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
	if !p.ignoreTerm {
		p.exit(errTerminated)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.exit(errKilled)
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

// exit closes the output and releases Wait. Only the first call counts.
func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() {
		p.exitErr = err
		p.pw.Close()
		close(p.exited)
	})
}

// write emits lines; errors after the process exited are ignored.
func (p *fakeProcess) write(lines ...string) {
	for _, l := range lines {
		if _, err := io.WriteString(p.pw, l+"\n"); err != nil {
			return
		}
	}
}

func (p *fakeProcess) counts() (terminated, killed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

type fakeLauncher struct {
	proc *fakeProcess
	err  error

	mu       sync.Mutex
	launched []Command
}

func (l *fakeLauncher) Launch(_ context.Context, cmd Command) (Process, error) {
	l.mu.Lock()
	l.launched = append(l.launched, cmd)
	l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.proc, nil
}

func (l *fakeLauncher) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type recordingReporter struct {
	mu     sync.Mutex
	inputs []report.Input
	err    error
}

func (r *recordingReporter) Generate(in report.Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return r.err
}

func (r *recordingReporter) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

func (r *recordingReporter) last(t *testing.T) report.Input {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inputs) == 0 {
		t.Fatal("no report was generated")
	}
	return r.inputs[len(r.inputs)-1]
}

type recordingRecorder struct {
	mu          sync.Mutex
	started     []core.RunInfo
	losses      int
	validations []history.ValidationSample
	finished    []core.RunSummary
}

func (r *recordingRecorder) RunStarted(_ context.Context, run core.RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, run)
	return nil
}

func (r *recordingRecorder) LossRecorded(string, history.MetricSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.losses++
}

func (r *recordingRecorder) ValidationRecorded(_ string, v history.ValidationSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, v)
}

func (r *recordingRecorder) RunFinished(_ context.Context, s core.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
	return nil
}

func testLogger(t *testing.T) *logging.Logger {
	return logging.FromZap(zaptest.NewLogger(t))
}

func newTestSupervisor(t *testing.T, launcher Launcher, reporter Reporter, cfg Config, opts ...Option) *Supervisor {
	t.Helper()
	opts = append([]Option{WithConfig(cfg), WithLauncher(launcher), WithRunID("test-run")}, opts...)
	return New(TrainCommand("darknet", "obj.data", "yolo.cfg", "yolo.conv"), reporter, testLogger(t), opts...)
}

func testConfig(patience int) Config {
	cfg := DefaultConfig()
	cfg.Patience = patience
	cfg.GracePeriod = time.Second
	return cfg
}

// runAsync runs s and fails the test if it does not finish in time.
func runAsync(t *testing.T, ctx context.Context, s *Supervisor) <-chan core.RunOutcome {
	t.Helper()
	out := make(chan core.RunOutcome, 1)
	go func() {
		out <- s.Run(ctx)
	}()
	return out
}

func awaitOutcome(t *testing.T, ch <-chan core.RunOutcome) core.RunOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not finish")
		return core.RunOutcome{}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
