package report

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"trainwatch/history"
	"trainwatch/logging"
)

// MinProgressSamples is the number of loss samples needed before the
// progress chart is drawn.
const MinProgressSamples = 10

// Paths locates the artifacts. They are overwritten on every run.
type Paths struct {
	Report        string
	ProgressImage string
	FinalImage    string
}

// Emitter writes the run artifacts. It never feeds back into the run: the
// supervisor only hands it snapshots.
type Emitter struct {
	paths    Paths
	renderer *ChartRenderer
	logger   *logging.Logger
	summary  io.Writer

	mu           sync.RWMutex
	lastProgress []byte
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithSummaryOutput sets where the end-of-run summary is printed; nil disables it.
func WithSummaryOutput(w io.Writer) Option {
	return func(e *Emitter) { e.summary = w }
}

// WithRenderer replaces the chart renderer.
func WithRenderer(r *ChartRenderer) Option {
	return func(e *Emitter) { e.renderer = r }
}

// NewEmitter creates an Emitter writing to paths.
func NewEmitter(paths Paths, logger *logging.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Emitter{
		paths:    paths,
		renderer: NewChartRenderer(),
		logger:   logger.Named("report"),
		summary:  os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate writes the JSON report and the final chart, then prints the
// summary. Only a failed JSON write is returned; a chart failure is logged.
func (e *Emitter) Generate(in Input) error {
	rec := BuildRecord(in)

	if err := writeFileAtomic(e.paths.Report, rec.WriteJSON); err != nil {
		e.logger.Error("Failed to write training report", zap.String("path", e.paths.Report), zap.Error(err))
		return err
	}
	e.logger.Info("Training report written",
		zap.String("path", e.paths.Report),
		zap.Int("samples", rec.TotalIterations))

	artifacts := []string{e.paths.Report}
	if err := e.writeImage(e.paths.FinalImage, e.renderer.Final(in.Snapshot)); err != nil {
		e.logger.Warn("Failed to render final chart", zap.String("path", e.paths.FinalImage), zap.Error(err))
	} else {
		artifacts = append(artifacts, e.paths.FinalImage)
	}
	if e.hasProgress() {
		artifacts = append(artifacts, e.paths.ProgressImage)
	}

	if e.summary != nil {
		PrintSummary(e.summary, rec, artifacts)
	}
	return nil
}

// RenderProgress redraws the in-progress chart. Fewer than
// MinProgressSamples samples is a no-op.
func (e *Emitter) RenderProgress(snap history.Snapshot) error {
	if snap.Count() < MinProgressSamples {
		return nil
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, e.renderer.Progress(snap)); err != nil {
		return fmt.Errorf("failed to encode progress chart: %w", err)
	}
	data := buf.Bytes()

	if err := writeFileAtomic(e.paths.ProgressImage, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.lastProgress = data
	e.mu.Unlock()
	return nil
}

// ProgressPNG returns the most recently rendered progress chart.
func (e *Emitter) ProgressPNG() ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastProgress, e.lastProgress != nil
}

func (e *Emitter) hasProgress() bool {
	_, ok := e.ProgressPNG()
	return ok
}

func (e *Emitter) writeImage(path string, img image.Image) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return EncodePNG(w, img)
	})
}
