package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trainwatch/core"
	"trainwatch/history"
	"trainwatch/metrics"
)

// timeLayout sorts lexically in UTC, which Cleanup relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// OutcomeRunning marks a run row that has not finished.
const OutcomeRunning = "running"

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Command       string     `json:"command"`
	Patience      int        `json:"patience"`
	Outcome       string     `json:"outcome"`
	StoppedAt     *int       `json:"stopped_at,omitempty"`
	FailureCause  string     `json:"failure_cause,omitempty"`
	Samples       int        `json:"samples"`
	LastIteration *int       `json:"last_iteration,omitempty"`
	BestLoss      *float64   `json:"best_loss,omitempty"`
	BestMAP       *float64   `json:"best_map,omitempty"`
	ReportPath    string     `json:"report_path,omitempty"`
}

// Repository reads and writes run history.
// Sample inserts go through the AsyncWriter when one is running.
type Repository struct {
	db     *Database
	writer *AsyncWriter
}

// NewRepository creates a Repository. writer may be nil for synchronous writes.
func NewRepository(database *Database, writer *AsyncWriter) *Repository {
	return &Repository{db: database, writer: writer}
}

// CreateRun inserts the row for a run that is starting.
func (r *Repository) CreateRun(ctx context.Context, run core.RunInfo) error {
	_, err := r.db.exec(ctx,
		`INSERT INTO runs (id, started_at, command, patience, outcome) VALUES (?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), run.CommandLine(), run.Patience, OutcomeRunning)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (r *Repository) FinishRun(ctx context.Context, s core.RunSummary) error {
	var stoppedAt, lastIteration, bestLoss, bestMAP any
	if s.Outcome.Kind == core.OutcomeEarlyStopped {
		stoppedAt = s.Outcome.StoppedAt
	}
	if s.Samples > 0 {
		lastIteration = s.LastIteration
	}
	if s.HasBestLoss() {
		bestLoss = s.BestLoss
	}
	if s.Samples > 0 || s.BestMAP > 0 {
		bestMAP = s.BestMAP
	}

	var cause string
	switch {
	case s.Outcome.Cause != nil:
		cause = s.Outcome.Cause.Error()
	case s.Outcome.ExitErr != nil:
		cause = s.Outcome.ExitErr.Error()
	}

	res, err := r.db.exec(ctx, `
		UPDATE runs SET finished_at = ?, outcome = ?, stopped_at = ?, failure_cause = ?,
			samples = ?, last_iteration = ?, best_loss = ?, best_map = ?, report_path = ?
		WHERE id = ?`,
		formatTime(s.FinishedAt), s.Outcome.Kind.String(), stoppedAt, nullString(cause),
		s.Samples, lastIteration, bestLoss, bestMAP, nullString(s.ReportPath),
		s.RunID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", s.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish run %s: %w", s.RunID, ErrRunNotFound)
	}
	return nil
}

// InsertLossSample stores one loss sample.
func (r *Repository) InsertLossSample(ctx context.Context, runID string, s history.MetricSample) error {
	var wall any
	if s.WallTime != nil {
		wall = *s.WallTime
	}
	return r.write(ctx, "loss_sample",
		`INSERT INTO loss_samples (run_id, iteration, loss, avg_loss, wall_time) VALUES (?, ?, ?, ?, ?)`,
		runID, s.Iteration, s.Loss, s.AvgLoss, wall)
}

// InsertValidationSample stores one mAP reading.
func (r *Repository) InsertValidationSample(ctx context.Context, runID string, v history.ValidationSample) error {
	var iteration any
	if v.HasIteration {
		iteration = v.Iteration
	}
	return r.write(ctx, "validation_sample",
		`INSERT INTO validation_samples (run_id, map, iteration) VALUES (?, ?, ?)`,
		runID, v.MAP, iteration)
}

// InsertGPUSample stores one nvidia-smi reading.
func (r *Repository) InsertGPUSample(ctx context.Context, runID string, g metrics.GPUSample) error {
	return r.write(ctx, "gpu_sample",
		`INSERT INTO gpu_samples (run_id, sampled_at, utilization, temperature, memory_used_mib, memory_total_mib)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, formatTime(g.Time), g.Utilization, g.Temperature, g.MemoryUsedMiB, g.MemoryTotalMiB)
}

// write queues the insert when the async writer runs, and falls back to a
// synchronous insert when it does not or its queue is full.
func (r *Repository) write(ctx context.Context, name, query string, args ...any) error {
	if r.writer != nil && r.writer.IsStarted() {
		queued := r.writer.Enqueue(name, func(ctx context.Context) error {
			_, err := r.db.exec(ctx, query, args...)
			return err
		})
		if queued {
			return nil
		}
	}
	if _, err := r.db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %s: %w", name, err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, command, patience, outcome, stopped_at,
	COALESCE(failure_cause, ''), samples, last_iteration, best_loss, best_map, COALESCE(report_path, '')`

// GetRun loads one run by id.
func (r *Repository) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	found := false
	err := r.db.query(ctx, func(rows *sql.Rows) error {
		var err error
		rec, err = scanRun(rows)
		found = true
		return err
	}, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	if !found {
		return RunRecord{}, ErrRunNotFound
	}
	return rec, nil
}

// ListRecentRuns returns up to limit runs, newest first.
func (r *Repository) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	var runs []RunRecord
	err := r.db.query(ctx, func(rows *sql.Rows) error {
		rec, err := scanRun(rows)
		if err != nil {
			return err
		}
		runs = append(runs, rec)
		return nil
	}, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// LossSamples returns the stored loss samples of a run in insertion order.
func (r *Repository) LossSamples(ctx context.Context, runID string) ([]history.MetricSample, error) {
	var samples []history.MetricSample
	err := r.db.query(ctx, func(rows *sql.Rows) error {
		var s history.MetricSample
		var wall sql.NullFloat64
		if err := rows.Scan(&s.Iteration, &s.Loss, &s.AvgLoss, &wall); err != nil {
			return err
		}
		if wall.Valid {
			v := wall.Float64
			s.WallTime = &v
		}
		samples = append(samples, s)
		return nil
	}, `SELECT iteration, loss, avg_loss, wall_time FROM loss_samples WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query loss samples: %w", err)
	}
	return samples, nil
}

// CountLossSamples returns the number of stored loss samples for a run.
func (r *Repository) CountLossSamples(ctx context.Context, runID string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM loss_samples WHERE run_id = ?`, runID)
}

// CountValidationSamples returns the number of stored mAP readings for a run.
func (r *Repository) CountValidationSamples(ctx context.Context, runID string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM validation_samples WHERE run_id = ?`, runID)
}

// CountGPUSamples returns the number of stored GPU readings for a run.
func (r *Repository) CountGPUSamples(ctx context.Context, runID string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM gpu_samples WHERE run_id = ?`, runID)
}

func (r *Repository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.queryRow(ctx, []any{&n}, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

func scanRun(rows *sql.Rows) (RunRecord, error) {
	var (
		rec                 RunRecord
		startedAt           string
		finishedAt          sql.NullString
		stoppedAt, lastIter sql.NullInt64
		bestLoss, bestMAP   sql.NullFloat64
	)
	err := rows.Scan(&rec.ID, &startedAt, &finishedAt, &rec.Command, &rec.Patience, &rec.Outcome,
		&stoppedAt, &rec.FailureCause, &rec.Samples, &lastIter, &bestLoss, &bestMAP, &rec.ReportPath)
	if err != nil {
		return RunRecord{}, err
	}

	rec.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		rec.FinishedAt = &t
	}
	if stoppedAt.Valid {
		v := int(stoppedAt.Int64)
		rec.StoppedAt = &v
	}
	if lastIter.Valid {
		v := int(lastIter.Int64)
		rec.LastIteration = &v
	}
	if bestLoss.Valid {
		v := bestLoss.Float64
		rec.BestLoss = &v
	}
	if bestMAP.Valid {
		v := bestMAP.Float64
		rec.BestMAP = &v
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
