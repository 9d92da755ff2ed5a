package db

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"trainwatch/core"
	"trainwatch/history"
	"trainwatch/metrics"
)

func testRun(id string, started time.Time) core.RunInfo {
	return core.RunInfo{
		ID:        id,
		StartedAt: started,
		Command:   []string{"darknet", "detector", "train", "obj.data"},
		Patience:  200,
	}
}

func TestRepository_CreateAndFinishRun(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t), nil)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.CreateRun(ctx, testRun("run-1", started)); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	rec, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if rec.Outcome != OutcomeRunning {
		t.Errorf("Outcome = %q, want %q", rec.Outcome, OutcomeRunning)
	}
	if !rec.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", rec.StartedAt, started)
	}
	if rec.Command != "darknet detector train obj.data" {
		t.Errorf("Command = %q", rec.Command)
	}
	if rec.FinishedAt != nil || rec.BestLoss != nil {
		t.Errorf("unfinished run has finish fields: %+v", rec)
	}

	err = repo.FinishRun(ctx, core.RunSummary{
		RunID:         "run-1",
		FinishedAt:    started.Add(time.Hour),
		Outcome:       core.EarlyStopped(1200),
		Samples:       40,
		LastIteration: 1200,
		BestLoss:      1.25,
		BestMAP:       0.61,
		ReportPath:    "training_report.json",
	})
	if err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	rec, err = repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if rec.Outcome != "early_stopped" {
		t.Errorf("Outcome = %q, want early_stopped", rec.Outcome)
	}
	if rec.StoppedAt == nil || *rec.StoppedAt != 1200 {
		t.Errorf("StoppedAt = %v, want 1200", rec.StoppedAt)
	}
	if rec.BestLoss == nil || *rec.BestLoss != 1.25 {
		t.Errorf("BestLoss = %v, want 1.25", rec.BestLoss)
	}
	if rec.BestMAP == nil || *rec.BestMAP != 0.61 {
		t.Errorf("BestMAP = %v, want 0.61", rec.BestMAP)
	}
	if rec.FinishedAt == nil || !rec.FinishedAt.Equal(started.Add(time.Hour)) {
		t.Errorf("FinishedAt = %v", rec.FinishedAt)
	}
	if rec.Samples != 40 || rec.ReportPath != "training_report.json" {
		t.Errorf("Samples/ReportPath = %d/%q", rec.Samples, rec.ReportPath)
	}
}

func TestRepository_FinishRunWithoutSamples(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t), nil)

	if err := repo.CreateRun(ctx, testRun("empty", time.Now())); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	err := repo.FinishRun(ctx, core.RunSummary{
		RunID:      "empty",
		FinishedAt: time.Now(),
		Outcome:    core.Failed(errors.New("pipe closed")),
		BestLoss:   math.Inf(1),
	})
	if err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	rec, err := repo.GetRun(ctx, "empty")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if rec.BestLoss != nil || rec.BestMAP != nil || rec.LastIteration != nil {
		t.Errorf("expected null metrics, got %+v", rec)
	}
	if rec.FailureCause != "pipe closed" {
		t.Errorf("FailureCause = %q, want %q", rec.FailureCause, "pipe closed")
	}
}

func TestRepository_FinishUnknownRun(t *testing.T) {
	repo := NewRepository(openTestDB(t), nil)
	err := repo.FinishRun(context.Background(), core.RunSummary{RunID: "missing", Outcome: core.Interrupted()})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestRepository_GetRunNotFound(t *testing.T) {
	repo := NewRepository(openTestDB(t), nil)
	if _, err := repo.GetRun(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestRepository_ListRecentRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t), nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := repo.CreateRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", id, err)
		}
	}

	runs, err := repo.ListRecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecentRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("order = %s,%s, want c,b", runs[0].ID, runs[1].ID)
	}
}

func TestRepository_SamplesThroughAsyncWriter(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	writer := newTestWriter(t, 64)
	writer.Start()
	repo := NewRepository(database, writer)

	if err := repo.CreateRun(ctx, testRun("run", time.Now())); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	wall := 1.5
	samples := []history.MetricSample{
		{Iteration: 1, Loss: 10, AvgLoss: 10, WallTime: &wall},
		{Iteration: 2, Loss: 9, AvgLoss: 9.5},
		{Iteration: 3, Loss: 8, AvgLoss: 9},
	}
	for _, s := range samples {
		if err := repo.InsertLossSample(ctx, "run", s); err != nil {
			t.Fatalf("InsertLossSample() error = %v", err)
		}
	}
	if err := repo.InsertValidationSample(ctx, "run", history.ValidationSample{MAP: 0.5, Iteration: 3, HasIteration: true}); err != nil {
		t.Fatalf("InsertValidationSample() error = %v", err)
	}
	if err := repo.InsertGPUSample(ctx, "run", metrics.GPUSample{Time: time.Now(), Utilization: 90, MemoryUsedMiB: 4000, MemoryTotalMiB: 8000}); err != nil {
		t.Fatalf("InsertGPUSample() error = %v", err)
	}

	if err := writer.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	counts := []struct {
		name string
		fn   func(context.Context, string) (int64, error)
		want int64
	}{
		{"loss", repo.CountLossSamples, 3},
		{"validation", repo.CountValidationSamples, 1},
		{"gpu", repo.CountGPUSamples, 1},
	}
	for _, c := range counts {
		got, err := c.fn(ctx, "run")
		if err != nil {
			t.Fatalf("count %s: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s samples = %d, want %d", c.name, got, c.want)
		}
	}

	stored, err := repo.LossSamples(ctx, "run")
	if err != nil {
		t.Fatalf("LossSamples() error = %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("len = %d, want 3", len(stored))
	}
	if stored[0].WallTime == nil || *stored[0].WallTime != 1.5 {
		t.Errorf("WallTime = %v, want 1.5", stored[0].WallTime)
	}
	if stored[1].WallTime != nil {
		t.Errorf("WallTime = %v, want nil", *stored[1].WallTime)
	}
}

func TestRepository_SampleForUnknownRunFails(t *testing.T) {
	repo := NewRepository(openTestDB(t), nil)
	err := repo.InsertLossSample(context.Background(), "ghost", history.MetricSample{Iteration: 1})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}
