package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"trainwatch/core"
	"trainwatch/earlystop"
	"trainwatch/history"
)

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func TestBuildRecord_EmptyHistory(t *testing.T) {
	rec := BuildRecord(Input{
		Snapshot: history.New().Snapshot(),
		Best:     earlystop.New(200).State(),
		Outcome:  core.Failed(errors.New("exec: not found")),
		Now:      fixedNow,
	})

	if rec.TotalIterations != 0 {
		t.Errorf("TotalIterations = %d, want 0", rec.TotalIterations)
	}
	if rec.InitialLoss != nil || rec.FinalLoss != nil || rec.BestLoss != nil || rec.LastIteration != nil {
		t.Errorf("expected null loss summaries, got %+v", rec)
	}
	if rec.FailureCause != "exec: not found" {
		t.Errorf("FailureCause = %q", rec.FailureCause)
	}

	var buf bytes.Buffer
	if err := rec.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v\n%s", err, buf.String())
	}
	for _, key := range []string{"iterations", "losses", "avg_losses", "maps", "map_iterations"} {
		arr, ok := decoded[key].([]any)
		if !ok {
			t.Errorf("%s = %v, want empty array", key, decoded[key])
			continue
		}
		if len(arr) != 0 {
			t.Errorf("%s has %d entries, want 0", key, len(arr))
		}
	}
	if decoded["best_loss"] != nil {
		t.Errorf("best_loss = %v, want null", decoded["best_loss"])
	}
	if decoded["timestamp"] != "2026-05-04T10:30:00Z" {
		t.Errorf("timestamp = %v", decoded["timestamp"])
	}
}

func TestBuildRecord_Populated(t *testing.T) {
	h := history.New()
	h.RecordValidation(history.ValidationSample{MAP: 0.1})
	for i, l := range []float64{5, 3, 4} {
		h.RecordLoss(history.MetricSample{Iteration: (i + 1) * 10, Loss: l, AvgLoss: l + 1})
	}
	h.RecordValidation(history.ValidationSample{MAP: 0.4, Iteration: 30, HasIteration: true})

	tracker := earlystop.New(5)
	tracker.Observe(5, nil)
	tracker.Observe(3, nil)
	m := 0.3
	tracker.Observe(4, &m)

	rec := BuildRecord(Input{
		RunID:     "abc",
		Snapshot:  h.Snapshot(),
		Best:      tracker.State(),
		Outcome:   core.EarlyStopped(30),
		StartedAt: fixedNow.Add(-90 * time.Minute),
		Elapsed:   90 * time.Minute,
		Now:       fixedNow,
	})

	if rec.TotalIterations != 3 {
		t.Errorf("TotalIterations = %d, want 3", rec.TotalIterations)
	}
	if *rec.InitialLoss != 5 || *rec.FinalLoss != 4 || *rec.BestLoss != 3 {
		t.Errorf("losses = %v/%v/%v, want 5/4/3", *rec.InitialLoss, *rec.FinalLoss, *rec.BestLoss)
	}
	if rec.BestMAP != 0.4 {
		t.Errorf("BestMAP = %v, want 0.4 (max of tracker and history)", rec.BestMAP)
	}
	if rec.StoppedAtIteration == nil || *rec.StoppedAtIteration != 30 {
		t.Errorf("StoppedAtIteration = %v, want 30", rec.StoppedAtIteration)
	}
	if math.Abs(rec.ElapsedTimeHours-1.5) > 1e-9 {
		t.Errorf("ElapsedTimeHours = %v, want 1.5", rec.ElapsedTimeHours)
	}
	if rec.MAPIterations[0] != nil {
		t.Errorf("MAPIterations[0] = %v, want nil", *rec.MAPIterations[0])
	}
	if rec.MAPIterations[1] == nil || *rec.MAPIterations[1] != 30 {
		t.Errorf("MAPIterations[1] = %v, want 30", rec.MAPIterations[1])
	}
	if !rec.Success || rec.Outcome != "early_stopped" {
		t.Errorf("Success/Outcome = %v/%q", rec.Success, rec.Outcome)
	}
	if rec.Patience != 5 {
		t.Errorf("Patience = %d, want 5", rec.Patience)
	}
}

func TestBuildRecord_AbnormalExitKeepsCause(t *testing.T) {
	rec := BuildRecord(Input{
		Snapshot: history.New().Snapshot(),
		Outcome:  core.Completed(errors.New("exit status 1")),
	})
	if rec.Success {
		t.Error("Success = true for non-zero exit")
	}
	if rec.FailureCause != "exit status 1" {
		t.Errorf("FailureCause = %q", rec.FailureCause)
	}
	if rec.Timestamp == "" {
		t.Error("Timestamp not defaulted")
	}
}
