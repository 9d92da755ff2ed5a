package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trainwatch/core"
	"trainwatch/db"
)

const (
	fakeDarknetEnv       = "TRAINWATCH_TEST_DARKNET"
	fakeDarknetMarkerEnv = "TRAINWATCH_TEST_DARKNET_MARKER"
)

// TestMain lets the test binary stand in for darknet, both for the
// preflight probe and for the training run.
func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeDarknetEnv); mode != "" {
		os.Exit(fakeDarknet(mode))
	}
	os.Exit(m.Run())
}

func fakeDarknet(mode string) int {
	if len(os.Args) < 2 || os.Args[1] != "detector" {
		// Preflight probe: darknet prints usage and exits non-zero.
		fmt.Fprintln(os.Stderr, "usage: darknet <function>")
		return 1
	}
	switch mode {
	case "train":
		for i := 1; i <= 60; i++ {
			loss := 100.0 / float64(i)
			fmt.Printf(" %d: loss=%.4f, avg loss=%.4f, 0.001000 rate, 2.1 seconds, %d images\n", i, loss, loss, i*64)
			if i%20 == 0 {
				fmt.Printf("mean_average_precision (mAP@0.50) = %.6f\n", float64(i)/100)
			}
		}
		return 0
	case "plateau":
		for i := 1; ; i++ {
			fmt.Printf("%d: loss=1.0000, avg loss=1.0000\n", i)
			time.Sleep(2 * time.Millisecond)
		}
	case "hang":
		fmt.Println("1: loss=5.0000, avg loss=5.0000")
		if marker := os.Getenv(fakeDarknetMarkerEnv); marker != "" {
			_ = os.WriteFile(marker, []byte("started"), 0644)
		}
		for {
			time.Sleep(time.Second)
		}
	case "crash":
		fmt.Println("1: loss=5.0000, avg loss=5.0000")
		fmt.Fprintln(os.Stderr, "CUDA Error: out of memory")
		return 1
	default:
		return 99
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, o cliOptions)
	}{
		{
			name: "no flags leaves every override unset",
			args: nil,
			check: func(t *testing.T, o cliOptions) {
				if o.overrides != (core.Overrides{}) {
					t.Errorf("overrides = %+v, want none", o.overrides)
				}
				if o.envFile != ".env" {
					t.Errorf("envFile = %q", o.envFile)
				}
			},
		},
		{
			name: "given flags override",
			args: []string{"--config", "a.cfg", "--data", "b.data", "--weights", "c.weights",
				"--patience", "50", "--darknet", "./darknet", "--output-dir", "out", "--dev", "--config-file", "tw.yaml"},
			check: func(t *testing.T, o cliOptions) {
				ov := o.overrides
				if ov.ModelConfigPath == nil || *ov.ModelConfigPath != "a.cfg" ||
					ov.DataSpecPath == nil || *ov.DataSpecPath != "b.data" ||
					ov.WeightsPath == nil || *ov.WeightsPath != "c.weights" ||
					ov.DarknetPath == nil || *ov.DarknetPath != "./darknet" ||
					ov.OutputDir == nil || *ov.OutputDir != "out" {
					t.Errorf("path overrides = %+v", ov)
				}
				if ov.Patience == nil || *ov.Patience != 50 {
					t.Errorf("Patience = %v", ov.Patience)
				}
				if ov.DevMode == nil || !*ov.DevMode {
					t.Errorf("DevMode = %v", ov.DevMode)
				}
				if o.configFile != "tw.yaml" {
					t.Errorf("configFile = %q", o.configFile)
				}
			},
		},
		{
			name: "explicit zero patience is kept for validation",
			args: []string{"--patience", "0"},
			check: func(t *testing.T, o cliOptions) {
				if o.overrides.Patience == nil || *o.overrides.Patience != 0 {
					t.Errorf("Patience = %v", o.overrides.Patience)
				}
			},
		},
		{name: "unknown flag", args: []string{"--epochs", "3"}, wantErr: true},
		{name: "positional argument", args: []string{"train"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, opts)
			}
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(stderr.String(), "-patience") {
		t.Errorf("usage does not list flags:\n%s", stderr.String())
	}
}

func TestRun_Version(t *testing.T) {
	var stdout bytes.Buffer
	if code := run([]string{"--version"}, &stdout, io.Discard); code != core.ExitCodeSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "trainwatch dev") {
		t.Errorf("output = %q", stdout.String())
	}
}

// workspace lays out a complete set of training inputs and a config file.
type workspace struct {
	dir        string
	configFile string
	outputDir  string
	dbPath     string
}

func newWorkspace(t *testing.T, patience int, skip ...string) workspace {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"yolo.cfg":  "[net]\nbatch=64\nsubdivisions=16\nmax_batches = 6000\nlearning_rate=0.001\n",
		"obj.data":  "classes=1\ntrain=train.txt\nvalid=valid.txt\n",
		"yolo.conv": "weights",
		"obj.names": "cat\n",
		"train.txt": "a.jpg\nb.jpg\nc.jpg\n",
		"valid.txt": "d.jpg\n",
	}
	for name, content := range files {
		if contains(skip, name) {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	ws := workspace{
		dir:        dir,
		configFile: filepath.Join(dir, "trainwatch.yaml"),
		outputDir:  filepath.Join(dir, "out"),
		dbPath:     filepath.Join(dir, "state", "runs.db"),
	}
	yaml := fmt.Sprintf(`model_config: %[1]s/yolo.cfg
data_spec: %[1]s/obj.data
weights: %[1]s/yolo.conv
class_names: %[1]s/obj.names
train_list: %[1]s/train.txt
valid_list: %[1]s/valid.txt
darknet: %[2]q
patience: %[3]d
render_stride: 10
output_dir: %[4]s
backup_dir: %[1]s/backup
database: %[5]s
retention_days: 0
log_file: %[1]s/trainwatch.log
echo_output: false
gpu_monitoring: false
`, dir, os.Args[0], patience, ws.outputDir, ws.dbPath)
	if err := os.WriteFile(ws.configFile, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return ws
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (ws workspace) run(t *testing.T, extra ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args := append([]string{"--config-file", ws.configFile, "--env-file", ""}, extra...)
	code := run(args, &stdout, &stderr)
	return code, stdout.String() + stderr.String()
}

func (ws workspace) readReport(t *testing.T) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ws.outputDir, "training_report.json"))
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	return rec
}

func TestRun_InvalidConfiguration(t *testing.T) {
	ws := newWorkspace(t, 10)
	code, out := ws.run(t, "--patience", "0")
	if code != core.ExitCodePrecondition {
		t.Errorf("exit code = %d, want %d\n%s", code, core.ExitCodePrecondition, out)
	}
	for _, want := range []string{"patience", core.ErrCodeInvalidConfig} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--config-file", filepath.Join(t.TempDir(), "none.yaml"), "--env-file", ""}, io.Discard, &stderr)
	if code != core.ExitCodePrecondition {
		t.Errorf("exit code = %d, want %d", code, core.ExitCodePrecondition)
	}
}

func TestRun_MissingInputsListsEverything(t *testing.T) {
	t.Setenv(fakeDarknetEnv, "train")
	ws := newWorkspace(t, 10, "obj.names", "valid.txt")

	code, out := ws.run(t)
	if code != core.ExitCodePrecondition {
		t.Fatalf("exit code = %d, want %d\n%s", code, core.ExitCodePrecondition, out)
	}
	for _, want := range []string{"obj.names", "valid.txt", "Preflight Failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(ws.outputDir, "training_report.json")); !os.IsNotExist(err) {
		t.Error("report written although training never started")
	}
}

func TestRun_CompletedTraining(t *testing.T) {
	t.Setenv(fakeDarknetEnv, "train")
	ws := newWorkspace(t, 200)

	code, out := ws.run(t)
	if code != core.ExitCodeSuccess {
		t.Fatalf("exit code = %d, want 0\n%s", code, out)
	}

	rec := ws.readReport(t)
	if rec["outcome"] != "completed" || rec["success"] != true {
		t.Errorf("outcome = %v success = %v", rec["outcome"], rec["success"])
	}
	if rec["total_iterations"] != float64(60) {
		t.Errorf("total_iterations = %v, want 60", rec["total_iterations"])
	}
	if rec["best_map"] != 0.6 {
		t.Errorf("best_map = %v, want 0.6", rec["best_map"])
	}
	if _, err := os.Stat(filepath.Join(ws.outputDir, "training_final.png")); err != nil {
		t.Errorf("final chart not written: %v", err)
	}
	if !strings.Contains(out, "Training Report") {
		t.Errorf("console summary missing:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(ws.dir, "backup")); err != nil {
		t.Errorf("backup directory not created: %v", err)
	}
	if strings.Contains(out, "could not determine free space") {
		t.Errorf("disk check ran before the backup directory existed:\n%s", out)
	}

	database, err := db.Open(ws.dbPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer database.Close()
	runs, err := db.NewRepository(database, nil).ListRecentRuns(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Outcome != "completed" || runs[0].Samples != 60 {
		t.Errorf("run record = %+v", runs[0])
	}
	if runs[0].ReportPath == "" || !strings.HasSuffix(runs[0].ReportPath, "training_report.json") {
		t.Errorf("ReportPath = %q", runs[0].ReportPath)
	}
}

func TestRun_EarlyStop(t *testing.T) {
	t.Setenv(fakeDarknetEnv, "plateau")
	ws := newWorkspace(t, 5)

	code, out := ws.run(t)
	if code != core.ExitCodeSuccess {
		t.Fatalf("exit code = %d, want 0\n%s", code, out)
	}
	rec := ws.readReport(t)
	if rec["outcome"] != "early_stopped" {
		t.Errorf("outcome = %v", rec["outcome"])
	}
	if rec["stopped_at_iteration"] != float64(6) {
		t.Errorf("stopped_at_iteration = %v, want 6", rec["stopped_at_iteration"])
	}
}

func TestRun_AbnormalExit(t *testing.T) {
	t.Setenv(fakeDarknetEnv, "crash")
	ws := newWorkspace(t, 200)

	code, out := ws.run(t)
	if code != core.ExitCodeError {
		t.Fatalf("exit code = %d, want %d\n%s", code, core.ExitCodeError, out)
	}
	rec := ws.readReport(t)
	if rec["success"] != false || rec["failure_cause"] == nil {
		t.Errorf("report = outcome %v success %v cause %v", rec["outcome"], rec["success"], rec["failure_cause"])
	}
}
