package main

import (
	"context"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"

	"trainwatch/core"
	"trainwatch/db"
	"trainwatch/logging"
	"trainwatch/metrics"
	"trainwatch/report"
	"trainwatch/shutdown"
	"trainwatch/statusapi"
	"trainwatch/supervisor"
)

// Cleanup order: stop producers, flush history, close the database, then
// remove stray temp files and flush logs.
const (
	priorityProducers = 10
	priorityWriter    = 20
	priorityDatabase  = 30
	priorityTempFiles = 40
	priorityLogger    = 90
)

var errRunEnded = errors.New("training run ended")

// app wires one supervised run to its optional services.
type app struct {
	cfg    *core.Config
	logger *logging.Logger
	stdout io.Writer
	runID  string

	manager *shutdown.Manager
	paths   report.Paths
	emitter *report.Emitter
	history *historyStore
	gpu     *metrics.GPUCollector
	status  *statusapi.Server
}

// historyStore groups the run history components.
type historyStore struct {
	database *db.Database
	writer   *db.AsyncWriter
	repo     *db.Repository
	recorder *db.Recorder
}

func newApp(cfg *core.Config, logger *logging.Logger, stdout io.Writer) *app {
	return &app{
		cfg:     cfg,
		logger:  logger,
		stdout:  stdout,
		runID:   supervisor.NewRunID(),
		manager: shutdown.NewManager(logger.Named("shutdown")),
	}
}

// run supervises training and returns the process exit code.
func (a *app) run() int {
	a.manager.Start()

	a.paths = report.Paths{
		Report:        a.cfg.OutputPath(a.cfg.ReportFile),
		ProgressImage: a.cfg.OutputPath(a.cfg.ProgressImage),
		FinalImage:    a.cfg.OutputPath(a.cfg.FinalImage),
	}
	a.emitter = report.NewEmitter(a.paths, a.logger, report.WithSummaryOutput(a.stdout))

	a.history = openHistory(a.cfg, a.logger)
	a.startGPU()
	sup := a.newSupervisor()
	a.startStatusServer(sup)
	a.registerCleanup()

	a.logger.Info("Run configured",
		logging.RunField(a.runID),
		zap.Int("patience", a.cfg.Patience),
		zap.String("report", a.cfg.OutputPath(a.cfg.ReportFile)),
		zap.String("progress_image", a.cfg.OutputPath(a.cfg.ProgressImage)),
		zap.String("final_image", a.cfg.OutputPath(a.cfg.FinalImage)),
		zap.Bool("history", a.history != nil),
		zap.Bool("status_server", a.status != nil),
	)

	// A second signal kills the trainer instead of exiting, so the run can
	// still write its report. Once nothing is running it exits at once.
	a.manager.SetForceHandler(func() {
		if !sup.Kill() {
			os.Exit(core.ExitCodeForSignal(a.manager.Signal()))
		}
	})

	var outcome core.RunOutcome
	err := a.manager.WrapOperation(context.Background(), "training-run", func(context.Context) error {
		outcome = sup.Run(a.manager.Context())
		return nil
	})
	if err != nil {
		a.logger.Error("Training run was not started", zap.Error(err))
		outcome = core.Failed(err)
	}
	// Stops the GPU collector and anything else still bound to the run.
	a.manager.Cancel(errRunEnded)

	if err := a.manager.Shutdown(); err != nil {
		a.logger.Warn("Cleanup finished with errors", zap.Error(err))
	}
	return a.exitCode(outcome)
}

// exitCode maps the outcome to the process exit code. An interrupted run
// exits with the code of the signal that stopped it.
func (a *app) exitCode(outcome core.RunOutcome) int {
	if outcome.Kind == core.OutcomeInterrupted && a.manager.Interrupted() {
		return core.ExitCodeForSignal(a.manager.Signal())
	}
	return core.ExitCodeForOutcome(outcome)
}

func (a *app) newSupervisor() *supervisor.Supervisor {
	cfg := supervisor.Config{
		Patience:     a.cfg.Patience,
		RenderStride: a.cfg.RenderStride,
		GracePeriod:  a.cfg.GracePeriod,
	}
	if a.cfg.EchoOutput {
		cfg.Echo = a.stdout
	}

	opts := []supervisor.Option{
		supervisor.WithConfig(cfg),
		supervisor.WithRunID(a.runID),
		supervisor.WithProgressRenderer(a.emitter),
		supervisor.WithOperationWrapper(a.manager.WrapOperation),
		supervisor.WithReportPath(a.cfg.OutputPath(a.cfg.ReportFile)),
	}
	if a.history != nil {
		opts = append(opts, supervisor.WithRecorder(a.history.recorder))
	}
	if a.gpu != nil {
		opts = append(opts, supervisor.WithGPUSource(a.gpu))
	}

	cmd := supervisor.TrainCommand(a.cfg.DarknetPath, a.cfg.DataSpecPath, a.cfg.ModelConfigPath, a.cfg.WeightsPath)
	return supervisor.New(cmd, a.emitter, a.logger, opts...)
}

// openHistory opens the run database. Training continues without history
// when it cannot be opened.
func openHistory(cfg *core.Config, logger *logging.Logger) *historyStore {
	if cfg.DatabasePath == "" {
		return nil
	}

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		logger.Warn("Run history unavailable", zap.String("path", cfg.DatabasePath), zap.Error(err))
		return nil
	}

	result, err := database.Cleanup(context.Background(), cfg.RetentionDays)
	switch {
	case err != nil:
		logger.Warn("Run history cleanup failed", zap.Error(err))
	case result.RunsDeleted > 0:
		logger.Info("Pruned old runs",
			zap.Int64("runs_deleted", result.RunsDeleted),
			zap.Int("retention_days", cfg.RetentionDays),
			zap.Duration("duration", result.Duration),
		)
	}

	writer := db.NewAsyncWriter(logger, db.DefaultQueueCapacity)
	writer.Start()
	repo := db.NewRepository(database, writer)

	return &historyStore{
		database: database,
		writer:   writer,
		repo:     repo,
		recorder: db.NewRecorder(repo, logger),
	}
}

func (a *app) startGPU() {
	if !a.cfg.GPUMonitoring {
		return
	}

	gpuCfg := metrics.DefaultGPUCollectorConfig()
	gpuCfg.CollectionInterval = a.cfg.GPUInterval
	gpuCfg.NvidiaSMIPath = a.cfg.NvidiaSMIPath

	var onSample func(metrics.GPUSample)
	if a.history != nil {
		recorder, runID := a.history.recorder, a.runID
		onSample = func(s metrics.GPUSample) {
			recorder.GPUSampled(runID, s)
		}
	}

	a.gpu = metrics.NewGPUCollector(gpuCfg, a.logger, onSample)
	a.gpu.Start(a.manager.Context())
}

func (a *app) startStatusServer(sup *supervisor.Supervisor) {
	if a.cfg.StatusAddr == "" {
		return
	}

	// Interface values stay nil when a component is disabled.
	var runs statusapi.RunStore
	if a.history != nil {
		runs = a.history.repo
	}
	var gpu statusapi.GPUSource
	if a.gpu != nil {
		gpu = a.gpu
	}

	srvCfg := statusapi.DefaultServerConfig()
	srvCfg.Addr = a.cfg.StatusAddr

	api := statusapi.NewAPI(sup, a.emitter, runs, gpu, statusapi.DefaultAPIConfig())
	srv := statusapi.NewServer(srvCfg, api, a.logger)
	if err := srv.Start(); err != nil {
		a.logger.Warn("Status server disabled", zap.Error(err))
		return
	}
	a.status = srv
}

func (a *app) registerCleanup() {
	if a.status != nil {
		a.manager.Register("status-server", priorityProducers, a.status.Shutdown)
	}
	if a.gpu != nil {
		a.manager.Register("gpu-collector", priorityProducers, func(context.Context) error {
			a.gpu.Stop()
			return nil
		})
	}
	if a.history != nil {
		a.manager.Register("history-writer", priorityWriter, a.history.writer.Drain)
		a.manager.Register("history-db", priorityDatabase, a.history.database.ShutdownHook())
	}
	a.manager.Register("temp-files", priorityTempFiles,
		shutdown.CleanupTempFiles(a.logger, a.paths.TempPatterns()...))
	a.manager.Register("logger-sync", priorityLogger, func(context.Context) error {
		// Syncing a terminal fails on some platforms; the file core is what matters.
		_ = a.logger.Sync()
		return nil
	})
}
