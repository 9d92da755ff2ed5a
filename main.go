package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trainwatch/core"
	"trainwatch/logging"
	"trainwatch/preflight"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cliOptions are the parsed command-line flags.
type cliOptions struct {
	showVersion bool
	configFile  string
	envFile     string
	overrides   core.Overrides
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions

	fs := flag.NewFlagSet("trainwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: trainwatch [flags]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Runs darknet training, stops early when loss and mAP stop improving,")
		fmt.Fprintln(stderr, "and writes a report however the run ends.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	fs.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	fs.StringVar(&opts.configFile, "config-file", "", "YAML configuration file (default "+core.DefaultConfigFile+" when present)")
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	modelConfig := fs.String("config", "", "darknet model .cfg file")
	dataSpec := fs.String("data", "", "darknet .data dataset spec")
	weights := fs.String("weights", "", "initial weights")
	patience := fs.Int("patience", 0, "observations without improvement before stopping")
	darknet := fs.String("darknet", "", "darknet executable")
	outputDir := fs.String("output-dir", "", "directory for the report and charts")
	dev := fs.Bool("dev", false, "human-readable coloured console logs")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	// Only flags given on the command line override file and environment values.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			opts.overrides.ModelConfigPath = modelConfig
		case "data":
			opts.overrides.DataSpecPath = dataSpec
		case "weights":
			opts.overrides.WeightsPath = weights
		case "patience":
			opts.overrides.Patience = patience
		case "darknet":
			opts.overrides.DarknetPath = darknet
		case "output-dir":
			opts.overrides.OutputDir = outputDir
		case "dev":
			opts.overrides.DevMode = dev
		}
	})
	return opts, nil
}

// run is main without os.Exit so tests can drive it.
func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return core.ExitCodeSuccess
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return core.ExitCodePrecondition
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, "trainwatch "+core.VersionInfo())
		return core.ExitCodeSuccess
	}

	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			// Logger isn't initialized yet
			fmt.Fprintf(stderr, "Warning: failed to load %s: %v\n", opts.envFile, err)
		}
	}

	cfg, err := core.LoadConfig(core.LoadOptions{FilePath: opts.configFile})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return core.ExitCodePrecondition
	}
	cfg.ApplyOverrides(opts.overrides)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration [%s]: %v\n", core.GetErrorCode(err), err)
		return core.ExitCodePrecondition
	}

	logger, err := logging.NewLogger(logging.Options{
		Development: cfg.DevMode,
		Level:       logging.ParseLevel(cfg.LogLevel, zapcore.InfoLevel),
		FilePath:    cfg.LogFile,
		Console:     zapcore.Lock(zapcore.AddSync(stderr)),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer logger.Sync()
	logger.Info("trainwatch starting", zap.String("version", core.VersionInfo()))

	// darknet writes weights into the backup directory; the disk check
	// measures it, so it must exist first.
	for _, dir := range []string{cfg.BackupDir, cfg.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("Failed to create directory", zap.String("dir", dir), zap.Error(err))
			return core.ExitCodePrecondition
		}
	}

	if code := runPreflight(cfg, logger, stdout); code != core.ExitCodeSuccess {
		return code
	}
	logTrainingPlan(cfg, logger)

	code := newApp(cfg, logger, stdout).run()
	logger.Info("Exiting",
		zap.Int("exit_code", code),
		zap.String("exit_reason", core.ExitCodeName(code)),
		zap.Bool("signal", core.IsSignalExit(code)),
	)
	return code
}

// runPreflight checks every training input and the executable before launch.
func runPreflight(cfg *core.Config, logger *logging.Logger, stdout io.Writer) int {
	suite := preflight.NewSuite(cfg).
		WithOutput(stdout).
		WithDiskCheck(cfg.BackupDir, preflight.DefaultMinFreeBytes)

	result, err := suite.Run(context.Background())
	if err != nil {
		logger.Error("Preflight failed",
			zap.Int("passed", result.Passed),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration),
		)
		if result.Failure != nil {
			for _, e := range result.Failure.Errors() {
				logger.Error("Precondition not met",
					zap.String("code", e.Code),
					zap.String("subject", e.Subject),
					zap.String("message", e.Message),
					zap.String("action", e.Action),
				)
			}
		}
		return core.ExitCodePrecondition
	}

	logger.Info("Preflight passed",
		zap.Int("checks_passed", result.Passed),
		zap.Int("warnings", result.Warnings),
		zap.Duration("duration", result.Duration),
	)
	return core.ExitCodeSuccess
}

// logTrainingPlan logs dataset size, model settings and the time estimate.
// None of it is required to train.
func logTrainingPlan(cfg *core.Config, logger *logging.Logger) {
	if info, err := preflight.CountDataset(cfg.TrainListPath, cfg.ValidListPath); err != nil {
		logger.Warn("Could not count dataset images", zap.Error(err))
	} else {
		logger.Info("Dataset",
			zap.Int("train_images", info.Train),
			zap.Int("valid_images", info.Valid),
			zap.Int("total_images", info.Total()),
		)
	}

	model, err := preflight.ParseModelConfig(cfg.ModelConfigPath)
	if err != nil {
		logger.Warn("Could not read model config, using defaults", zap.Error(err))
	}
	estimate := preflight.EstimateTrainingTime(model.MaxBatches, cfg.SecondsPerIteration)
	logger.Info("Model configuration",
		zap.Int("batch", model.Batch),
		zap.Int("subdivisions", model.Subdivisions),
		zap.Int("max_batches", model.MaxBatches),
		zap.Float64("learning_rate", model.LearningRate),
		zap.String("estimated_time", preflight.FormatEstimate(estimate)),
	)
}
