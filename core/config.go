package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when present and no explicit file was requested.
const DefaultConfigFile = "trainwatch.yaml"

// Config holds all configuration values.
// Values are fixed once the run starts; there is no runtime reconfiguration.
type Config struct {
	// Training inputs (checked before launch)
	ModelConfigPath string `yaml:"model_config"`
	DataSpecPath    string `yaml:"data_spec"`
	WeightsPath     string `yaml:"weights"`
	ClassNamesPath  string `yaml:"class_names"`
	TrainListPath   string `yaml:"train_list"`
	ValidListPath   string `yaml:"valid_list"`

	// Training executable
	DarknetPath  string        `yaml:"darknet"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Supervision
	Patience            int           `yaml:"patience"`
	RenderStride        int           `yaml:"render_stride"`
	GracePeriod         time.Duration `yaml:"grace_period"`
	SecondsPerIteration float64       `yaml:"seconds_per_iteration"` // Used for the up-front time estimate
	EchoOutput          bool          `yaml:"echo_output"`

	// Outputs (overwritten per run)
	OutputDir     string `yaml:"output_dir"`
	BackupDir     string `yaml:"backup_dir"`
	ReportFile    string `yaml:"report_file"`
	ProgressImage string `yaml:"progress_image"`
	FinalImage    string `yaml:"final_image"`

	// Run history
	DatabasePath  string `yaml:"database"`
	RetentionDays int    `yaml:"retention_days"` // 0 disables pruning

	// Observability
	LogFile       string        `yaml:"log_file"`
	LogLevel      string        `yaml:"log_level"`
	DevMode       bool          `yaml:"dev_mode"`
	GPUMonitoring bool          `yaml:"gpu_monitoring"`
	GPUInterval   time.Duration `yaml:"gpu_interval"`
	NvidiaSMIPath string        `yaml:"nvidia_smi"`
	StatusAddr    string        `yaml:"status_addr"` // Empty disables the status server
}

// DefaultConfig returns the configuration used when nothing is overridden.
// Input file names follow the usual darknet custom-training layout.
func DefaultConfig() Config {
	return Config{
		ModelConfigPath:     "yolov4-custom.cfg",
		DataSpecPath:        "obj.data",
		WeightsPath:         "yolov4.conv.137",
		ClassNamesPath:      "obj.names",
		TrainListPath:       "train.txt",
		ValidListPath:       "valid.txt",
		DarknetPath:         "darknet",
		ProbeTimeout:        5 * time.Second,
		Patience:            200,
		RenderStride:        50,
		GracePeriod:         10 * time.Second,
		SecondsPerIteration: 8.4,
		EchoOutput:          true,
		OutputDir:           ".",
		BackupDir:           "backup",
		ReportFile:          "training_report.json",
		ProgressImage:       "training_progress.png",
		FinalImage:          "training_final.png",
		DatabasePath:        filepath.Join(".trainwatch", "runs.db"),
		RetentionDays:       90,
		LogFile:             "trainwatch.log",
		LogLevel:            "info",
		GPUMonitoring:       true,
		GPUInterval:         5 * time.Second,
		NvidiaSMIPath:       "nvidia-smi",
	}
}

// LoadOptions controls where LoadConfig reads from.
type LoadOptions struct {
	// FilePath is an explicit YAML file. When empty, TRAINWATCH_CONFIG_FILE
	// and then DefaultConfigFile are tried; a missing default file is not an error.
	FilePath string

	// Lookup reads environment variables; os.LookupEnv when nil.
	Lookup LookupFunc
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and TRAINWATCH_* environment variables, in increasing precedence.
// Command-line flags are applied afterwards with ApplyOverrides.
func LoadConfig(opts LoadOptions) (*Config, error) {
	cfg := DefaultConfig()
	env := newEnvSource(opts.Lookup)

	path := opts.FilePath
	explicit := path != ""
	if !explicit {
		if v, ok := env.value("TRAINWATCH_CONFIG_FILE"); ok {
			path = v
			explicit = true
		} else {
			path = DefaultConfigFile
		}
	}

	if err := loadConfigFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnv(env, &cfg)
	return &cfg, nil
}

// loadConfigFile decodes a YAML file over cfg. Keys absent from the file keep their value.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(env envSource, cfg *Config) {
	env.setString("TRAINWATCH_MODEL_CONFIG", &cfg.ModelConfigPath)
	env.setString("TRAINWATCH_DATA", &cfg.DataSpecPath)
	env.setString("TRAINWATCH_WEIGHTS", &cfg.WeightsPath)
	env.setString("TRAINWATCH_CLASS_NAMES", &cfg.ClassNamesPath)
	env.setString("TRAINWATCH_TRAIN_LIST", &cfg.TrainListPath)
	env.setString("TRAINWATCH_VALID_LIST", &cfg.ValidListPath)

	env.setString("TRAINWATCH_DARKNET", &cfg.DarknetPath)
	env.setDuration("TRAINWATCH_PROBE_TIMEOUT", &cfg.ProbeTimeout)

	env.setInt("TRAINWATCH_PATIENCE", &cfg.Patience)
	env.setInt("TRAINWATCH_RENDER_STRIDE", &cfg.RenderStride)
	env.setDuration("TRAINWATCH_GRACE_PERIOD", &cfg.GracePeriod)
	env.setFloat("TRAINWATCH_SECONDS_PER_ITERATION", &cfg.SecondsPerIteration)
	env.setBool("TRAINWATCH_ECHO_OUTPUT", &cfg.EchoOutput)

	env.setString("TRAINWATCH_OUTPUT_DIR", &cfg.OutputDir)
	env.setString("TRAINWATCH_BACKUP_DIR", &cfg.BackupDir)
	env.setString("TRAINWATCH_REPORT_FILE", &cfg.ReportFile)
	env.setString("TRAINWATCH_PROGRESS_IMAGE", &cfg.ProgressImage)
	env.setString("TRAINWATCH_FINAL_IMAGE", &cfg.FinalImage)

	env.setString("TRAINWATCH_DB_PATH", &cfg.DatabasePath)
	env.setInt("TRAINWATCH_RETENTION_DAYS", &cfg.RetentionDays)

	env.setString("TRAINWATCH_LOG_FILE", &cfg.LogFile)
	env.setString("TRAINWATCH_LOG_LEVEL", &cfg.LogLevel)
	env.setBool("TRAINWATCH_DEV_MODE", &cfg.DevMode)
	env.setBool("TRAINWATCH_GPU_MONITORING", &cfg.GPUMonitoring)
	env.setDuration("TRAINWATCH_GPU_INTERVAL", &cfg.GPUInterval)
	env.setString("TRAINWATCH_NVIDIA_SMI", &cfg.NvidiaSMIPath)
	env.setString("TRAINWATCH_STATUS_ADDR", &cfg.StatusAddr)
}

// Overrides carries command-line values. Nil fields were not given.
type Overrides struct {
	ModelConfigPath *string
	DataSpecPath    *string
	WeightsPath     *string
	Patience        *int
	DarknetPath     *string
	OutputDir       *string
	DevMode         *bool
}

// ApplyOverrides copies every non-nil override into the config.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.ModelConfigPath != nil {
		c.ModelConfigPath = *o.ModelConfigPath
	}
	if o.DataSpecPath != nil {
		c.DataSpecPath = *o.DataSpecPath
	}
	if o.WeightsPath != nil {
		c.WeightsPath = *o.WeightsPath
	}
	if o.Patience != nil {
		c.Patience = *o.Patience
	}
	if o.DarknetPath != nil {
		c.DarknetPath = *o.DarknetPath
	}
	if o.OutputDir != nil {
		c.OutputDir = *o.OutputDir
	}
	if o.DevMode != nil {
		c.DevMode = *o.DevMode
	}
}

// Validate returns a PreconditionFailure listing every unusable value.
func (c *Config) Validate() error {
	var errs []*PreconditionError

	required := []struct {
		field string
		value string
	}{
		{"model_config", c.ModelConfigPath},
		{"data_spec", c.DataSpecPath},
		{"weights", c.WeightsPath},
		{"class_names", c.ClassNamesPath},
		{"train_list", c.TrainListPath},
		{"valid_list", c.ValidListPath},
		{"darknet", c.DarknetPath},
		{"report_file", c.ReportFile},
		{"progress_image", c.ProgressImage},
		{"final_image", c.FinalImage},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, ErrInvalidConfig(r.field, "must not be empty"))
		}
	}

	if c.Patience < 1 {
		errs = append(errs, ErrInvalidConfig("patience", fmt.Sprintf("must be positive, got %d", c.Patience)))
	}
	if c.RenderStride < 1 {
		errs = append(errs, ErrInvalidConfig("render_stride", fmt.Sprintf("must be positive, got %d", c.RenderStride)))
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, ErrInvalidConfig("grace_period", "must be positive"))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, ErrInvalidConfig("probe_timeout", "must be positive"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, ErrInvalidConfig("retention_days", "must not be negative"))
	}

	if f := NewPreconditionFailure(errs); f != nil {
		return f
	}
	return nil
}

// OutputPath resolves an output file name against OutputDir.
func (c *Config) OutputPath(name string) string {
	if filepath.IsAbs(name) || c.OutputDir == "" {
		return name
	}
	return filepath.Join(c.OutputDir, name)
}
