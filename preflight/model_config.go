package preflight

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// ModelConfig holds the training parameters read from a darknet .cfg file.
type ModelConfig struct {
	Batch        int
	Subdivisions int
	MaxBatches   int
	LearningRate float64
}

// DefaultModelConfig is used for keys the .cfg file does not set.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Batch:        64,
		Subdivisions: 16,
		MaxBatches:   8000,
		LearningRate: 0.001,
	}
}

// Keys must start a line so commented-out values such as "#batch=1" are ignored.
var (
	cfgBatch        = regexp.MustCompile(`(?m)^\s*batch\s*=\s*(\d+)`)
	cfgSubdivisions = regexp.MustCompile(`(?m)^\s*subdivisions\s*=\s*(\d+)`)
	cfgMaxBatches   = regexp.MustCompile(`(?m)^\s*max_batches\s*=\s*(\d+)`)
	cfgLearningRate = regexp.MustCompile(`(?m)^\s*learning_rate\s*=\s*([\d.]+(?:[eE][-+]?\d+)?)`)
)

// ParseModelConfig reads the first value of each known key from path.
func ParseModelConfig(path string) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultModelConfig(), fmt.Errorf("failed to read model config %s: %w", path, err)
	}
	return parseModelConfig(string(data)), nil
}

func parseModelConfig(content string) ModelConfig {
	cfg := DefaultModelConfig()
	setIntFromMatch(cfgBatch, content, &cfg.Batch)
	setIntFromMatch(cfgSubdivisions, content, &cfg.Subdivisions)
	setIntFromMatch(cfgMaxBatches, content, &cfg.MaxBatches)
	if m := cfgLearningRate.FindStringSubmatch(content); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			cfg.LearningRate = v
		}
	}
	return cfg
}

func setIntFromMatch(re *regexp.Regexp, content string, dst *int) {
	if m := re.FindStringSubmatch(content); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			*dst = v
		}
	}
}

// EstimateTrainingTime multiplies the iteration budget by the observed
// seconds per iteration.
func EstimateTrainingTime(maxBatches int, secondsPerIteration float64) time.Duration {
	if maxBatches <= 0 || secondsPerIteration <= 0 {
		return 0
	}
	return time.Duration(float64(maxBatches) * secondsPerIteration * float64(time.Second))
}

// FormatEstimate renders a duration as "Xh Ym".
func FormatEstimate(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
