// Package metrics samples GPU state while a training run is in progress.
package metrics

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trainwatch/logging"
)

// GPUReader reads one GPU sample.
type GPUReader interface {
	ReadGPU(ctx context.Context) (GPUSample, error)
}

// GPUCollectorConfig configures the GPUCollector behavior.
type GPUCollectorConfig struct {
	// CollectionInterval is how often to sample.
	CollectionInterval time.Duration

	// HistorySize is the number of samples retained for GetHistory.
	HistorySize int

	// NvidiaSMIPath is the nvidia-smi executable; "nvidia-smi" when empty.
	NvidiaSMIPath string

	// QueryTimeout bounds one nvidia-smi invocation.
	QueryTimeout time.Duration
}

// DefaultGPUCollectorConfig returns a default configuration.
func DefaultGPUCollectorConfig() GPUCollectorConfig {
	return GPUCollectorConfig{
		CollectionInterval: 5 * time.Second,
		HistorySize:        720, // 1 hour at 5s intervals
		NvidiaSMIPath:      "nvidia-smi",
		QueryTimeout:       5 * time.Second,
	}
}

// GPUCollector periodically samples the GPU the trainer runs on.
//
// Collection is best-effort: on a host without nvidia-smi every read fails,
// IsAvailable stays false and the run continues unaffected.
type GPUCollector struct {
	mu sync.RWMutex

	config GPUCollectorConfig
	reader GPUReader
	logger *logging.Logger

	// History storage (circular buffer)
	history  []GPUSample
	histHead int
	histSize int

	acc       summaryAccumulator
	last      GPUSample
	available bool
	lastError error
	warned    bool

	onSample func(GPUSample)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGPUCollector creates a collector reading nvidia-smi.
// onSample, if non-nil, is invoked outside the lock for every successful read.
func NewGPUCollector(config GPUCollectorConfig, logger *logging.Logger, onSample func(GPUSample)) *GPUCollector {
	if config.CollectionInterval <= 0 {
		config.CollectionInterval = 5 * time.Second
	}
	if config.HistorySize < 1 {
		config.HistorySize = 720
	}
	if config.NvidiaSMIPath == "" {
		config.NvidiaSMIPath = "nvidia-smi"
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &GPUCollector{
		config:   config,
		reader:   nvidiaSMI{path: config.NvidiaSMIPath, timeout: config.QueryTimeout},
		logger:   logger,
		history:  make([]GPUSample, config.HistorySize),
		onSample: onSample,
	}
}

// NewGPUCollectorWithReader creates a GPUCollector with a custom GPUReader.
func NewGPUCollectorWithReader(config GPUCollectorConfig, reader GPUReader, logger *logging.Logger, onSample func(GPUSample)) *GPUCollector {
	c := NewGPUCollector(config, logger, onSample)
	c.reader = reader
	return c
}

// Start begins sampling in a background goroutine until ctx is cancelled or Stop is called.
func (c *GPUCollector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.collectLoop(ctx)
}

// Stop halts sampling and waits for the collection goroutine.
func (c *GPUCollector) Stop() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// IsAvailable returns true if the latest read succeeded.
func (c *GPUCollector) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// GetLastError returns the most recent read error, nil after a successful read.
func (c *GPUCollector) GetLastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Current returns the most recent successful sample.
func (c *GPUCollector) Current() GPUSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Summary aggregates every successful sample since Start.
func (c *GPUCollector) Summary() GPUSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acc.summary()
}

// GetHistory returns up to limit of the most recent samples, oldest first.
func (c *GPUCollector) GetHistory(limit int) []GPUSample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if limit <= 0 || c.histSize == 0 {
		return []GPUSample{}
	}
	if limit > c.histSize {
		limit = c.histSize
	}

	histCap := len(c.history)
	result := make([]GPUSample, limit)
	start := c.histHead - limit
	for i := 0; i < limit; i++ {
		result[i] = c.history[(start+i+histCap)%histCap]
	}
	return result
}

// GetHistorySize returns the current number of samples in history.
func (c *GPUCollector) GetHistorySize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histSize
}

func (c *GPUCollector) collectLoop(ctx context.Context) {
	defer c.wg.Done()

	c.collectOnce(ctx)

	ticker := time.NewTicker(c.config.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

func (c *GPUCollector) collectOnce(ctx context.Context) {
	sample, err := c.reader.ReadGPU(ctx)
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if err != nil {
		c.available = false
		c.lastError = err
		warn := !c.warned
		c.warned = true
		c.mu.Unlock()
		if warn {
			c.logger.Warn("GPU metrics unavailable", zap.Error(err))
		} else {
			c.logger.Debug("GPU read failed", zap.Error(err))
		}
		return
	}

	if sample.Time.IsZero() {
		sample.Time = time.Now()
	}
	c.available = true
	c.lastError = nil
	c.last = sample
	c.acc.add(sample)

	c.history[c.histHead] = sample
	c.histHead = (c.histHead + 1) % len(c.history)
	if c.histSize < len(c.history) {
		c.histSize++
	}
	c.mu.Unlock()

	if c.onSample != nil {
		c.onSample(sample)
	}
}

// nvidiaSMI reads the first GPU reported by nvidia-smi.
type nvidiaSMI struct {
	path    string
	timeout time.Duration
}

func (n nvidiaSMI) ReadGPU(ctx context.Context) (GPUSample, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, n.path,
		"--query-gpu=utilization.gpu,temperature.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return GPUSample{}, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return parseNvidiaSMIOutput(stdout.String())
}

// parseNvidiaSMIOutput parses the first CSV row of nvidia-smi output.
func parseNvidiaSMIOutput(output string) (GPUSample, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return GPUSample{}, fmt.Errorf("empty nvidia-smi output")
	}

	reader := csv.NewReader(strings.NewReader(output))
	reader.FieldsPerRecord = -1
	record, err := reader.Read()
	if err != nil {
		return GPUSample{}, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(record) < 4 {
		return GPUSample{}, fmt.Errorf("unexpected field count: got %d, expected 4", len(record))
	}

	names := [4]string{"utilization", "temperature", "memory used", "memory total"}
	var values [4]float64
	for i := range values {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return GPUSample{}, fmt.Errorf("failed to parse %s: %w", names[i], err)
		}
		values[i] = v
	}

	return GPUSample{
		Utilization:    values[0],
		Temperature:    values[1],
		MemoryUsedMiB:  values[2],
		MemoryTotalMiB: values[3],
	}, nil
}
