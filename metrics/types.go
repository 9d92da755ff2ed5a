package metrics

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// GPUSample is one nvidia-smi reading.
type GPUSample struct {
	Time           time.Time
	Utilization    float64 // percent
	Temperature    float64 // Celsius
	MemoryUsedMiB  float64
	MemoryTotalMiB float64
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s GPUSample) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddFloat64("utilization", s.Utilization)
	enc.AddFloat64("temperature", s.Temperature)
	enc.AddFloat64("memory_used_mib", s.MemoryUsedMiB)
	enc.AddFloat64("memory_total_mib", s.MemoryTotalMiB)
	return nil
}

// MemoryPercent returns memory usage as a percentage of total.
func (s GPUSample) MemoryPercent() float64 {
	if s.MemoryTotalMiB <= 0 {
		return 0
	}
	return s.MemoryUsedMiB / s.MemoryTotalMiB * 100
}

// GPUSummary aggregates every sample taken during a run.
type GPUSummary struct {
	Samples         int     `json:"samples"`
	MeanUtilization float64 `json:"mean_utilization"`
	PeakUtilization float64 `json:"peak_utilization"`
	PeakMemoryMiB   float64 `json:"peak_memory_mib"`
	MemoryTotalMiB  float64 `json:"memory_total_mib"`
	PeakTemperature float64 `json:"peak_temperature"`
}

// summaryAccumulator keeps running aggregates so the summary covers the
// whole run even after the bounded history has wrapped.
type summaryAccumulator struct {
	count    int
	utilSum  float64
	peakUtil float64
	peakMem  float64
	total    float64
	peakTemp float64
}

func (a *summaryAccumulator) add(s GPUSample) {
	a.count++
	a.utilSum += s.Utilization
	a.peakUtil = max(a.peakUtil, s.Utilization)
	a.peakMem = max(a.peakMem, s.MemoryUsedMiB)
	a.peakTemp = max(a.peakTemp, s.Temperature)
	a.total = s.MemoryTotalMiB
}

func (a *summaryAccumulator) summary() GPUSummary {
	if a.count == 0 {
		return GPUSummary{}
	}
	return GPUSummary{
		Samples:         a.count,
		MeanUtilization: a.utilSum / float64(a.count),
		PeakUtilization: a.peakUtil,
		PeakMemoryMiB:   a.peakMem,
		MemoryTotalMiB:  a.total,
		PeakTemperature: a.peakTemp,
	}
}
