package logging

import (
	"go.uber.org/zap"

	"trainwatch/core"
)

// SampleFields describes one parsed loss line.
func SampleFields(iteration int, loss, avgLoss float64) []zap.Field {
	return []zap.Field{
		zap.Int("iteration", iteration),
		zap.Float64("loss", loss),
		zap.Float64("avg_loss", avgLoss),
	}
}

// ValidationFields describes one parsed mAP line. The iteration is omitted
// when no loss line preceded the validation.
func ValidationFields(mAP float64, iteration int, hasIteration bool) []zap.Field {
	fields := []zap.Field{zap.Float64("map", mAP)}
	if hasIteration {
		fields = append(fields, zap.Int("iteration", iteration))
	}
	return fields
}

// OutcomeField wraps a run outcome as a nested object.
func OutcomeField(o core.RunOutcome) zap.Field {
	return zap.Object("outcome", o)
}

// RunField tags entries with the run identifier.
func RunField(runID string) zap.Field {
	return zap.String("run_id", runID)
}
