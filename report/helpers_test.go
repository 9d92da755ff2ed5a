package report

import (
	"trainwatch/history"
)

// buildSnapshot records n loss samples with a falling loss and one mAP
// reading every 100 iterations.
func buildSnapshot(n int) history.Snapshot {
	h := history.New()
	for i := 1; i <= n; i++ {
		wall := float64(i) * 8.4
		h.RecordLoss(history.MetricSample{
			Iteration: i,
			Loss:      100 / float64(i),
			AvgLoss:   120 / float64(i),
			WallTime:  &wall,
		})
		if i%100 == 0 {
			h.RecordValidation(history.ValidationSample{MAP: float64(i) / float64(n+100), Iteration: i, HasIteration: true})
		}
	}
	return h.Snapshot()
}
