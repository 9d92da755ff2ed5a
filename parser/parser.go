// Package parser extracts training metrics from single lines of darknet output.
package parser

import (
	"math"
	"regexp"
	"strconv"
)

// Kind identifies what a line carried.
type Kind int

const (
	NoEvent Kind = iota
	LossEvent
	ValidationEvent
)

func (k Kind) String() string {
	switch k {
	case LossEvent:
		return "loss"
	case ValidationEvent:
		return "validation"
	default:
		return "none"
	}
}

// Event is the result of parsing one line. Only the fields for Kind are set.
type Event struct {
	Kind Kind

	// LossEvent
	Iteration int
	Loss      float64
	AvgLoss   float64

	// ValidationEvent
	MAP float64
}

const number = `([-+]?\d+(?:\.\d*)?(?:[eE][-+]?\d+)?|[-+]?(?:nan|inf))`

var (
	// "45: loss=2038.979, avg loss=2087.802"
	lossKeyed = regexp.MustCompile(`(\d+):\s+loss=` + number + `,\s+avg\s+loss=` + number)

	// "45: 2038.979, 2087.802 avg loss, 0.001000 rate, ..."
	lossClassic = regexp.MustCompile(`(\d+):\s+` + number + `,\s+` + number + `\s+avg(?:\s+loss)?\b`)

	// "mean_average_precision (mAP@0.50) = 0.653245" or "mean average precision (mAP@0.5) = 0.65"
	meanAP = regexp.MustCompile(`(?i)mean[_ ]average[_ ]precision.*?=\s*` + number)
)

// Parse classifies one line. It never fails: lines without metrics, and
// lines whose numbers do not parse to finite values, yield NoEvent.
func Parse(line string) Event {
	if ev, ok := parseLoss(line); ok {
		return ev
	}
	if ev, ok := parseValidation(line); ok {
		return ev
	}
	return Event{Kind: NoEvent}
}

func parseLoss(line string) (Event, bool) {
	m := lossKeyed.FindStringSubmatch(line)
	if m == nil {
		m = lossClassic.FindStringSubmatch(line)
	}
	if m == nil {
		return Event{}, false
	}

	iter, err := strconv.Atoi(m[1])
	if err != nil {
		return Event{}, false
	}
	loss, ok := parseFinite(m[2])
	if !ok {
		return Event{}, false
	}
	avg, ok := parseFinite(m[3])
	if !ok {
		return Event{}, false
	}
	return Event{Kind: LossEvent, Iteration: iter, Loss: loss, AvgLoss: avg}, true
}

func parseValidation(line string) (Event, bool) {
	m := meanAP.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	v, ok := parseFinite(m[1])
	if !ok {
		return Event{}, false
	}
	return Event{Kind: ValidationEvent, MAP: v}, true
}

// parseFinite rejects NaN and infinities; darknet prints them when training diverges
// and they would poison best-value tracking.
func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
