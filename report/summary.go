package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// PrintSummary prints the end-of-run summary in colour.
func PrintSummary(w io.Writer, rec Record, artifacts []string) {
	header := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgHiBlack)

	fmt.Fprintln(w)
	header.Fprintln(w, "━━━ Training Report ━━━")
	fmt.Fprintln(w)

	outcome := color.New(color.FgGreen, color.Bold)
	if !rec.Success {
		outcome = color.New(color.FgRed, color.Bold)
	}
	label.Fprint(w, "  Outcome:        ")
	outcome.Fprintln(w, rec.Message)

	row := func(name, value string) {
		label.Fprintf(w, "  %-15s ", name+":")
		fmt.Fprintln(w, value)
	}
	row("Elapsed", fmt.Sprintf("%.2f hours", rec.ElapsedTimeHours))
	row("Loss samples", fmt.Sprintf("%d", rec.TotalIterations))

	if rec.TotalIterations == 0 {
		color.New(color.FgYellow).Fprintln(w, "  No metrics were collected")
	} else {
		row("Initial loss", formatLoss(rec.InitialLoss))
		row("Final loss", formatLoss(rec.FinalLoss))
		row("Best loss", formatLoss(rec.BestLoss))
	}
	if len(rec.MAPs) > 0 {
		row("Best mAP", fmt.Sprintf("%.4f", rec.BestMAP))
	}

	if len(artifacts) > 0 {
		fmt.Fprintln(w)
		label.Fprintln(w, "  Generated files:")
		for _, a := range artifacts {
			fmt.Fprintf(w, "   - %s\n", a)
		}
	}
	fmt.Fprintln(w)
}

func formatLoss(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}
