package reporter

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"evalgo/pkg/core"
)

const timeResolution = 10 * time.Millisecond

type TableReporter struct {
	Writer io.Writer
}

func (r TableReporter) Report(result core.RunResult) error {
	table := tablewriter.NewWriter(r.Writer)
	table.Header([]string{"Task", "Status", "Samples", "Success", "Errors", "Abandoned", "Attempts", "Mean Score", "Duration"})
	for _, s := range Summarize(result) {
		table.Append([]string{
			s.Task,
			string(s.Status),
			fmt.Sprintf("%d", s.Samples),
			fmt.Sprintf("%d", s.Succeeded),
			fmt.Sprintf("%d", s.Errored),
			fmt.Sprintf("%d", s.Abandoned),
			fmt.Sprintf("%d", s.Attempts),
			fmt.Sprintf("%.2f", s.MeanScore),
			s.Duration.Round(timeResolution).String(),
		})
	}
	table.Render()
	return nil
}
