// Package reporter renders run results for the terminal and for files.
package reporter

import (
	"time"

	"evalgo/pkg/core"
)

// Reporter writes a run report.
type Reporter interface {
	Report(result core.RunResult) error
}

const (
	FormatJSON  = "json"
	FormatTable = "table"
	FormatCSV   = "csv"
)

// TaskSummary aggregates one task's samples for tabular output.
type TaskSummary struct {
	Task      string
	Status    core.TaskStatus
	Samples   int
	Succeeded int
	Errored   int
	Abandoned int
	Attempts  int
	MeanScore float64
	Duration  time.Duration
}

// Summarize folds a run result into per-task rows.
func Summarize(result core.RunResult) []TaskSummary {
	summaries := make([]TaskSummary, 0, len(result.Tasks))
	for _, task := range result.Tasks {
		s := TaskSummary{
			Task:     task.Task,
			Status:   task.Status,
			Samples:  len(task.Samples),
			Duration: task.CompletedAt.Sub(task.StartedAt),
		}
		scored := 0
		var total float64
		for _, sample := range task.Samples {
			s.Attempts += len(sample.Attempts)
			switch sample.Status {
			case core.SampleSuccess:
				s.Succeeded++
				if sample.Score.Max > 0 {
					total += sample.Score.Value / sample.Score.Max
					scored++
				}
			case core.SampleError:
				s.Errored++
			case core.SampleAbandoned:
				s.Abandoned++
			}
		}
		if scored > 0 {
			s.MeanScore = total / float64(scored)
		}
		summaries = append(summaries, s)
	}
	return summaries
}
