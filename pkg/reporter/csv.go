package reporter

import (
	"encoding/csv"
	"io"
	"strconv"

	"evalgo/pkg/core"
)

type CSVReporter struct {
	Writer io.Writer
}

func (r CSVReporter) Report(result core.RunResult) error {
	writer := csv.NewWriter(r.Writer)
	header := []string{"task", "id", "epoch", "status", "attempts", "input", "target", "output", "score", "passed", "error", "total_seconds"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, task := range result.Tasks {
		for _, sample := range task.Samples {
			record := []string{
				task.Task,
				sample.Sample.ID,
				strconv.Itoa(sample.Sample.Epoch),
				string(sample.Status),
				strconv.Itoa(len(sample.Attempts)),
				sample.Sample.Input,
				sample.Sample.Target,
				sample.Response.Content,
				strconv.FormatFloat(sample.Score.Value, 'f', 4, 64),
				strconv.FormatBool(sample.Score.Passed),
				sample.Error,
				strconv.FormatFloat(sample.TotalTime.Seconds(), 'f', 6, 64),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
