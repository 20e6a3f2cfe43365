package evallog

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"evalgo/pkg/core"
)

// Header is the run-level record written to a finalized log.
type Header struct {
	Version     int                        `json:"version"`
	RunID       string                     `json:"run_id"`
	Status      core.RunStatus             `json:"status"`
	Config      core.EvalConfig            `json:"config"`
	Tasks       []TaskSummary              `json:"tasks"`
	Usage       map[string]core.TokenUsage `json:"usage,omitempty"`
	StartedAt   time.Time                  `json:"started_at"`
	CompletedAt time.Time                  `json:"completed_at"`
}

// TaskSummary is a task's terminal record in the header.
type TaskSummary struct {
	Name      string          `json:"name"`
	Status    core.TaskStatus `json:"status"`
	Samples   int             `json:"samples"`
	Succeeded int             `json:"succeeded"`
	Errored   int             `json:"errored"`
	Abandoned int             `json:"abandoned"`
}

// SampleSummary is one line of summaries.json in a finalized archive.
type SampleSummary struct {
	Task        string            `json:"task"`
	ID          string            `json:"id"`
	Epoch       int               `json:"epoch"`
	Status      core.SampleStatus `json:"status"`
	Attempts    int               `json:"attempts"`
	Score       *core.Score       `json:"score,omitempty"`
	Error       string            `json:"error,omitempty"`
	TotalTime   float64           `json:"total_time"`
	WorkingTime float64           `json:"working_time"`
}

// ScoreReduction aggregates sample scores for one task.
type ScoreReduction struct {
	Task    string        `json:"task"`
	Reducer string        `json:"reducer"`
	Value   float64       `json:"value"`
	Samples []SampleScore `json:"samples"`
}

// SampleScore is a single sample's contribution to a reduction.
type SampleScore struct {
	ID    string  `json:"id"`
	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`
}

const logVersion = 1

// BuildHeader summarizes a run result for archival.
func BuildHeader(result core.RunResult, cfg core.EvalConfig) Header {
	tasks := make([]TaskSummary, 0, len(result.Tasks))
	for _, t := range result.Tasks {
		summary := TaskSummary{Name: t.Task, Status: t.Status, Samples: len(t.Samples)}
		for _, s := range t.Samples {
			switch s.Status {
			case core.SampleSuccess:
				summary.Succeeded++
			case core.SampleError:
				summary.Errored++
			case core.SampleAbandoned:
				summary.Abandoned++
			}
		}
		tasks = append(tasks, summary)
	}
	return Header{
		Version:     logVersion,
		RunID:       result.RunID,
		Status:      result.Status,
		Config:      cfg,
		Tasks:       tasks,
		Usage:       result.Usage,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
	}
}

// WriteArchive finalizes a run into a zip archive holding the header,
// per-sample summaries, and one file per sample with the full attempt
// history. Returns the archive path.
func WriteArchive(dir string, result core.RunResult, cfg core.EvalConfig) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("evallog: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, archiveFileName(result, "eval"))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	start := struct {
		RunID     string    `json:"run_id"`
		Tasks     []string  `json:"tasks"`
		StartedAt time.Time `json:"started_at"`
	}{RunID: result.RunID, StartedAt: result.StartedAt}
	for _, t := range result.Tasks {
		start.Tasks = append(start.Tasks, t.Task)
	}
	if err := writeZipJSON(zw, "_journal/start.json", start); err != nil {
		return "", err
	}
	if err := writeZipJSON(zw, "header.json", BuildHeader(result, cfg)); err != nil {
		return "", err
	}

	var summaries []SampleSummary
	for _, t := range result.Tasks {
		for _, s := range t.Samples {
			summaries = append(summaries, SampleSummary{
				Task:        t.Task,
				ID:          s.Sample.ID,
				Epoch:       s.Sample.Epoch,
				Status:      s.Status,
				Attempts:    len(s.Attempts),
				Score:       scoreOrNil(s),
				Error:       s.Error,
				TotalTime:   s.TotalTime.Seconds(),
				WorkingTime: s.WorkingTime.Seconds(),
			})
		}
	}
	if err := writeZipJSON(zw, "summaries.json", summaries); err != nil {
		return "", err
	}

	for _, t := range result.Tasks {
		for _, s := range t.Samples {
			name := fmt.Sprintf("samples/%s_%s_epoch_%d.json", sanitizeName(t.Task), sanitizeName(s.Sample.ID), s.Sample.Epoch)
			if err := writeZipJSON(zw, name, s); err != nil {
				return "", err
			}
		}
	}

	if err := writeZipJSON(zw, "reductions.json", buildReductions(result)); err != nil {
		return "", err
	}

	if err := zw.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func buildReductions(result core.RunResult) []ScoreReduction {
	reductions := make([]ScoreReduction, 0, len(result.Tasks))
	for _, t := range result.Tasks {
		red := ScoreReduction{Task: t.Task, Reducer: "mean", Samples: []SampleScore{}}
		var sum float64
		for _, s := range t.Samples {
			if s.Status != core.SampleSuccess {
				continue
			}
			value := s.Score.Value
			if s.Score.Max > 0 {
				value /= s.Score.Max
			}
			sum += value
			red.Samples = append(red.Samples, SampleScore{ID: s.Sample.ID, Epoch: s.Sample.Epoch, Value: value})
		}
		if len(red.Samples) > 0 {
			red.Value = sum / float64(len(red.Samples))
		}
		reductions = append(reductions, red)
	}
	return reductions
}

// WriteJSON finalizes a run as a single pretty-printed JSON document.
func WriteJSON(dir string, result core.RunResult, cfg core.EvalConfig) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("evallog: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, archiveFileName(result, "json"))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc := struct {
		Header  Header            `json:"header"`
		Results []core.TaskResult `json:"results"`
	}{BuildHeader(result, cfg), result.Tasks}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return path, nil
}

func scoreOrNil(s core.SampleResult) *core.Score {
	if s.Status != core.SampleSuccess {
		return nil
	}
	score := s.Score
	return &score
}

func archiveFileName(result core.RunResult, ext string) string {
	ts := result.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s_%s.%s", ts.Format("2006-01-02T15-04-05"), sanitizeName(result.RunID), ext)
}

func writeZipJSON(zw *zip.Writer, name string, data any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return err
	}
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func sanitizeName(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		}
	}
	return string(out)
}
