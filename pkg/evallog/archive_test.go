package evallog

import (
	"archive/zip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evalgo/pkg/core"
)

func sampleRunResult() core.RunResult {
	return core.RunResult{
		RunID:  "run-abc",
		Status: core.RunCompleted,
		Tasks: []core.TaskResult{{
			Task:   "math",
			Status: core.TaskCompleted,
			Samples: []core.SampleResult{
				{
					Sample: core.Sample{ID: "1", Epoch: 1, Input: "1+1", Target: "2"},
					Status: core.SampleSuccess,
					Attempts: []core.Attempt{
						{Number: 1, Outcome: core.OutcomeSuccess},
					},
					Score: core.Score{Value: 1, Max: 1, Passed: true},
				},
				{
					Sample: core.Sample{ID: "2", Epoch: 1, Input: "2+2", Target: "4"},
					Status: core.SampleError,
					Attempts: []core.Attempt{
						{Number: 1, Outcome: core.OutcomeTimeout},
						{Number: 2, Outcome: core.OutcomeError, Error: "boom"},
					},
					Error: "boom",
				},
			},
		}},
		StartedAt:   time.Now().Add(-time.Minute),
		CompletedAt: time.Now(),
	}
}

func TestWriteArchive(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteArchive(dir, sampleRunResult(), core.EvalConfig{}.Normalized())
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	reader, err := zip.NewReader(f, info.Size())
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, zf := range reader.File {
		names[zf.Name] = true
	}
	require.True(t, names["_journal/start.json"])
	require.True(t, names["header.json"])
	require.True(t, names["summaries.json"])
	require.True(t, names["reductions.json"])
	require.True(t, names["samples/math_1_epoch_1.json"])
	require.True(t, names["samples/math_2_epoch_1.json"])
}

func TestBuildReductionsAveragesSuccessfulSamples(t *testing.T) {
	reductions := buildReductions(sampleRunResult())
	require.Len(t, reductions, 1)
	require.Equal(t, "math", reductions[0].Task)
	require.Equal(t, "mean", reductions[0].Reducer)
	require.Len(t, reductions[0].Samples, 1)
	require.InDelta(t, 1.0, reductions[0].Value, 1e-9)
}

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteJSON(dir, sampleRunResult(), core.EvalConfig{}.Normalized())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"status": "completed"`)
	require.Contains(t, string(data), `"run_id": "run-abc"`)
}

func TestBuildHeaderCounts(t *testing.T) {
	header := BuildHeader(sampleRunResult(), core.EvalConfig{}.Normalized())
	require.Len(t, header.Tasks, 1)
	require.Equal(t, 2, header.Tasks[0].Samples)
	require.Equal(t, 1, header.Tasks[0].Succeeded)
	require.Equal(t, 1, header.Tasks[0].Errored)
}
