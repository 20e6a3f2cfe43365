package resume

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evalgo/pkg/core"
	"evalgo/pkg/evallog"
	"evalgo/pkg/runner"
)

func writeJournal(t *testing.T, path string, entries []evallog.Entry) {
	t.Helper()
	j, err := evallog.Create(path, evallog.Options{
		BufferSize: 1,
		Realtime:   true,
		LogSamples: true,
	})
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, j.Append(e))
	}
	require.NoError(t, j.Close())
}

func interruptedEntries() []evallog.Entry {
	now := time.Now()
	manifest := evallog.TaskManifest{
		Name:   "math",
		Solver: "basic",
		Scorer: "exact_match",
		Samples: []evallog.SampleRef{
			{ID: "1", Epoch: 1, Input: "1+1", Target: "2"},
			{ID: "2", Epoch: 1, Input: "2+2", Target: "4"},
			{ID: "3", Epoch: 1, Input: "3+3", Target: "6"},
		},
	}
	cfg := core.EvalConfig{MaxSamples: 4, RetryOnError: 2}
	return []evallog.Entry{
		{Kind: evallog.KindRunStart, Time: now, RunID: "r1", Config: &cfg, Tasks: []evallog.TaskManifest{manifest}},
		{Kind: evallog.KindTaskStart, Time: now, Task: "math"},
		{Kind: evallog.KindSampleStart, Time: now, Task: "math", SampleID: "1", Epoch: 1},
		{Kind: evallog.KindAttemptStart, Time: now, Task: "math", SampleID: "1", Epoch: 1, Attempt: 1},
		{Kind: evallog.KindAttemptEnd, Time: now, Task: "math", SampleID: "1", Epoch: 1, Attempt: 1, Outcome: core.OutcomeSuccess},
		{Kind: evallog.KindSampleEnd, Time: now, Task: "math", SampleID: "1", Epoch: 1, Status: string(core.SampleSuccess), Output: "2"},
		{Kind: evallog.KindSampleStart, Time: now, Task: "math", SampleID: "2", Epoch: 1},
		{Kind: evallog.KindAttemptStart, Time: now, Task: "math", SampleID: "2", Epoch: 1, Attempt: 1},
		{Kind: evallog.KindAttemptEnd, Time: now, Task: "math", SampleID: "2", Epoch: 1, Attempt: 1, Outcome: core.OutcomeError, Error: "boom"},
		// Crash: sample 2 mid-retry, sample 3 never started, no run_end.
	}
}

func TestLoadPlansOnlyIncompleteSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r1.jsonl")
	writeJournal(t, path, interruptedEntries())

	plan, err := Load(path, core.EvalConfig{MaxSamples: 8})
	require.NoError(t, err)
	require.Equal(t, "r1", plan.RunID)
	require.False(t, plan.Complete())
	require.Equal(t, 2, plan.Remaining)

	require.Len(t, plan.Tasks, 1)
	ids := make([]string, 0, 2)
	for _, ref := range plan.Tasks[0].Samples {
		ids = append(ids, ref.ID)
	}
	require.Equal(t, []string{"2", "3"}, ids, "success is never re-queued, everything else is")

	require.Equal(t, map[string]int{"math/2/1": 1}, plan.BaseAttempts)

	// Overrides replace logged values; untouched fields survive.
	require.Equal(t, 8, plan.Config.MaxSamples)
	require.Equal(t, 2, plan.Config.RetryOnError)
}

func TestLoadCompletedRunHasNothingToDo(t *testing.T) {
	now := time.Now()
	manifest := evallog.TaskManifest{
		Name:    "math",
		Samples: []evallog.SampleRef{{ID: "1", Epoch: 1}},
	}
	path := filepath.Join(t.TempDir(), "done.jsonl")
	writeJournal(t, path, []evallog.Entry{
		{Kind: evallog.KindRunStart, Time: now, RunID: "r2", Tasks: []evallog.TaskManifest{manifest}},
		{Kind: evallog.KindSampleEnd, Time: now, Task: "math", SampleID: "1", Epoch: 1, Status: string(core.SampleSuccess)},
		{Kind: evallog.KindTaskEnd, Time: now, Task: "math", Status: string(core.TaskCompleted)},
		{Kind: evallog.KindRunEnd, Time: now, RunID: "r2", Status: string(core.RunCompleted)},
	})

	plan, err := Load(path, core.EvalConfig{})
	require.NoError(t, err)
	require.True(t, plan.Complete())
	require.Empty(t, plan.Tasks)
}

func TestLoadAllSkipsCorruptJournals(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.jsonl")
	writeJournal(t, good, interruptedEntries())

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"kind\":\"run_start\"}\n{{{ not json\n{\"kind\":\"run_end\"}\n"), 0o644))

	plans, err := LoadAll([]string{good, bad}, core.EvalConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, good, plans[0].SourcePath)
}

func TestLoadAllFailsOnMissingFile(t *testing.T) {
	_, err := LoadAll([]string{filepath.Join(t.TempDir(), "absent.jsonl")}, core.EvalConfig{}, nil)
	require.Error(t, err)
}

// recordingSolver notes which sample IDs it was asked to solve.
type recordingSolver struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSolver) Name() string { return "recording" }

func (s *recordingSolver) Solve(_ context.Context, sample core.Sample) (core.Response, error) {
	s.mu.Lock()
	s.ids = append(s.ids, sample.ID)
	s.mu.Unlock()
	return core.Response{Content: sample.Target, Messages: 2}, nil
}

type passScorer struct{}

func (passScorer) Name() string { return "pass" }

func (passScorer) Score(_ context.Context, _ core.Sample, _ core.Response) (core.Score, error) {
	return core.Score{Value: 1, Max: 1, Passed: true}, nil
}

func TestResumedRunSkipsSuccessAndContinuesNumbering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r1.jsonl")
	writeJournal(t, path, interruptedEntries())

	plan, err := Load(path, core.EvalConfig{})
	require.NoError(t, err)

	solver := &recordingSolver{}
	tasks := make([]*core.TaskPlan, 0, len(plan.Tasks))
	for _, m := range plan.Tasks {
		tasks = append(tasks, &core.TaskPlan{
			Name:    m.Name,
			Solver:  solver,
			Scorer:  passScorer{},
			Samples: Samples(m),
		})
	}
	orch := runner.New(tasks, plan.Config, nil, nil, &evallog.Memory{})
	orch.BaseAttempts = plan.BaseAttempts

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, result.Status)
	require.NotContains(t, solver.ids, "1", "completed sample must not re-run")

	byID := map[string]core.SampleResult{}
	for _, s := range result.Tasks[0].Samples {
		byID[s.Sample.ID] = s
	}
	require.Equal(t, 2, byID["2"].Attempts[0].Number, "numbering continues after the prior attempt")
	require.Equal(t, 1, byID["3"].Attempts[0].Number)
}
