package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evalgo/pkg/core"
	"evalgo/pkg/evallog"
)

func runTasks(n, samplesEach int, solver core.Solver) []*core.TaskPlan {
	tasks := make([]*core.TaskPlan, n)
	for i := range tasks {
		tasks[i] = &core.TaskPlan{
			Name:    "task-" + string(rune('a'+i)),
			Solver:  solver,
			Scorer:  passScorer{},
			Samples: manySamples(samplesEach),
		}
	}
	return tasks
}

func TestRunBoundsRealizedParallelism(t *testing.T) {
	g := &gauge{}
	solver := &gaugedSolver{g: g, delay: 10 * time.Millisecond}
	cfg := core.EvalConfig{MaxTasks: 2, MaxSamples: 2}
	orch := New(runTasks(4, 6, solver), cfg, nil, nil, &evallog.Memory{})

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, result.Status)
	require.LessOrEqual(t, g.peak.Load(), int32(4), "at most max_tasks*max_samples samples in flight")
}

func TestNewDefaultsTaskParallelismByBatchSize(t *testing.T) {
	single := New(runTasks(1, 2, nil), core.EvalConfig{}, nil, nil, nil)
	require.Equal(t, 1, single.Config.MaxTasks)

	batch := New(runTasks(4, 2, nil), core.EvalConfig{}, nil, nil, nil)
	require.Equal(t, core.DefaultBatchMaxTasks, batch.Config.MaxTasks)

	capped := New(runTasks(4, 2, nil), core.EvalConfig{MaxTasks: 2}, nil, nil, nil)
	require.Equal(t, 2, capped.Config.MaxTasks)
}

func TestRunTimeoutThenRetryScenario(t *testing.T) {
	// Four samples, two at a time; sample 3's first attempt times out,
	// the retry succeeds; the run completes clean.
	solver := &timeoutOnceSolver{failID: "3"}
	cfg := core.EvalConfig{MaxSamples: 2, RetryOnError: 1}
	mem := &evallog.Memory{}
	orch := New([]*core.TaskPlan{{
		Name:    "t",
		Solver:  solver,
		Scorer:  passScorer{},
		Samples: manySamples(4),
	}}, cfg, nil, nil, mem)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, result.Status)
	require.Zero(t, result.Errors())
	require.Equal(t, 0, ExitCode(result))

	var third core.SampleResult
	for _, s := range result.Tasks[0].Samples {
		if s.Sample.ID == "3" {
			third = s
		}
	}
	require.Len(t, third.Attempts, 2)
	require.Equal(t, core.OutcomeTimeout, third.Attempts[0].Outcome)
	require.Equal(t, core.OutcomeSuccess, third.Attempts[1].Outcome)
}

func TestRunFailsAtCompletionUnderContinueOnFail(t *testing.T) {
	solver := &gaugedSolver{g: &gauge{}, fail: map[string]bool{"1": true}}
	cfg := core.EvalConfig{MaxSamples: 1, ContinueOnFail: true}
	orch := New(runTasks(1, 4, solver), cfg, nil, nil, &evallog.Memory{})

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.RunFailed, result.Status)
	require.Equal(t, 1, ExitCode(result))

	// Everything else still ran.
	for _, s := range result.Tasks[0].Samples[1:] {
		require.Equal(t, core.SampleSuccess, s.Status)
	}
}

func TestRunCompletedWithToleratedErrorsExitsDistinctly(t *testing.T) {
	solver := &gaugedSolver{g: &gauge{}, fail: map[string]bool{"2": true}}
	cfg := core.EvalConfig{MaxSamples: 1, NoFailOnError: true}
	orch := New(runTasks(1, 3, solver), cfg, nil, nil, &evallog.Memory{})

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, result.Status)
	require.Equal(t, 1, result.Errors())
	require.Equal(t, 2, ExitCode(result), "partial failure is distinguishable from full success")
}

func TestRunCancellation(t *testing.T) {
	solver := &gaugedSolver{g: &gauge{}, delay: time.Second}
	cfg := core.EvalConfig{MaxSamples: 2}
	orch := New(runTasks(1, 4, solver), cfg, nil, nil, &evallog.Memory{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	done := make(chan core.RunResult, 1)
	go func() {
		result, _ := orch.Run(ctx)
		done <- result
	}()

	select {
	case result := <-done:
		require.Equal(t, core.RunCanceled, result.Status)
		require.Equal(t, 130, ExitCode(result))
	case <-time.After(5 * time.Second):
		t.Fatal("run did not settle within the grace period after cancellation")
	}
}

func TestRunJournalIsResumablePrefix(t *testing.T) {
	solver := &gaugedSolver{g: &gauge{}, fail: map[string]bool{"2": true}}
	cfg := core.EvalConfig{MaxSamples: 1, NoFailOnError: true}
	mem := &evallog.Memory{}
	orch := New(runTasks(1, 3, solver), cfg, nil, nil, mem)

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	state, err := evallog.Fold(mem.Entries())
	require.NoError(t, err)
	require.True(t, state.Finished)
	require.Equal(t, core.RunCompleted, state.Status)

	task := state.Tasks[orch.Tasks[0].Name]
	require.NotNil(t, task)
	require.Equal(t, []string{"2/1"}, task.Incomplete())
}

// timeoutOnceSolver times out the first attempt for one sample ID.
type timeoutOnceSolver struct {
	failID string
	mu     sync.Mutex
	seen   map[string]bool
}

func (s *timeoutOnceSolver) Name() string { return "timeout-once" }

func (s *timeoutOnceSolver) Solve(_ context.Context, sample core.Sample) (core.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if sample.ID == s.failID && !s.seen[sample.ID] {
		s.seen[sample.ID] = true
		return core.Response{}, core.ErrAttemptTimeout
	}
	return core.Response{Content: sample.Target, Messages: 2}, nil
}
