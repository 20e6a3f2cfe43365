package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evalgo/pkg/core"
	"evalgo/pkg/evallog"
)

// gauge tracks peak concurrency of solver calls.
type gauge struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (g *gauge) enter() {
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) exit() { g.current.Add(-1) }

type gaugedSolver struct {
	g     *gauge
	delay time.Duration
	fail  map[string]bool
	mu    sync.Mutex
}

func (s *gaugedSolver) Name() string { return "gauged" }

func (s *gaugedSolver) Solve(ctx context.Context, sample core.Sample) (core.Response, error) {
	s.g.enter()
	defer s.g.exit()
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return core.Response{}, ctx.Err()
	}
	s.mu.Lock()
	shouldFail := s.fail[sample.ID]
	s.mu.Unlock()
	if shouldFail {
		return core.Response{}, fmt.Errorf("scripted failure for %s", sample.ID)
	}
	return core.Response{Content: sample.Target, Messages: 2}, nil
}

func manySamples(n int) []core.Sample {
	out := make([]core.Sample, n)
	for i := range out {
		out[i] = core.Sample{ID: fmt.Sprintf("%d", i+1), Epoch: 1, Input: "in", Target: "out"}
	}
	return out
}

func newTaskScheduler(cfg core.EvalConfig, budget *Budget, rec evallog.Sink) *TaskScheduler {
	return &TaskScheduler{
		Runner:     &SampleRunner{Recorder: rec, Config: cfg},
		Budget:     budget,
		Recorder:   rec,
		MaxSamples: cfg.MaxSamples,
	}
}

func TestTaskBoundsSampleConcurrency(t *testing.T) {
	g := &gauge{}
	cfg := core.EvalConfig{MaxSamples: 2}.Normalized()
	sched := newTaskScheduler(cfg, NewBudget(ResolvePolicy(cfg), 10), &evallog.Memory{})
	p := &core.TaskPlan{
		Name:    "t",
		Solver:  &gaugedSolver{g: g, delay: 10 * time.Millisecond},
		Scorer:  passScorer{},
		Samples: manySamples(10),
	}

	res := sched.Run(context.Background(), p)
	require.Equal(t, core.TaskCompleted, res.Status)
	require.LessOrEqual(t, g.peak.Load(), int32(2))
}

func TestTaskAbortsDispatchOnFirstError(t *testing.T) {
	cfg := core.EvalConfig{MaxSamples: 1}.Normalized()
	mem := &evallog.Memory{}
	sched := newTaskScheduler(cfg, NewBudget(ResolvePolicy(cfg), 5), mem)
	p := &core.TaskPlan{
		Name:    "t",
		Solver:  &gaugedSolver{g: &gauge{}, fail: map[string]bool{"2": true}},
		Scorer:  passScorer{},
		Samples: manySamples(5),
	}

	res := sched.Run(context.Background(), p)
	require.Equal(t, core.TaskFailed, res.Status)
	require.Equal(t, core.SampleSuccess, res.Samples[0].Status)
	require.Equal(t, core.SampleError, res.Samples[1].Status)
	for _, s := range res.Samples[2:] {
		require.Equal(t, core.SampleAbandoned, s.Status, "undispatched samples are abandoned")
	}
}

func TestTaskContinueOnFailFinishesEverything(t *testing.T) {
	cfg := core.EvalConfig{MaxSamples: 1, ContinueOnFail: true}.Normalized()
	sched := newTaskScheduler(cfg, NewBudget(ResolvePolicy(cfg), 5), &evallog.Memory{})
	p := &core.TaskPlan{
		Name:    "t",
		Solver:  &gaugedSolver{g: &gauge{}, fail: map[string]bool{"1": true}},
		Scorer:  passScorer{},
		Samples: manySamples(5),
	}

	res := sched.Run(context.Background(), p)
	require.Equal(t, core.TaskCompleted, res.Status, "dispatch continues under continue_on_fail")
	for _, s := range res.Samples[1:] {
		require.Equal(t, core.SampleSuccess, s.Status)
	}
	require.True(t, sched.Budget.Exceeded(), "the run still fails at completion")
}

func TestTaskNoFailOnErrorNeverAborts(t *testing.T) {
	cfg := core.EvalConfig{MaxSamples: 1, NoFailOnError: true}.Normalized()
	sched := newTaskScheduler(cfg, NewBudget(ResolvePolicy(cfg), 4), &evallog.Memory{})
	p := &core.TaskPlan{
		Name:    "t",
		Solver:  &gaugedSolver{g: &gauge{}, fail: map[string]bool{"1": true, "3": true}},
		Scorer:  passScorer{},
		Samples: manySamples(4),
	}

	res := sched.Run(context.Background(), p)
	require.Equal(t, core.TaskCompleted, res.Status)
	require.Equal(t, 2, res.Errors())
}

func TestTaskAttemptAccountingInvariant(t *testing.T) {
	cfg := core.EvalConfig{MaxSamples: 2, RetryOnError: 1, NoFailOnError: true}.Normalized()
	budget := NewBudget(ResolvePolicy(cfg), 6)
	sched := newTaskScheduler(cfg, budget, &evallog.Memory{})
	p := &core.TaskPlan{
		Name:    "t",
		Solver:  &gaugedSolver{g: &gauge{}, fail: map[string]bool{"2": true, "5": true}},
		Scorer:  passScorer{},
		Samples: manySamples(6),
	}

	res := sched.Run(context.Background(), p)

	total := 0
	for _, s := range res.Samples {
		total += len(s.Attempts)
	}
	errs, attempts := budget.Counts()
	require.Equal(t, total, attempts, "every attempt is recorded exactly once")
	require.LessOrEqual(t, errs, attempts)
}
