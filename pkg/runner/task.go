package runner

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evalgo/pkg/core"
	"evalgo/pkg/evallog"
)

// TaskScheduler dispatches one task's samples to the sample runner under
// the sample concurrency cap and reports each terminated sample to the
// error policy engine. When the engine signals abort, dispatch stops:
// already-running samples finish, undispatched ones are abandoned.
type TaskScheduler struct {
	Runner     *SampleRunner
	Budget     *Budget
	Recorder   evallog.Sink
	Logger     *zap.Logger
	MaxSamples int

	// OnSample, if set, observes every terminated sample (progress
	// display).
	OnSample func(core.SampleResult)
}

// Run executes all of the task's samples and returns the task result.
func (t *TaskScheduler) Run(ctx context.Context, plan *core.TaskPlan) core.TaskResult {
	logger := t.logger().With(zap.String("task", plan.Name))
	started := time.Now()
	t.emit(evallog.Entry{Kind: evallog.KindTaskStart, Time: started, Task: plan.Name})

	results := make([]core.SampleResult, len(plan.Samples))

	g := new(errgroup.Group)
	if t.MaxSamples > 0 {
		g.SetLimit(t.MaxSamples)
	}

	var aborted atomic.Bool
	for i, s := range plan.Samples {
		g.Go(func() error {
			// The abort check runs when a dispatch slot frees, not
			// when the sample was queued: a budget tripped by an
			// earlier sample stops everything still waiting.
			if t.Budget.ShouldAbort() {
				aborted.Store(true)
				t.abandon(plan, s, &results[i])
				return nil
			}
			if ctx.Err() != nil {
				t.abandon(plan, s, &results[i])
				return nil
			}
			res := t.Runner.Run(ctx, plan, s)
			results[i] = res
			t.account(res)
			if t.OnSample != nil {
				t.OnSample(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	// An abort signaled while the last samples were in flight still
	// fails the task.
	if t.Budget.ShouldAbort() {
		aborted.Store(true)
	}

	status := core.TaskCompleted
	switch {
	case ctx.Err() != nil:
		status = core.TaskCanceled
	case aborted.Load():
		status = core.TaskFailed
	}

	result := core.TaskResult{
		Task:        plan.Name,
		Status:      status,
		Samples:     results,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	t.emit(evallog.Entry{
		Kind:   evallog.KindTaskEnd,
		Time:   result.CompletedAt,
		Task:   plan.Name,
		Status: string(status),
	})
	logger.Info("task finished",
		zap.String("status", string(status)),
		zap.Int("samples", len(results)),
		zap.Int("errors", result.Errors()))
	return result
}

// account reports a terminated sample's attempts to the error budget.
// Only the final attempt is terminal for the sample.
func (t *TaskScheduler) account(res core.SampleResult) {
	for i, attempt := range res.Attempts {
		t.Budget.Record(attempt.Outcome, i == len(res.Attempts)-1)
	}
}

// abandon records a sample that will never be dispatched.
func (t *TaskScheduler) abandon(plan *core.TaskPlan, s core.Sample, out *core.SampleResult) {
	*out = core.SampleResult{Sample: s, Status: core.SampleAbandoned}
	t.emit(evallog.Entry{
		Kind:     evallog.KindSampleEnd,
		Time:     time.Now(),
		Task:     plan.Name,
		SampleID: s.ID,
		Epoch:    s.Epoch,
		Status:   string(core.SampleAbandoned),
	})
}

func (t *TaskScheduler) emit(e evallog.Entry) {
	if t.Recorder == nil {
		return
	}
	if err := t.Recorder.Append(e); err != nil {
		t.logger().Warn("log append failed", zap.Error(err))
	}
}

func (t *TaskScheduler) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}
