package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"evalgo/pkg/core"
	"evalgo/pkg/evallog"
	"evalgo/pkg/sandbox"
)

// SampleRunner executes one sample through its solver and scorer,
// enforcing sample limits and the sample-level retry budget. Attempts of
// one sample are strictly sequential; every attempt transition is
// emitted to the recorder synchronously with the state change.
type SampleRunner struct {
	Sandboxes *sandbox.Manager
	Recorder  evallog.Sink
	Logger    *zap.Logger
	Config    core.EvalConfig

	// BaseAttempts carries attempt numbering from a resumed run, keyed
	// by sample key, so fresh attempts extend the prior history.
	BaseAttempts map[string]int
}

// Run executes the sample until it reaches a terminal status.
func (r *SampleRunner) Run(ctx context.Context, task *core.TaskPlan, s core.Sample) core.SampleResult {
	logger := r.logger().With(
		zap.String("task", task.Name),
		zap.String("sample", s.ID),
		zap.Int("epoch", s.Epoch))

	limits := r.Config.Limits
	clock := core.NewWorkClock(limits.Working)
	ctx = core.WithWorkClock(ctx, clock)

	started := time.Now()
	if limits.Time > 0 {
		// The time limit spans all of the sample's attempts; the
		// cause distinguishes it from the per-attempt timeout.
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadlineCause(ctx, started.Add(limits.Time), &core.LimitError{Kind: core.LimitTime})
		defer cancel()
	}

	result := core.SampleResult{Sample: s, Status: core.SampleRunning}
	r.emit(evallog.Entry{
		Kind:     evallog.KindSampleStart,
		Time:     started,
		Task:     task.Name,
		SampleID: s.ID,
		Epoch:    s.Epoch,
		Input:    s.Input,
		Target:   s.Target,
	})

	var env *sandbox.Env
	defer func() {
		if env != nil {
			env.Release(context.WithoutCancel(ctx))
		}
	}()

	base := r.BaseAttempts[s.Key(task.Name)]
	maxAttempts := 1 + r.Config.RetryOnError
	status := core.SampleError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		number := base + attempt
		attemptStart := time.Now()
		r.emit(evallog.Entry{
			Kind:     evallog.KindAttemptStart,
			Time:     attemptStart,
			Task:     task.Name,
			SampleID: s.ID,
			Epoch:    s.Epoch,
			Attempt:  number,
		})

		resp, score, err := r.runAttempt(ctx, task, s, &env)
		status = r.settle(ctx, task, s, &result, number, resp, err, attemptStart)
		if status == core.SampleSuccess {
			result.Score = score
			break
		}
		if status == core.SampleAbandoned {
			break
		}
		if attempt < maxAttempts {
			logger.Debug("sample errored, retrying",
				zap.Int("attempt", number),
				zap.String("outcome", string(result.Attempts[len(result.Attempts)-1].Outcome)))
			continue
		}
		// Retry budget exhausted: the last error is terminal.
		status = core.SampleError
		result.Error = result.Attempts[len(result.Attempts)-1].Error
	}

	return r.finish(task, s, result, started, clock, status)
}

// runAttempt runs one solver/scorer pass, starting the task's sandbox
// first if one is required and not yet running. Message and token limits
// apply within the attempt.
func (r *SampleRunner) runAttempt(ctx context.Context, task *core.TaskPlan, s core.Sample, env **sandbox.Env) (core.Response, core.Score, error) {
	if ctx.Err() != nil {
		return core.Response{}, core.Score{}, context.Cause(ctx)
	}

	if task.Sandbox != nil && r.Sandboxes != nil && *env == nil {
		acquired, err := r.Sandboxes.Acquire(ctx, *task.Sandbox)
		if err != nil {
			return core.Response{}, core.Score{}, err
		}
		*env = acquired
	}

	resp, err := task.Solver.Solve(ctx, s)
	if err != nil {
		return resp, core.Score{}, err
	}

	limits := r.Config.Limits
	if limits.Messages > 0 && resp.Messages > limits.Messages {
		return resp, core.Score{}, &core.LimitError{Kind: core.LimitMessages}
	}
	if limits.Tokens > 0 && resp.TokenUsage.TotalTokens > limits.Tokens {
		return resp, core.Score{}, &core.LimitError{Kind: core.LimitTokens}
	}
	if clock := core.WorkClockFrom(ctx); clock != nil && clock.Exceeded() {
		return resp, core.Score{}, &core.LimitError{Kind: core.LimitWorking}
	}

	score, err := task.Scorer.Score(ctx, s, resp)
	if err != nil {
		return resp, core.Score{}, err
	}
	return resp, score, nil
}

// settle classifies an attempt's outcome, appends it to the history, and
// emits the attempt record. Returns the sample's resulting status, which
// is SampleRetrying for any errored outcome (the caller applies the
// retry budget).
func (r *SampleRunner) settle(ctx context.Context, task *core.TaskPlan, s core.Sample, result *core.SampleResult, number int, resp core.Response, err error, attemptStart time.Time) core.SampleStatus {
	outcome, limit := core.ClassifyOutcome(ctx, err)

	attempt := core.Attempt{
		Number:      number,
		StartedAt:   attemptStart,
		CompletedAt: time.Now(),
		Outcome:     outcome,
		Limit:       limit,
		Messages:    resp.Messages,
		Usage:       resp.TokenUsage,
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	result.Attempts = append(result.Attempts, attempt)

	usage := resp.TokenUsage
	r.emit(evallog.Entry{
		Kind:     evallog.KindAttemptEnd,
		Time:     attempt.CompletedAt,
		Task:     task.Name,
		SampleID: s.ID,
		Epoch:    s.Epoch,
		Attempt:  number,
		Outcome:  outcome,
		Limit:    limit,
		Error:    attempt.Error,
		Messages: resp.Messages,
		Usage:    &usage,
	})

	switch outcome {
	case core.OutcomeSuccess:
		result.Response = resp
		return core.SampleSuccess
	case core.OutcomeCanceled:
		return core.SampleAbandoned
	default:
		return core.SampleRetrying
	}
}

// finish stamps the terminal status and emits the sample's terminal
// record. Once emitted, the sample's last attempt is immutable.
func (r *SampleRunner) finish(task *core.TaskPlan, s core.Sample, result core.SampleResult, started time.Time, clock *core.WorkClock, status core.SampleStatus) core.SampleResult {
	result.Status = status
	result.TotalTime = time.Since(started)
	result.WorkingTime = clock.Total()

	entry := evallog.Entry{
		Kind:        evallog.KindSampleEnd,
		Time:        time.Now(),
		Task:        task.Name,
		SampleID:    s.ID,
		Epoch:       s.Epoch,
		Status:      string(status),
		Error:       result.Error,
		Output:      result.Response.Content,
		TotalTime:   result.TotalTime.Seconds(),
		WorkingTime: result.WorkingTime.Seconds(),
	}
	if status == core.SampleSuccess {
		score := result.Score
		entry.Score = &score
	}
	r.emit(entry)
	return result
}

func (r *SampleRunner) emit(e evallog.Entry) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.Append(e); err != nil {
		r.logger().Warn("log append failed", zap.Error(err))
	}
}

func (r *SampleRunner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
