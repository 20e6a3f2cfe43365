package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evalgo/pkg/core"
	"evalgo/pkg/evallog"
	"evalgo/pkg/pool"
	"evalgo/pkg/sandbox"
)

// Orchestrator executes one run: all tasks under the task cap, sharing
// one client pool, one set of resource pools, one error budget, and one
// log.
type Orchestrator struct {
	RunID     string
	Tasks     []*core.TaskPlan
	Config    core.EvalConfig
	Clients   *pool.ClientPool
	Resources *pool.Resources
	Sandboxes *sandbox.Manager
	Recorder  evallog.Sink
	Logger    *zap.Logger

	// BaseAttempts carries prior attempt counts per sample key when the
	// run is a resume.
	BaseAttempts map[string]int

	// OnSample observes every terminated sample across all tasks.
	OnSample func(core.SampleResult)
}

// New assembles an orchestrator around an existing client pool (the
// same pool whose PooledModel the task solvers were built with), with
// freshly constructed resource pools.
func New(tasks []*core.TaskPlan, cfg core.EvalConfig, clients *pool.ClientPool, logger *zap.Logger, recorder evallog.Sink) *Orchestrator {
	// Batch runs parallelize tasks by default; a single task has no
	// fan-out to widen.
	if cfg.MaxTasks <= 0 && len(tasks) > 1 {
		cfg.MaxTasks = core.DefaultBatchMaxTasks
	}
	cfg = cfg.Normalized()
	if logger == nil {
		logger = zap.NewNop()
	}
	if clients == nil {
		clients = pool.NewClientPool(cfg.MaxConnections, cfg.MaxRetries, logger)
	}
	resources := pool.NewResources(cfg.MaxSubprocesses, cfg.MaxSandboxes)
	return &Orchestrator{
		RunID:     uuid.NewString(),
		Tasks:     tasks,
		Config:    cfg,
		Clients:   clients,
		Resources: resources,
		Sandboxes: sandbox.NewManager(&sandbox.LocalRuntime{}, resources, cfg.NoSandboxCleanup, logger),
		Recorder:  recorder,
		Logger:    logger,
	}
}

// TotalSamples counts planned samples across all tasks.
func (o *Orchestrator) TotalSamples() int {
	n := 0
	for _, t := range o.Tasks {
		n += len(t.Samples)
	}
	return n
}

// Manifest describes the run's tasks for the run_start entry.
func (o *Orchestrator) Manifest() []evallog.TaskManifest {
	manifests := make([]evallog.TaskManifest, 0, len(o.Tasks))
	for _, t := range o.Tasks {
		m := evallog.TaskManifest{
			Name:    t.Name,
			Solver:  t.Solver.Name(),
			Scorer:  t.Scorer.Name(),
			Sandbox: t.Sandbox,
			Args:    t.Args,
		}
		for _, s := range t.Samples {
			m.Samples = append(m.Samples, evallog.SampleRef{
				ID:       s.ID,
				Epoch:    s.Epoch,
				Input:    s.Input,
				Target:   s.Target,
				Metadata: s.Metadata,
			})
		}
		manifests = append(manifests, m)
	}
	return manifests
}

// Run executes the whole run and returns its terminal result. The
// returned error reports infrastructure faults only; evaluation errors
// are captured in the result's status.
func (o *Orchestrator) Run(ctx context.Context) (core.RunResult, error) {
	cfg := o.Config.Normalized()
	logger := o.logger()
	started := time.Now()

	budget := NewBudget(ResolvePolicy(cfg), o.TotalSamples())

	configCopy := cfg
	o.emit(evallog.Entry{
		Kind:   evallog.KindRunStart,
		Time:   started,
		RunID:  o.RunID,
		Config: &configCopy,
		Tasks:  o.Manifest(),
	})
	logger.Info("run started",
		zap.String("run_id", o.RunID),
		zap.Int("tasks", len(o.Tasks)),
		zap.Int("samples", o.TotalSamples()))

	sampleRunner := &SampleRunner{
		Sandboxes:    o.Sandboxes,
		Recorder:     o.Recorder,
		Logger:       logger,
		Config:       cfg,
		BaseAttempts: o.BaseAttempts,
	}

	results := make([]core.TaskResult, len(o.Tasks))
	g := new(errgroup.Group)
	g.SetLimit(cfg.MaxTasks)
	for i, plan := range o.Tasks {
		scheduler := &TaskScheduler{
			Runner:     sampleRunner,
			Budget:     budget,
			Recorder:   o.Recorder,
			Logger:     logger,
			MaxSamples: cfg.MaxSamples,
			OnSample:   o.OnSample,
		}
		g.Go(func() error {
			results[i] = scheduler.Run(ctx, plan)
			return nil
		})
	}
	_ = g.Wait()

	status := core.RunCompleted
	switch {
	case ctx.Err() != nil:
		status = core.RunCanceled
	case budget.Exceeded():
		// Includes runs that continued past the threshold under
		// continue_on_fail: they fail at completion.
		status = core.RunFailed
	}

	// Sandboxes whose cleanup was deferred are torn down now, outside
	// the (possibly canceled) run context.
	if o.Sandboxes != nil {
		if err := o.Sandboxes.CleanupDeferred(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("deferred sandbox cleanup failed", zap.Error(err))
		}
	}

	usage := map[string]core.TokenUsage{}
	if o.Clients != nil {
		for provider, u := range o.Clients.Usage() {
			usage[provider] = u.Tokens
		}
	}

	result := core.RunResult{
		RunID:       o.RunID,
		Status:      status,
		Tasks:       results,
		Usage:       usage,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}

	errs, attempts := budget.Counts()
	o.emit(evallog.Entry{
		Kind:   evallog.KindRunEnd,
		Time:   result.CompletedAt,
		RunID:  o.RunID,
		Status: string(status),
	})
	logger.Info("run finished",
		zap.String("run_id", o.RunID),
		zap.String("status", string(status)),
		zap.Int("errors", errs),
		zap.Int("attempts", attempts))
	return result, nil
}

// ExitCode maps a run result to the process exit status: 0 for a clean
// run, 2 for completion with errors within tolerance, 1 for failure,
// 130 for cancellation.
func ExitCode(result core.RunResult) int {
	switch result.Status {
	case core.RunCanceled:
		return 130
	case core.RunFailed:
		return 1
	}
	if result.Errors() > 0 {
		return 2
	}
	return 0
}

func (o *Orchestrator) emit(e evallog.Entry) {
	if o.Recorder == nil {
		return
	}
	if err := o.Recorder.Append(e); err != nil {
		o.logger().Warn("log append failed", zap.Error(err))
	}
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
