package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evalgo/pkg/core"
	"evalgo/pkg/evallog"
	"evalgo/pkg/pool"
	"evalgo/pkg/resume"
	"evalgo/pkg/runner"
)

func newRetryCommand() *cobra.Command {
	var (
		provider     string
		modelName    string
		mockResponse string
		format       string
		outputPath   string
		logDir       string
		overrides    core.EvalConfig
	)

	cmd := &cobra.Command{
		Use:   "retry <journal>...",
		Short: "Resume interrupted runs from their journals",
		Long: "Retry folds each journal back into run state, re-queues every sample " +
			"that did not succeed, and continues attempt numbering where the prior " +
			"run stopped. Completed samples are never re-executed. Corrupt journals " +
			"are skipped. The recorded dataset and solver/scorer bindings are kept " +
			"as logged and cannot be overridden.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			plans, err := resume.LoadAll(args, overrides, logger)
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				return errors.New("no readable journals to resume")
			}

			logDirResolved := resolveString(logDir, appConfig.LogDir)
			if logDirResolved == "" {
				logDirResolved = "./logs"
			}

			worst := 0
			for _, plan := range plans {
				if plan.Complete() {
					logger.Info("nothing to resume",
						zap.String("run_id", plan.RunID),
						zap.String("journal", plan.SourcePath))
					continue
				}
				code, err := runResumed(cmd, ctx, plan, logDirResolved, provider, modelName, mockResponse, format, outputPath)
				if err != nil {
					return err
				}
				if code > worst {
					worst = code
				}
			}
			if worst != 0 {
				return &ExitError{Code: worst}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "model provider (mock, openai, anthropic, ollama)")
	cmd.Flags().StringVar(&modelName, "model", "", "model name")
	cmd.Flags().StringVar(&mockResponse, "mock-response", "", "fixed mock response")
	cmd.Flags().StringVar(&format, "format", "", "report format (table, json, csv)")
	cmd.Flags().StringVar(&outputPath, "output", "", "report output path (default stdout)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "directory for run journals and archives")

	addRunFlags(cmd, &overrides)

	return cmd
}

func runResumed(cmd *cobra.Command, ctx context.Context, plan *resume.Plan, logDir, provider, modelName, mockResponse, format, outputPath string) (int, error) {
	cfg := plan.Config
	clients := pool.NewClientPool(cfg.MaxConnections, cfg.MaxRetries, logger)
	taskModel, err := buildModel(
		resolveString(provider, appConfig.Provider),
		resolveString(modelName, appConfig.Model.Name),
		resolveString(mockResponse, appConfig.Model.MockResponse),
		clients, cfg.AttemptTimeout,
	)
	if err != nil {
		return 0, err
	}

	// Solver and scorer bindings are immutable on resume: they come from
	// the recorded manifest, with config filling in only when the
	// manifest left them blank.
	tasks := make([]*core.TaskPlan, 0, len(plan.Tasks))
	for _, manifest := range plan.Tasks {
		samples := resume.Samples(manifest)
		sv, err := buildSolver(resolveString(manifest.Solver, appConfig.Solver), taskModel, core.GenerateOptions{}, "", 0, samples)
		if err != nil {
			return 0, err
		}
		sc, err := buildScorer(resolveString(manifest.Scorer, appConfig.Scorer), taskModel)
		if err != nil {
			return 0, err
		}
		tasks = append(tasks, &core.TaskPlan{
			Name:    manifest.Name,
			Samples: samples,
			Solver:  sv,
			Scorer:  sc,
			Sandbox: manifest.Sandbox,
			Args:    manifest.Args,
		})
	}

	orch := runner.New(tasks, cfg, clients, logger, nil)
	orch.RunID = plan.RunID
	orch.BaseAttempts = plan.BaseAttempts

	journal, err := openJournal(logDir, orch.RunID, cfg)
	if err != nil {
		return 0, err
	}
	orch.Recorder = journal

	progress := newProgressBar(progressWriter(cmd), plan.Remaining)
	orch.OnSample = func(core.SampleResult) {
		progress.Advance()
	}

	logger.Info("resuming run",
		zap.String("run_id", plan.RunID),
		zap.Int("samples", plan.Remaining))

	result, runErr := orch.Run(ctx)
	if err := journal.Close(); err != nil {
		logger.Warn("closing journal", zap.Error(err))
	}
	if runErr != nil {
		return 0, runErr
	}

	if _, err := evallog.WriteArchive(logDir, result, cfg); err != nil {
		logger.Warn("writing archive", zap.Error(err))
	}
	if err := report(result, resolveString(format, appConfig.Format), outputPath); err != nil {
		return 0, err
	}
	return runner.ExitCode(result), nil
}
