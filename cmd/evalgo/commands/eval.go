package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evalgo/pkg/cache"
	"evalgo/pkg/core"
	"evalgo/pkg/dataset"
	"evalgo/pkg/evallog"
	"evalgo/pkg/model"
	"evalgo/pkg/pool"
	"evalgo/pkg/reporter"
	"evalgo/pkg/runner"
	"evalgo/pkg/scorer"
	"evalgo/pkg/solver"
)

func newEvalCommand() *cobra.Command {
	var (
		datasetPath    string
		taskName       string
		solverName     string
		scorerName     string
		provider       string
		modelName      string
		mockResponse   string
		promptTemplate string
		fewshotCount   int
		temperature    float64
		topP           float64
		maxTokens      int
		sandboxName    string
		format         string
		outputPath     string
		logDir         string
		noArchive      bool
		useCache       bool
		cacheDir       string
		run            core.EvalConfig
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run an evaluation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := resolveString(datasetPath, appConfig.Dataset)
			if path == "" {
				return errors.New("dataset path is required")
			}

			cfg := appConfig.Eval.Override(run)
			if run.Epochs > 0 {
				cfg.Epochs = run.Epochs
			}
			if run.Limits != (core.Limits{}) {
				cfg.Limits = run.Limits
			}
			cfg = cfg.Normalized()

			logDirResolved := resolveString(logDir, appConfig.LogDir)
			if logDirResolved == "" {
				logDirResolved = "./logs"
			}

			ds := dataset.NewFileDataset(path)
			samples, err := dataset.Collect(ctx, ds)
			if err != nil {
				return err
			}
			samples = core.ExpandEpochs(samples, cfg.Epochs)

			clients := pool.NewClientPool(cfg.MaxConnections, cfg.MaxRetries, logger)
			taskModel, err := buildModel(
				resolveString(provider, appConfig.Provider),
				resolveString(modelName, appConfig.Model.Name),
				resolveString(mockResponse, appConfig.Model.MockResponse),
				clients, cfg.AttemptTimeout,
			)
			if err != nil {
				return err
			}
			if useCache {
				c, err := cache.New(resolveString(cacheDir, appConfig.CacheDir), 0)
				if err != nil {
					return err
				}
				taskModel = model.CachedModel{Model: taskModel, Cache: c}
			}

			opts := core.GenerateOptions{
				Temperature: float32(temperature),
				MaxTokens:   maxTokens,
				TopP:        float32(topP),
			}
			sv, err := buildSolver(resolveString(solverName, appConfig.Solver), taskModel, opts, promptTemplate, fewshotCount, samples)
			if err != nil {
				return err
			}
			sc, err := buildScorer(resolveString(scorerName, appConfig.Scorer), taskModel)
			if err != nil {
				return err
			}

			task := &core.TaskPlan{
				Name:    resolveString(taskName, filepath.Base(path)),
				Samples: samples,
				Solver:  sv,
				Scorer:  sc,
				Sandbox: parseSandboxSpec(sandboxName),
			}

			orch := runner.New([]*core.TaskPlan{task}, cfg, clients, logger, nil)
			journal, err := openJournal(logDirResolved, orch.RunID, cfg)
			if err != nil {
				return err
			}
			orch.Recorder = journal

			progress := newProgressBar(progressWriter(cmd), orch.TotalSamples())
			orch.OnSample = func(core.SampleResult) {
				progress.Advance()
			}

			result, runErr := orch.Run(ctx)
			if err := journal.Close(); err != nil {
				logger.Warn("closing journal", zap.Error(err))
			}
			if runErr != nil {
				return runErr
			}

			if !noArchive {
				archivePath, err := evallog.WriteArchive(logDirResolved, result, cfg)
				if err != nil {
					logger.Warn("writing archive", zap.Error(err))
				} else {
					logger.Info("archive written", zap.String("path", archivePath))
				}
			}

			if err := report(result, resolveString(format, appConfig.Format), resolveString(outputPath, appConfig.Output)); err != nil {
				return err
			}

			if code := runner.ExitCode(result); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", "", "path to dataset file (json, jsonl, csv)")
	cmd.Flags().StringVar(&taskName, "task", "", "task name (defaults to the dataset file name)")
	cmd.Flags().StringVar(&solverName, "solver", "", "solver name (basic, chain-of-thought, cot, few-shot, self-consistency); comma-separated for chaining")
	cmd.Flags().StringVar(&scorerName, "scorer", "", "scorer name (exact, includes, numeric, model-graded)")
	cmd.Flags().StringVar(&provider, "provider", "", "model provider (mock, openai, anthropic, ollama)")
	cmd.Flags().StringVar(&modelName, "model", "", "model name")
	cmd.Flags().StringVar(&mockResponse, "mock-response", "", "fixed mock response")
	cmd.Flags().StringVar(&promptTemplate, "prompt-template", "", "prompt template with {{input}} placeholder")
	cmd.Flags().IntVar(&fewshotCount, "fewshot", 0, "number of few-shot examples")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "model temperature (0 = default)")
	cmd.Flags().Float64Var(&topP, "top-p", 0, "nucleus sampling top-p (0 = default)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "max completion tokens (0 = solver default)")
	cmd.Flags().StringVar(&sandboxName, "sandbox", "", "sandbox environment as provider[:image], e.g. local or docker:python:3.12")
	cmd.Flags().StringVar(&format, "format", "", "report format (table, json, csv)")
	cmd.Flags().StringVar(&outputPath, "output", "", "report output path (default stdout)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "directory for run journals and archives")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "skip writing the zip archive after the run")
	cmd.Flags().BoolVar(&useCache, "cache", false, "cache model responses on disk")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "cache directory")

	addRunFlags(cmd, &run)

	return cmd
}

// addRunFlags binds the run option surface shared by eval and retry.
func addRunFlags(cmd *cobra.Command, run *core.EvalConfig) {
	cmd.Flags().IntVar(&run.MaxSamples, "max-samples", 0, "max samples in flight per task (0 = unlimited)")
	cmd.Flags().IntVar(&run.MaxTasks, "max-tasks", 0, "max tasks in flight")
	cmd.Flags().IntVar(&run.MaxConnections, "max-connections", 0, "max concurrent model API calls")
	cmd.Flags().IntVar(&run.MaxSubprocesses, "max-subprocesses", 0, "max concurrent subprocesses")
	cmd.Flags().IntVar(&run.MaxSandboxes, "max-sandboxes", 0, "max concurrent sandboxes per provider")
	cmd.Flags().Float64Var(&run.FailOnError, "fail-on-error", 0, "tolerated errors: proportion in (0,1], count above 1, 0 aborts on first")
	cmd.Flags().BoolVar(&run.NoFailOnError, "no-fail-on-error", false, "never fail the run on sample errors")
	cmd.Flags().BoolVar(&run.ContinueOnFail, "continue-on-fail", false, "run every sample even after the error threshold trips")
	cmd.Flags().BoolVar(&run.CountRetriedErrors, "count-retried-errors", false, "count errors from retried attempts against the threshold")
	cmd.Flags().IntVar(&run.RetryOnError, "retry-on-error", 0, "sample retry budget after an errored attempt")
	cmd.Flags().IntVar(&run.MaxRetries, "max-retries", 0, "transport retry cap inside the client pool (0 = unlimited)")
	cmd.Flags().DurationVar(&run.AttemptTimeout, "attempt-timeout", 0, "timeout for a single model call")
	cmd.Flags().IntVar(&run.LogBuffer, "log-buffer", 0, "journal entries held before a durable flush")
	cmd.Flags().StringVar(&run.LogShared, "log-shared", "", "directory receiving periodic journal copies")
	cmd.Flags().DurationVar(&run.LogSharedInterval, "log-shared-interval", 0, "interval between shared journal copies")
	cmd.Flags().BoolVar(&run.LogImages, "log-images", false, "include image payloads in the journal")
	cmd.Flags().BoolVar(&run.NoLogSamples, "no-log-samples", false, "strip sample bodies from the journal")
	cmd.Flags().BoolVar(&run.NoLogRealtime, "no-log-realtime", false, "record only terminal summaries in the journal")
	cmd.Flags().BoolVar(&run.NoSandboxCleanup, "no-sandbox-cleanup", false, "defer sandbox teardown until the run ends")
	cmd.Flags().IntVar(&run.Epochs, "epochs", 0, "times to run each sample")
	cmd.Flags().IntVar(&run.Limits.Messages, "message-limit", 0, "max messages per attempt")
	cmd.Flags().IntVar(&run.Limits.Tokens, "token-limit", 0, "max total tokens per attempt")
	cmd.Flags().DurationVar(&run.Limits.Time, "time-limit", 0, "wall clock limit per sample, spanning retries")
	cmd.Flags().DurationVar(&run.Limits.Working, "working-limit", 0, "working time limit per sample, excluding queueing")
}

// parseSandboxSpec reads a provider[:image] flag value. The image part
// may itself contain colons, as container tags do.
func parseSandboxSpec(s string) *core.SandboxSpec {
	if s == "" {
		return nil
	}
	provider, image, _ := strings.Cut(s, ":")
	return &core.SandboxSpec{Provider: provider, Image: image}
}

func openJournal(dir, runID string, cfg core.EvalConfig) (*evallog.Journal, error) {
	return evallog.Create(filepath.Join(dir, evallog.JournalFileName(runID, time.Now())), evallog.Options{
		BufferSize:     cfg.LogBuffer,
		Realtime:       !cfg.NoLogRealtime,
		LogSamples:     !cfg.NoLogSamples,
		LogImages:      cfg.LogImages,
		SharedDir:      cfg.LogShared,
		SharedInterval: cfg.LogSharedInterval,
	})
}

func buildModel(provider, modelName, mockResponse string, clients *pool.ClientPool, attemptTimeout time.Duration) (core.Model, error) {
	if provider == "" {
		provider = "mock"
	}
	var base core.Model
	switch provider {
	case "mock":
		base = &model.MockModel{NameValue: modelName, ResponseText: mockResponse}
	case "openai":
		m, err := model.NewOpenAIModelFromEnv(modelName)
		if err != nil {
			return nil, err
		}
		base = m
	case "anthropic":
		m, err := model.NewAnthropicModelFromEnv(modelName)
		if err != nil {
			return nil, err
		}
		if appConfig.Model.MaxTokens > 0 {
			m.MaxTokens = appConfig.Model.MaxTokens
		}
		base = m
	case "ollama":
		m, err := model.NewOllamaModel(appConfig.Ollama.BaseURL, modelName)
		if err != nil {
			return nil, err
		}
		base = m
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	return pool.PooledModel{Model: base, Pool: clients, AttemptTimeout: attemptTimeout}, nil
}

func buildScorer(name string, judge core.Model) (core.Scorer, error) {
	switch name {
	case "", "exact":
		return scorer.ExactMatch{CaseSensitive: false, NormalizeWhitespace: true}, nil
	case "includes":
		return scorer.Includes{CaseSensitive: false, NormalizeWhitespace: true}, nil
	case "numeric":
		return scorer.NumericMatch{}, nil
	case "model-graded":
		return scorer.ModelGraded{Judge: judge}, nil
	default:
		return nil, fmt.Errorf("unknown scorer: %s", name)
	}
}

func buildSolver(name string, m core.Model, opts core.GenerateOptions, promptTemplate string, fewshotCount int, samples []core.Sample) (core.Solver, error) {
	if name == "" {
		if fewshotCount > 0 {
			name = "few-shot"
		} else {
			name = "basic"
		}
	}

	parts := strings.Split(name, ",")
	if len(parts) > 1 {
		solvers := make([]core.Solver, 0, len(parts))
		for _, part := range parts {
			s, err := buildSingleSolver(strings.TrimSpace(part), m, opts, promptTemplate, fewshotCount, samples)
			if err != nil {
				return nil, err
			}
			solvers = append(solvers, s)
		}
		return solver.PipelineSolver{Solvers: solvers}, nil
	}
	return buildSingleSolver(name, m, opts, promptTemplate, fewshotCount, samples)
}

func buildSingleSolver(name string, m core.Model, opts core.GenerateOptions, promptTemplate string, fewshotCount int, samples []core.Sample) (core.Solver, error) {
	switch name {
	case "basic":
		return solver.BasicSolver{
			Model:          m,
			Options:        opts,
			PromptTemplate: promptTemplate,
		}, nil
	case "chain-of-thought", "cot":
		return solver.ChainOfThoughtSolver{
			Model:          m,
			Options:        opts,
			PromptTemplate: promptTemplate,
			ExtractAnswer:  true,
		}, nil
	case "few-shot":
		return solver.FewShotSolver{
			Model:          m,
			Options:        opts,
			Examples:       fewShotExamples(samples, fewshotCount),
			PromptTemplate: promptTemplate,
		}, nil
	case "self-consistency":
		return solver.SelfConsistencySolver{
			Model:   m,
			Options: opts,
		}, nil
	default:
		return nil, fmt.Errorf("unknown solver: %s", name)
	}
}

func fewShotExamples(samples []core.Sample, count int) []solver.FewShotExample {
	if count <= 0 {
		count = 3
	}
	if count > len(samples) {
		count = len(samples)
	}
	examples := make([]solver.FewShotExample, 0, count)
	for _, s := range samples[:count] {
		examples = append(examples, solver.FewShotExample{Input: s.Input, Output: s.Target})
	}
	return examples
}

func report(result core.RunResult, format, outputPath string) error {
	writer := io.Writer(os.Stdout)
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer file.Close()
		writer = file
	}
	rep, err := buildReporter(format, writer)
	if err != nil {
		return err
	}
	return rep.Report(result)
}

func buildReporter(format string, writer io.Writer) (reporter.Reporter, error) {
	switch format {
	case "", reporter.FormatTable:
		return reporter.TableReporter{Writer: writer}, nil
	case reporter.FormatJSON:
		return reporter.JSONReporter{Writer: writer, Pretty: true}, nil
	case reporter.FormatCSV:
		return reporter.CSVReporter{Writer: writer}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

func resolveString(value string, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
