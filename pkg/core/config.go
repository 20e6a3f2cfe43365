package core

import (
	"runtime"
	"time"
)

// Defaults applied by EvalConfig.Normalized.
const (
	DefaultMaxConnections    = 10
	DefaultMaxTasks          = 1
	DefaultBatchMaxTasks     = 4
	DefaultLogBuffer         = 10
	DefaultRemoteLogBuffer   = 100
	DefaultLogSharedInterval = 10 * time.Second
	DefaultEpochs            = 1
)

// EvalConfig is the full option surface of one run. All fields are
// optional; Normalized fills in defaults. Everything here except the
// dataset and solver/scorer bindings may be overridden when a run is
// resumed from its log.
type EvalConfig struct {
	// Concurrency caps. Caps are multiplicative across the run: at most
	// MaxTasks tasks each dispatch up to MaxSamples samples, all sharing
	// the connection, subprocess, and sandbox pools.
	MaxSamples      int `json:"max_samples,omitempty" mapstructure:"max_samples"`
	MaxTasks        int `json:"max_tasks,omitempty" mapstructure:"max_tasks"`
	MaxConnections  int `json:"max_connections,omitempty" mapstructure:"max_connections"`
	MaxSubprocesses int `json:"max_subprocesses,omitempty" mapstructure:"max_subprocesses"`
	MaxSandboxes    int `json:"max_sandboxes,omitempty" mapstructure:"max_sandboxes"`

	// Error policy. FailOnError in [0,1] is a tolerated proportion of
	// errored attempts; above 1 it is an absolute count. Zero aborts on
	// the first error.
	FailOnError        float64 `json:"fail_on_error,omitempty" mapstructure:"fail_on_error"`
	NoFailOnError      bool    `json:"no_fail_on_error,omitempty" mapstructure:"no_fail_on_error"`
	ContinueOnFail     bool    `json:"continue_on_fail,omitempty" mapstructure:"continue_on_fail"`
	CountRetriedErrors bool    `json:"count_retried_errors,omitempty" mapstructure:"count_retried_errors"`

	// Retry policy. RetryOnError is the sample-level retry budget;
	// MaxRetries bounds transport-level retries inside the client pool
	// (zero means unlimited); AttemptTimeout bounds one provider call.
	RetryOnError   int           `json:"retry_on_error,omitempty" mapstructure:"retry_on_error"`
	MaxRetries     int           `json:"max_retries,omitempty" mapstructure:"max_retries"`
	AttemptTimeout time.Duration `json:"attempt_timeout,omitempty" mapstructure:"attempt_timeout"`

	// Logging. A zero LogBuffer lets the journal pick a default for its
	// destination: 10 locally, 100 on remote filesystems.
	LogBuffer         int           `json:"log_buffer,omitempty" mapstructure:"log_buffer"`
	LogShared         string        `json:"log_shared,omitempty" mapstructure:"log_shared"`
	LogSharedInterval time.Duration `json:"log_shared_interval,omitempty" mapstructure:"log_shared_interval"`
	LogImages         bool          `json:"log_images,omitempty" mapstructure:"log_images"`
	NoLogSamples      bool          `json:"no_log_samples,omitempty" mapstructure:"no_log_samples"`
	NoLogRealtime     bool          `json:"no_log_realtime,omitempty" mapstructure:"no_log_realtime"`

	// Sandbox.
	NoSandboxCleanup bool `json:"no_sandbox_cleanup,omitempty" mapstructure:"no_sandbox_cleanup"`

	// Sample expansion and limits.
	Epochs int    `json:"epochs,omitempty" mapstructure:"epochs"`
	Limits Limits `json:"limits,omitempty" mapstructure:"limits"`
}

// Normalized returns a copy with defaults applied.
func (c EvalConfig) Normalized() EvalConfig {
	if c.MaxTasks <= 0 {
		c.MaxTasks = DefaultMaxTasks
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxSubprocesses <= 0 {
		c.MaxSubprocesses = runtime.NumCPU()
	}
	if c.MaxSandboxes <= 0 {
		c.MaxSandboxes = 2 * runtime.NumCPU()
	}
	if c.LogShared != "" && c.LogSharedInterval <= 0 {
		c.LogSharedInterval = DefaultLogSharedInterval
	}
	if c.Epochs <= 0 {
		c.Epochs = DefaultEpochs
	}
	return c
}

// Override replaces the resumable subset of a logged config with values
// set in over: concurrency caps, error policy, retry policy, and logging
// options. Dataset and binding parameters are not part of EvalConfig and
// are never overridable on resume.
func (c EvalConfig) Override(over EvalConfig) EvalConfig {
	if over.MaxSamples > 0 {
		c.MaxSamples = over.MaxSamples
	}
	if over.MaxTasks > 0 {
		c.MaxTasks = over.MaxTasks
	}
	if over.MaxConnections > 0 {
		c.MaxConnections = over.MaxConnections
	}
	if over.MaxSubprocesses > 0 {
		c.MaxSubprocesses = over.MaxSubprocesses
	}
	if over.MaxSandboxes > 0 {
		c.MaxSandboxes = over.MaxSandboxes
	}
	if over.FailOnError > 0 {
		c.FailOnError = over.FailOnError
	}
	if over.NoFailOnError {
		c.NoFailOnError = true
	}
	if over.ContinueOnFail {
		c.ContinueOnFail = true
	}
	if over.CountRetriedErrors {
		c.CountRetriedErrors = true
	}
	if over.RetryOnError > 0 {
		c.RetryOnError = over.RetryOnError
	}
	if over.MaxRetries > 0 {
		c.MaxRetries = over.MaxRetries
	}
	if over.AttemptTimeout > 0 {
		c.AttemptTimeout = over.AttemptTimeout
	}
	if over.LogBuffer > 0 {
		c.LogBuffer = over.LogBuffer
	}
	if over.LogShared != "" {
		c.LogShared = over.LogShared
	}
	if over.LogSharedInterval > 0 {
		c.LogSharedInterval = over.LogSharedInterval
	}
	if over.LogImages {
		c.LogImages = true
	}
	if over.NoLogSamples {
		c.NoLogSamples = true
	}
	if over.NoLogRealtime {
		c.NoLogRealtime = true
	}
	if over.NoSandboxCleanup {
		c.NoSandboxCleanup = true
	}
	return c
}
