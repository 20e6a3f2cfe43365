package core

import "time"

// SampleStatus tracks a sample through the scheduler.
type SampleStatus string

const (
	SamplePending   SampleStatus = "pending"
	SampleRunning   SampleStatus = "running"
	SampleRetrying  SampleStatus = "retrying"
	SampleSuccess   SampleStatus = "success"
	SampleError     SampleStatus = "error"
	SampleAbandoned SampleStatus = "abandoned"
)

// Terminal reports whether the status admits no further attempts.
func (s SampleStatus) Terminal() bool {
	switch s {
	case SampleSuccess, SampleError, SampleAbandoned:
		return true
	}
	return false
}

// AttemptOutcome is the result of one execution try of a sample.
type AttemptOutcome string

const (
	OutcomeSuccess  AttemptOutcome = "success"
	OutcomeError    AttemptOutcome = "error"
	OutcomeTimeout  AttemptOutcome = "timeout"
	OutcomeLimit    AttemptOutcome = "limit"
	OutcomeCanceled AttemptOutcome = "canceled"
)

// Errored reports whether the outcome counts against the error budget.
// Cancellation is not an error: it is externally requested and never
// retried or counted.
func (o AttemptOutcome) Errored() bool {
	switch o {
	case OutcomeError, OutcomeTimeout, OutcomeLimit:
		return true
	}
	return false
}

// RunStatus is the terminal state of a whole run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// TaskStatus is the terminal state of one task within a run.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// LimitKind tags which sample limit was exceeded.
type LimitKind string

const (
	LimitMessages LimitKind = "message"
	LimitTokens   LimitKind = "token"
	LimitTime     LimitKind = "time"
	LimitWorking  LimitKind = "working"
)

// Limits bounds one sample. Message and token limits apply within an
// attempt; time and working limits span all of the sample's attempts.
// Zero values mean unlimited.
type Limits struct {
	Messages int           `json:"messages,omitempty" yaml:"messages,omitempty"`
	Tokens   int           `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Time     time.Duration `json:"time,omitempty" yaml:"time,omitempty"`
	Working  time.Duration `json:"working,omitempty" yaml:"working,omitempty"`
}

// Attempt records one execution try of a sample. Attempts of the same
// sample are strictly sequential and numbered from 1.
type Attempt struct {
	Number      int            `json:"number"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Outcome     AttemptOutcome `json:"outcome"`
	Limit       LimitKind      `json:"limit,omitempty"`
	Error       string         `json:"error,omitempty"`
	Messages    int            `json:"messages,omitempty"`
	Usage       TokenUsage     `json:"usage"`
	WorkingTime time.Duration  `json:"working_time"`
}

// Response is a model response plus basic telemetry.
type Response struct {
	Content    string        `json:"content" yaml:"content"`
	Messages   int           `json:"messages" yaml:"messages"`
	TokenUsage TokenUsage    `json:"token_usage" yaml:"token_usage"`
	Latency    time.Duration `json:"latency" yaml:"latency"`
}

// TokenUsage captures token accounting for a request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" yaml:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" yaml:"total_tokens"`
}

// Add accumulates usage from another request.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Score represents a numeric score and pass/fail status.
type Score struct {
	Value   float64 `json:"value" yaml:"value"`
	Max     float64 `json:"max" yaml:"max"`
	Passed  bool    `json:"passed" yaml:"passed"`
	Details string  `json:"details,omitempty" yaml:"details,omitempty"`
}

// SampleResult is the terminal record for one sample, including the full
// attempt history.
type SampleResult struct {
	Sample      Sample         `json:"sample"`
	Status      SampleStatus   `json:"status"`
	Attempts    []Attempt      `json:"attempts"`
	Response    Response       `json:"response"`
	Score       Score          `json:"score"`
	Error       string         `json:"error,omitempty"`
	TotalTime   time.Duration  `json:"total_time"`
	WorkingTime time.Duration  `json:"working_time"`
}

// TaskResult summarizes one task's samples.
type TaskResult struct {
	Task        string         `json:"task"`
	Status      TaskStatus     `json:"status"`
	Samples     []SampleResult `json:"samples"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Errors counts samples that terminated in error.
func (t TaskResult) Errors() int {
	n := 0
	for _, s := range t.Samples {
		if s.Status == SampleError {
			n++
		}
	}
	return n
}

// RunResult summarizes a whole run.
type RunResult struct {
	RunID       string                `json:"run_id"`
	Status      RunStatus             `json:"status"`
	Tasks       []TaskResult          `json:"tasks"`
	Usage       map[string]TokenUsage `json:"usage,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
}

// Errors counts samples across all tasks that terminated in error.
func (r RunResult) Errors() int {
	n := 0
	for _, t := range r.Tasks {
		n += t.Errors()
	}
	return n
}

// GenerateOptions controls model generation behavior.
type GenerateOptions struct {
	Temperature  float32  `json:"temperature" yaml:"temperature"`
	MaxTokens    int      `json:"max_tokens" yaml:"max_tokens"`
	TopP         float32  `json:"top_p" yaml:"top_p"`
	Stop         []string `json:"stop" yaml:"stop"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}
