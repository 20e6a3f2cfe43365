// Package evallog persists a run as an append-only stream of immutable
// entries, keyed by (task, sample_id, epoch, attempt). Any prefix of the
// stream is sufficient to reconstruct run state up to the last flushed
// entry, which is what makes interrupted runs resumable.
package evallog

import (
	"sync"
	"time"

	"evalgo/pkg/core"
)

// Kind discriminates journal entries.
type Kind string

const (
	KindRunStart     Kind = "run_start"
	KindTaskStart    Kind = "task_start"
	KindSampleStart  Kind = "sample_start"
	KindAttemptStart Kind = "attempt_start"
	KindAttemptEnd   Kind = "attempt_end"
	KindSampleEnd    Kind = "sample_end"
	KindTaskEnd      Kind = "task_end"
	KindRunEnd       Kind = "run_end"
)

// detail reports whether the kind is per-event detail that is omitted
// when realtime logging is disabled.
func (k Kind) detail() bool {
	switch k {
	case KindSampleStart, KindAttemptStart, KindAttemptEnd:
		return true
	}
	return false
}

// Entry is one immutable fact in the journal. Fields are populated
// according to Kind; an attempt entry never precedes the issuance of the
// attempt it describes.
type Entry struct {
	Kind     Kind      `json:"kind"`
	Time     time.Time `json:"time"`
	RunID    string    `json:"run_id,omitempty"`
	Task     string    `json:"task,omitempty"`
	SampleID string    `json:"sample_id,omitempty"`
	Epoch    int       `json:"epoch,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`

	Status  string              `json:"status,omitempty"`
	Outcome core.AttemptOutcome `json:"outcome,omitempty"`
	Limit   core.LimitKind      `json:"limit,omitempty"`
	Error   string              `json:"error,omitempty"`

	Input    string           `json:"input,omitempty"`
	Target   string           `json:"target,omitempty"`
	Output   string           `json:"output,omitempty"`
	Images   []string         `json:"images,omitempty"`
	Score    *core.Score      `json:"score,omitempty"`
	Usage    *core.TokenUsage `json:"usage,omitempty"`
	Messages int              `json:"messages,omitempty"`

	TotalTime   float64 `json:"total_time,omitempty"`
	WorkingTime float64 `json:"working_time,omitempty"`

	// Run-start payload: configuration and the full task manifest, so a
	// resumed run knows every sample that was planned, including ones
	// that never started.
	Config *core.EvalConfig `json:"config,omitempty"`
	Tasks  []TaskManifest   `json:"tasks,omitempty"`
}

// TaskManifest records a task's immutable bindings and planned samples.
type TaskManifest struct {
	Name    string            `json:"name"`
	Dataset string            `json:"dataset,omitempty"`
	Solver  string            `json:"solver,omitempty"`
	Scorer  string            `json:"scorer,omitempty"`
	Sandbox *core.SandboxSpec `json:"sandbox,omitempty"`
	Args    map[string]string `json:"args,omitempty"`
	Samples []SampleRef       `json:"samples"`
}

// SampleRef is a planned sample as recorded in the manifest.
type SampleRef struct {
	ID       string            `json:"id"`
	Epoch    int               `json:"epoch"`
	Input    string            `json:"input,omitempty"`
	Target   string            `json:"target,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sink receives journal entries. The sample runner emits every attempt
// transition synchronously through a Sink.
type Sink interface {
	Append(Entry) error
}

// Memory is an in-process Sink that retains entries, used by tests and
// by the resume controller when replaying.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of everything appended so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Append(Entry) error { return nil }
