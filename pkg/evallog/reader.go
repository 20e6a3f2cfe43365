package evallog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"evalgo/pkg/core"
)

// ReadJournal parses a journal file back into its entry stream. A
// truncated final line (a crash mid-write) is ignored: the remaining
// prefix is a valid log. A parse failure anywhere else means the file is
// corrupt.
func ReadJournal(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	var pendingErr error
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if pendingErr != nil {
			// A bad line followed by more content is corruption, not
			// a truncated tail.
			return nil, &core.CorruptLogError{Path: path, Err: pendingErr}
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			pendingErr = fmt.Errorf("line %d: %w", line, err)
			continue
		}
		if e.Kind == "" {
			pendingErr = fmt.Errorf("line %d: missing kind", line)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, &core.CorruptLogError{Path: path, Err: err}
	}
	if len(entries) == 0 {
		return nil, &core.CorruptLogError{Path: path, Err: fmt.Errorf("no entries")}
	}
	return entries, nil
}

// SampleState is a sample's reconstructed position in the run.
type SampleState struct {
	Ref      SampleRef
	Status   core.SampleStatus
	Attempts []core.Attempt
	Score    *core.Score
	Output   string
	Error    string
}

// TaskState is a task's reconstructed position in the run.
type TaskState struct {
	Manifest TaskManifest
	Status   core.TaskStatus
	Order    []string
	Samples  map[string]*SampleState
}

// RunState is a run reconstructed by folding its entry stream. Statuses
// are recomputed from the facts, never trusted from a cached field.
type RunState struct {
	RunID    string
	Config   core.EvalConfig
	Status   core.RunStatus
	Finished bool
	Order    []string
	Tasks    map[string]*TaskState
}

func sampleKey(id string, epoch int) string {
	if epoch <= 0 {
		epoch = 1
	}
	return fmt.Sprintf("%s/%d", id, epoch)
}

// Fold replays an entry stream into run state. The first entry must be
// run_start; the stream may stop anywhere after that.
func Fold(entries []Entry) (*RunState, error) {
	if len(entries) == 0 || entries[0].Kind != KindRunStart {
		return nil, fmt.Errorf("log does not begin with %s", KindRunStart)
	}
	head := entries[0]
	state := &RunState{
		RunID: head.RunID,
		Tasks: make(map[string]*TaskState),
	}
	if head.Config != nil {
		state.Config = *head.Config
	}
	for _, manifest := range head.Tasks {
		task := &TaskState{
			Manifest: manifest,
			Samples:  make(map[string]*SampleState),
		}
		for _, ref := range manifest.Samples {
			key := sampleKey(ref.ID, ref.Epoch)
			task.Order = append(task.Order, key)
			task.Samples[key] = &SampleState{Ref: ref, Status: core.SamplePending}
		}
		state.Order = append(state.Order, manifest.Name)
		state.Tasks[manifest.Name] = task
	}

	for _, e := range entries[1:] {
		task := state.Tasks[e.Task]
		var sample *SampleState
		if task != nil && e.SampleID != "" {
			sample = task.Samples[sampleKey(e.SampleID, e.Epoch)]
		}
		switch e.Kind {
		case KindSampleStart:
			if sample != nil {
				sample.Status = core.SampleRunning
			}
		case KindAttemptStart:
			if sample != nil {
				sample.Status = core.SampleRunning
			}
		case KindAttemptEnd:
			if sample == nil {
				continue
			}
			attempt := core.Attempt{
				Number:      e.Attempt,
				CompletedAt: e.Time,
				Outcome:     e.Outcome,
				Limit:       e.Limit,
				Error:       e.Error,
				Messages:    e.Messages,
			}
			if e.Usage != nil {
				attempt.Usage = *e.Usage
			}
			sample.Attempts = append(sample.Attempts, attempt)
			if e.Outcome.Errored() {
				sample.Status = core.SampleRetrying
			}
		case KindSampleEnd:
			if sample == nil {
				continue
			}
			sample.Status = core.SampleStatus(e.Status)
			sample.Score = e.Score
			sample.Output = e.Output
			sample.Error = e.Error
		case KindTaskEnd:
			if task != nil {
				task.Status = core.TaskStatus(e.Status)
			}
		case KindRunEnd:
			state.Status = core.RunStatus(e.Status)
			state.Finished = true
		}
	}
	return state, nil
}

// Incomplete returns the keys of samples that need (re)execution: error
// or not yet terminal. Successful samples are never re-run.
func (t *TaskState) Incomplete() []string {
	var out []string
	for _, key := range t.Order {
		s := t.Samples[key]
		switch s.Status {
		case core.SampleSuccess:
		default:
			out = append(out, key)
		}
	}
	return out
}
