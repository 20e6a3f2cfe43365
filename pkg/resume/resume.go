// Package resume reconstructs interrupted runs from their journals and
// plans the remaining work.
package resume

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"evalgo/pkg/core"
	"evalgo/pkg/evallog"
)

// Plan is the remaining work of one interrupted run: the logged config
// (with overrides applied), each task's still-incomplete samples, and
// the attempt counts already spent on them.
type Plan struct {
	SourcePath string
	RunID      string
	Config     core.EvalConfig

	// Tasks holds the original manifests with their sample lists cut
	// down to the samples that need (re)execution. Tasks with nothing
	// left are dropped.
	Tasks []evallog.TaskManifest

	// BaseAttempts maps "task/id/epoch" to the number of attempts the
	// prior run already recorded, so resumed numbering continues.
	BaseAttempts map[string]int

	// Remaining counts samples to re-run across all tasks.
	Remaining int
}

// Complete reports whether the prior run left nothing to do.
func (p *Plan) Complete() bool { return p.Remaining == 0 }

// Load folds one journal into a resume plan. Successful samples are
// never re-queued; everything else (pending, running, retrying, errored,
// abandoned) is. Overrides replace the logged config's resumable fields.
func Load(path string, overrides core.EvalConfig) (*Plan, error) {
	entries, err := evallog.ReadJournal(path)
	if err != nil {
		return nil, err
	}
	state, err := evallog.Fold(entries)
	if err != nil {
		return nil, &core.CorruptLogError{Path: path, Err: err}
	}

	plan := &Plan{
		SourcePath:   path,
		RunID:        state.RunID,
		Config:       state.Config.Override(overrides).Normalized(),
		BaseAttempts: make(map[string]int),
	}
	for _, name := range state.Order {
		task := state.Tasks[name]
		incomplete := task.Incomplete()
		if len(incomplete) == 0 {
			continue
		}
		manifest := task.Manifest
		manifest.Samples = nil
		for _, key := range incomplete {
			s := task.Samples[key]
			manifest.Samples = append(manifest.Samples, s.Ref)
			if n := len(s.Attempts); n > 0 {
				plan.BaseAttempts[fmt.Sprintf("%s/%s", name, key)] = n
			}
		}
		plan.Remaining += len(manifest.Samples)
		plan.Tasks = append(plan.Tasks, manifest)
	}
	return plan, nil
}

// LoadAll plans every journal in paths. A corrupt journal is skipped
// with a warning rather than sinking the whole resume; any other read
// failure aborts.
func LoadAll(paths []string, overrides core.EvalConfig, logger *zap.Logger) ([]*Plan, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var plans []*Plan
	for _, path := range paths {
		plan, err := Load(path, overrides)
		if err != nil {
			var corrupt *core.CorruptLogError
			if errors.As(err, &corrupt) {
				logger.Warn("skipping corrupt journal",
					zap.String("path", path),
					zap.Error(corrupt.Err))
				continue
			}
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Samples materializes a manifest's sample refs for a new task plan.
func Samples(m evallog.TaskManifest) []core.Sample {
	out := make([]core.Sample, 0, len(m.Samples))
	for _, ref := range m.Samples {
		out = append(out, core.Sample{
			ID:       ref.ID,
			Epoch:    ref.Epoch,
			Input:    ref.Input,
			Target:   ref.Target,
			Metadata: ref.Metadata,
		})
	}
	return out
}
