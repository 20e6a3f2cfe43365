package core

// SandboxSpec names the isolated environment a task's samples run in.
type SandboxSpec struct {
	Provider string `json:"provider" yaml:"provider"`
	Image    string `json:"image,omitempty" yaml:"image,omitempty"`
}

// TaskPlan is one schedulable unit of work: an ordered sequence of
// samples bound to a solver and scorer, optionally requiring a sandbox.
// Samples are fully expanded (dataset items times epochs) before
// scheduling so that resume can address them by (task, id, epoch).
type TaskPlan struct {
	Name    string            `json:"name"`
	Samples []Sample          `json:"samples"`
	Solver  Solver            `json:"-"`
	Scorer  Scorer            `json:"-"`
	Sandbox *SandboxSpec      `json:"sandbox,omitempty"`
	Args    map[string]string `json:"args,omitempty"`
}

// ExpandEpochs replicates each base sample once per epoch, assigning
// epoch indexes from 1.
func ExpandEpochs(base []Sample, epochs int) []Sample {
	if epochs <= 1 {
		out := make([]Sample, len(base))
		for i, s := range base {
			if s.Epoch <= 0 {
				s.Epoch = 1
			}
			out[i] = s
		}
		return out
	}
	out := make([]Sample, 0, len(base)*epochs)
	for epoch := 1; epoch <= epochs; epoch++ {
		for _, s := range base {
			s.Epoch = epoch
			out = append(out, s)
		}
	}
	return out
}
