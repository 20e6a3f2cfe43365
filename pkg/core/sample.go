package core

import "fmt"

// Sample is a single dataset item evaluated independently. The same item
// re-run under a different epoch is a distinct sample: identity within a
// run is (task, id, epoch).
type Sample struct {
	ID       string            `json:"id" yaml:"id"`
	Epoch    int               `json:"epoch" yaml:"epoch"`
	Input    string            `json:"input" yaml:"input"`
	Target   string            `json:"target" yaml:"target"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Key returns the sample's identity within the named task.
func (s Sample) Key(task string) string {
	epoch := s.Epoch
	if epoch <= 0 {
		epoch = 1
	}
	return fmt.Sprintf("%s/%s/%d", task, s.ID, epoch)
}
