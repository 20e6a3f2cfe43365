// Package runner schedules a run: tasks under the task cap, samples
// under the sample cap, attempts strictly sequential per sample, all
// sharing the run's client and resource pools.
package runner

import (
	"sync"

	"evalgo/pkg/core"
)

type policyKind int

const (
	policyProportion policyKind = iota
	policyCount
	policyNever
)

// Policy is the error threshold resolved once at run start. A configured
// fail_on_error value in [0,1] is a tolerated proportion of errored
// attempts; above 1 it is an absolute count. Resolving the tag up front
// avoids re-interpreting the value as counts grow across the run.
type Policy struct {
	kind           policyKind
	proportion     float64
	count          int
	continueOnFail bool
	countRetried   bool
}

// ResolvePolicy derives the policy from run configuration.
func ResolvePolicy(cfg core.EvalConfig) Policy {
	p := Policy{
		continueOnFail: cfg.ContinueOnFail,
		countRetried:   cfg.CountRetriedErrors,
	}
	switch {
	case cfg.NoFailOnError:
		p.kind = policyNever
	case cfg.FailOnError > 1:
		p.kind = policyCount
		p.count = int(cfg.FailOnError)
	default:
		p.kind = policyProportion
		p.proportion = cfg.FailOnError
	}
	return p
}

// Budget is the run-scoped error budget. It counts errored attempts
// against total attempts and trips when the policy threshold is
// exceeded.
type Budget struct {
	policy  Policy
	planned int

	mu       sync.Mutex
	attempts int
	errors   int
	tripped  bool
}

// NewBudget creates a budget. planned is the number of attempts the run
// expects (one per sample); proportions are measured against it until
// recorded attempts overtake it.
func NewBudget(policy Policy, planned int) *Budget {
	return &Budget{policy: policy, planned: planned}
}

// Record accounts one attempt. terminal marks the attempt that settled
// its sample; unless the policy counts retried errors, an errored
// attempt that will be retried does not draw down the budget.
func (b *Budget) Record(outcome core.AttemptOutcome, terminal bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if outcome.Errored() && (terminal || b.policy.countRetried) {
		b.errors++
	}
	if b.tripped || b.policy.kind == policyNever {
		return
	}
	switch b.policy.kind {
	case policyCount:
		b.tripped = b.errors > b.policy.count
	case policyProportion:
		total := b.attempts
		if b.planned > total {
			total = b.planned
		}
		if total > 0 {
			b.tripped = float64(b.errors)/float64(total) > b.policy.proportion
		}
	}
}

// ShouldAbort reports whether dispatch must stop now. Under
// continue_on_fail the budget trips but dispatch continues; the run
// fails at completion instead.
func (b *Budget) ShouldAbort() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped && !b.policy.continueOnFail
}

// Exceeded reports whether the threshold was crossed at any point.
func (b *Budget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Counts returns errored and total attempts recorded so far.
func (b *Budget) Counts() (errors, attempts int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errors, b.attempts
}
