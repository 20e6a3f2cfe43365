package core

import "context"

// Solver turns samples into model responses. It is invoked once per
// attempt by the sample runner.
type Solver interface {
	Name() string
	Solve(ctx context.Context, sample Sample) (Response, error)
}
