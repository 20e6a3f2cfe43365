package pool

import (
	"context"
	"time"

	"evalgo/pkg/core"
)

// PooledModel routes every call of an underlying model through the
// client pool, so solvers stay unaware of connection permits, transport
// retries, and the attempt timeout.
type PooledModel struct {
	Model          core.Model
	Pool           *ClientPool
	AttemptTimeout time.Duration
}

func (m PooledModel) Name() string { return m.Model.Name() }

func (m PooledModel) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (core.Response, error) {
	return m.Pool.Generate(ctx, m.Model, prompt, opts, m.AttemptTimeout)
}
