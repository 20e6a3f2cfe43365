// Package pool bounds the run's shared capacity: concurrent model API
// calls, subprocesses, and sandbox environments. Pools are run-wide
// singletons shared by all concurrently executing samples.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"evalgo/pkg/core"
)

const (
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 30 * time.Second
)

// Usage is a provider-scoped telemetry counter.
type Usage struct {
	Calls   int             `json:"calls"`
	Retries int             `json:"retries"`
	Tokens  core.TokenUsage `json:"tokens"`
}

// ClientPool bounds concurrent outbound model API calls and owns
// transport-level retry, backoff, and the per-attempt timeout. Transport
// retries here are distinct from the sample runner's retry-on-error.
type ClientPool struct {
	sem        *semaphore.Weighted
	maxRetries int // 0 = unlimited
	logger     *zap.Logger

	mu    sync.Mutex
	usage map[string]*Usage
}

// NewClientPool creates a pool allowing at most maxConnections
// simultaneous provider calls. Transient failures are retried up to
// maxRetries times; zero retries forever.
func NewClientPool(maxConnections, maxRetries int, logger *zap.Logger) *ClientPool {
	if maxConnections < 1 {
		maxConnections = core.DefaultMaxConnections
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientPool{
		sem:        semaphore.NewWeighted(int64(maxConnections)),
		maxRetries: maxRetries,
		logger:     logger,
		usage:      make(map[string]*Usage),
	}
}

// Acquire blocks until a connection permit is free. The returned release
// function must be called exactly once.
func (p *ClientPool) Acquire(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}

// Generate runs one model call under a connection permit. The attempt
// timeout bounds each individual call; exceeding it abandons the attempt
// and reports ErrAttemptTimeout to the caller, who decides whether to
// retry at the sample level. Transient provider failures are retried
// here with exponential backoff and jitter.
func (p *ClientPool) Generate(ctx context.Context, model core.Model, prompt string, opts core.GenerateOptions, attemptTimeout time.Duration) (core.Response, error) {
	clock := core.WorkClockFrom(ctx)
	if clock != nil && clock.Exceeded() {
		return core.Response{}, &core.LimitError{Kind: core.LimitWorking}
	}

	release, err := p.Acquire(ctx)
	if err != nil {
		return core.Response{}, err
	}
	defer release()

	provider := model.Name()
	for attempt := 0; ; attempt++ {
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if attemptTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, attemptTimeout)
		}

		start := time.Now()
		resp, err := model.Generate(callCtx, prompt, opts)
		cancel()
		working := time.Since(start)

		p.record(provider, resp.TokenUsage, attempt > 0)

		if clock != nil && clock.Add(working) {
			return core.Response{}, &core.LimitError{Kind: core.LimitWorking}
		}
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return core.Response{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// The attempt ran past its own timeout, not the run's.
			return core.Response{}, fmt.Errorf("%s: %w", provider, core.ErrAttemptTimeout)
		}
		if !core.IsRetryableTransport(err) {
			return core.Response{}, err
		}
		if p.maxRetries > 0 && attempt >= p.maxRetries {
			return core.Response{}, fmt.Errorf("%s: retries exhausted: %w", provider, err)
		}

		delay := retryDelay(attempt)
		p.logger.Debug("transient provider failure, backing off",
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return core.Response{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Usage returns a snapshot of per-provider telemetry counters.
func (p *ClientPool) Usage() map[string]Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Usage, len(p.usage))
	for provider, u := range p.usage {
		out[provider] = *u
	}
	return out
}

func (p *ClientPool) record(provider string, tokens core.TokenUsage, retried bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.usage[provider]
	if u == nil {
		u = &Usage{}
		p.usage[provider] = u
	}
	u.Calls++
	if retried {
		u.Retries++
	}
	u.Tokens.Add(tokens)
}

// retryDelay doubles per attempt up to maxBackoff, with up to 50% jitter.
func retryDelay(attempt int) time.Duration {
	delay := baseBackoff
	for i := 0; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay/2 + jitter
}
