package pool

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Resources bounds subprocess and sandbox usage for one run. The
// subprocess pool is a single permit set; sandbox permits are scoped per
// sandbox provider and created lazily.
type Resources struct {
	subprocess   *semaphore.Weighted
	maxSandboxes int64

	mu        sync.Mutex
	sandboxes map[string]*semaphore.Weighted
}

// NewResources creates pools allowing maxSubprocesses concurrent
// subprocesses (default: host CPU count) and maxSandboxes concurrent
// environments per sandbox provider.
func NewResources(maxSubprocesses, maxSandboxes int) *Resources {
	if maxSubprocesses < 1 {
		maxSubprocesses = runtime.NumCPU()
	}
	if maxSandboxes < 1 {
		maxSandboxes = 2 * runtime.NumCPU()
	}
	return &Resources{
		subprocess:   semaphore.NewWeighted(int64(maxSubprocesses)),
		maxSandboxes: int64(maxSandboxes),
		sandboxes:    make(map[string]*semaphore.Weighted),
	}
}

// AcquireSubprocess blocks until a subprocess permit is free.
func (r *Resources) AcquireSubprocess(ctx context.Context) (func(), error) {
	if err := r.subprocess.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { r.subprocess.Release(1) }, nil
}

// AcquireSandbox blocks until a sandbox permit for the given provider is
// free.
func (r *Resources) AcquireSandbox(ctx context.Context, provider string) (func(), error) {
	sem := r.providerSem(provider)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func (r *Resources) providerSem(provider string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	sem, ok := r.sandboxes[provider]
	if !ok {
		sem = semaphore.NewWeighted(r.maxSandboxes)
		r.sandboxes[provider] = sem
	}
	return sem
}
