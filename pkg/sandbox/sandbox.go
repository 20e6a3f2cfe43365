// Package sandbox manages isolated execution environments for samples.
// The orchestrator only acquires capacity, starts and stops environments
// at sample boundaries, and optionally defers teardown to run end.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evalgo/pkg/core"
	"evalgo/pkg/pool"
)

// Handle identifies one running environment.
type Handle struct {
	ID       string
	Provider string
	Dir      string
}

// Runtime starts and stops environments. Container engines, VMs, and the
// local runtime below all satisfy this.
type Runtime interface {
	Start(ctx context.Context, spec core.SandboxSpec) (*Handle, error)
	Stop(ctx context.Context, h *Handle) error
}

// LocalRuntime isolates samples in per-sample working directories.
type LocalRuntime struct {
	Root string
}

func (r *LocalRuntime) Start(_ context.Context, spec core.SandboxSpec) (*Handle, error) {
	root := r.Root
	if root == "" {
		root = os.TempDir()
	}
	id := uuid.NewString()
	dir := filepath.Join(root, "evalgo-sandbox-"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &core.SandboxError{Provider: spec.Provider, Err: err}
	}
	return &Handle{ID: id, Provider: spec.Provider, Dir: dir}, nil
}

func (r *LocalRuntime) Stop(_ context.Context, h *Handle) error {
	if h.Dir == "" {
		return nil
	}
	return os.RemoveAll(h.Dir)
}

// Env is one acquired environment plus its capacity permit.
type Env struct {
	Handle *Handle

	mgr     *Manager
	release func()
	once    sync.Once
}

// Manager composes a Runtime with the run's sandbox capacity pool. When
// cleanup is deferred, environments stopped at release time are instead
// collected and torn down at run end.
type Manager struct {
	runtime      Runtime
	resources    *pool.Resources
	deferCleanup bool
	logger       *zap.Logger

	mu       sync.Mutex
	deferred []*Handle
}

// NewManager wires a runtime to the run's resource pools.
func NewManager(runtime Runtime, resources *pool.Resources, deferCleanup bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runtime:      runtime,
		resources:    resources,
		deferCleanup: deferCleanup,
		logger:       logger,
	}
}

// Acquire blocks for a provider-scoped capacity permit, then starts an
// environment. The permit is held until Release.
func (m *Manager) Acquire(ctx context.Context, spec core.SandboxSpec) (*Env, error) {
	release, err := m.resources.AcquireSandbox(ctx, spec.Provider)
	if err != nil {
		return nil, err
	}
	handle, err := m.runtime.Start(ctx, spec)
	if err != nil {
		release()
		if _, ok := err.(*core.SandboxError); ok {
			return nil, err
		}
		return nil, &core.SandboxError{Provider: spec.Provider, Err: err}
	}
	return &Env{Handle: handle, mgr: m, release: release}, nil
}

// Exec runs a command inside the environment's working directory. Each
// execution holds a subprocess permit from the run's resource pools for
// its duration, so sandboxed commands across all samples share the
// subprocess cap.
func (e *Env) Exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	release, err := e.mgr.resources.AcquireSubprocess(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Handle.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &core.SandboxError{Provider: e.Handle.Provider, Err: err}
	}
	return out, nil
}

// Release tears the environment down (or defers teardown) and returns
// the capacity permit. Safe to call more than once.
func (e *Env) Release(ctx context.Context) {
	e.once.Do(func() {
		defer e.release()
		if e.mgr.deferCleanup {
			e.mgr.mu.Lock()
			e.mgr.deferred = append(e.mgr.deferred, e.Handle)
			e.mgr.mu.Unlock()
			return
		}
		if err := e.mgr.runtime.Stop(ctx, e.Handle); err != nil {
			e.mgr.logger.Warn("sandbox teardown failed",
				zap.String("provider", e.Handle.Provider),
				zap.String("id", e.Handle.ID),
				zap.Error(err))
		}
	})
}

// CleanupDeferred tears down environments whose cleanup was deferred.
// Called once at run end.
func (m *Manager) CleanupDeferred(ctx context.Context) error {
	m.mu.Lock()
	deferred := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	var firstErr error
	for _, h := range deferred {
		if err := m.runtime.Stop(ctx, h); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sandbox %s/%s: %w", h.Provider, h.ID, err)
		}
	}
	return firstErr
}
