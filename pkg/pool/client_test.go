package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evalgo/pkg/core"
)

type flakyModel struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (m *flakyModel) Name() string { return "flaky" }

func (m *flakyModel) Generate(_ context.Context, prompt string, _ core.GenerateOptions) (core.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return core.Response{}, &core.TransportError{
			Provider:   "flaky",
			StatusCode: 529,
			Temporary:  true,
			Err:        errors.New("overloaded"),
		}
	}
	return core.Response{Content: prompt, Messages: 2, TokenUsage: core.TokenUsage{TotalTokens: 3}}, nil
}

type blockingModel struct {
	gate    chan struct{}
	current atomic.Int32
	peak    atomic.Int32
}

func (m *blockingModel) Name() string { return "blocking" }

func (m *blockingModel) Generate(ctx context.Context, _ string, _ core.GenerateOptions) (core.Response, error) {
	n := m.current.Add(1)
	for {
		peak := m.peak.Load()
		if n <= peak || m.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	defer m.current.Add(-1)
	select {
	case <-m.gate:
		return core.Response{}, nil
	case <-ctx.Done():
		return core.Response{}, ctx.Err()
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	model := &flakyModel{failures: 2}
	pool := NewClientPool(2, 5, nil)

	resp, err := pool.Generate(context.Background(), model, "hi", core.GenerateOptions{}, 0)
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Content)
	require.Equal(t, 3, model.calls)

	usage := pool.Usage()["flaky"]
	require.Equal(t, 3, usage.Calls)
	require.Equal(t, 2, usage.Retries)
	require.Equal(t, 3, usage.Tokens.TotalTokens)
}

func TestGenerateStopsAfterMaxRetries(t *testing.T) {
	model := &flakyModel{failures: 100}
	pool := NewClientPool(2, 2, nil)

	_, err := pool.Generate(context.Background(), model, "hi", core.GenerateOptions{}, 0)
	require.Error(t, err)
	require.True(t, core.IsRetryableTransport(err))
	require.Equal(t, 3, model.calls)
}

func TestGenerateBoundsConcurrency(t *testing.T) {
	model := &blockingModel{gate: make(chan struct{})}
	pool := NewClientPool(3, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Generate(context.Background(), model, "x", core.GenerateOptions{}, 0)
			require.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool {
		return model.current.Load() == 3
	}, time.Second, time.Millisecond)
	close(model.gate)
	wg.Wait()

	require.LessOrEqual(t, model.peak.Load(), int32(3))
}

func TestGenerateAttemptTimeout(t *testing.T) {
	model := &blockingModel{gate: make(chan struct{})}
	defer close(model.gate)
	pool := NewClientPool(1, 0, nil)

	_, err := pool.Generate(context.Background(), model, "x", core.GenerateOptions{}, 20*time.Millisecond)
	require.ErrorIs(t, err, core.ErrAttemptTimeout)
}

func TestGenerateHonorsWorkingLimit(t *testing.T) {
	model := &flakyModel{}
	pool := NewClientPool(1, 0, nil)

	clock := core.NewWorkClock(time.Nanosecond)
	clock.Add(time.Millisecond)
	ctx := core.WithWorkClock(context.Background(), clock)

	_, err := pool.Generate(ctx, model, "x", core.GenerateOptions{}, 0)
	var limitErr *core.LimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, core.LimitWorking, limitErr.Kind)
	require.Equal(t, 0, model.calls)
}
