package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubprocessPoolBoundsPermits(t *testing.T) {
	res := NewResources(2, 1)

	var current, peak atomic.Int32
	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := res.AcquireSubprocess(context.Background())
			require.NoError(t, err)
			defer release()
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-gate
			current.Add(-1)
		}()
	}

	require.Eventually(t, func() bool { return current.Load() == 2 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSandboxPoolIsScopedPerProvider(t *testing.T) {
	res := NewResources(1, 1)

	releaseA, err := res.AcquireSandbox(context.Background(), "docker")
	require.NoError(t, err)

	// A different provider has its own permit set.
	releaseB, err := res.AcquireSandbox(context.Background(), "local")
	require.NoError(t, err)
	releaseB()

	// The docker pool is exhausted until released.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = res.AcquireSandbox(ctx, "docker")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	releaseA()
	release, err := res.AcquireSandbox(context.Background(), "docker")
	require.NoError(t, err)
	release()
}
