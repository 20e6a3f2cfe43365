package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evalgo/pkg/cache"
	"evalgo/pkg/core"
)

func TestMockModelScriptedFailures(t *testing.T) {
	m := &MockModel{ResponseText: "ok", FailFirst: 2}

	for i := 0; i < 2; i++ {
		_, err := m.Generate(context.Background(), "hi", core.GenerateOptions{})
		var terr *core.TransportError
		require.ErrorAs(t, err, &terr)
		require.True(t, terr.Temporary)
	}

	resp, err := m.Generate(context.Background(), "hi", core.GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.Equal(t, 2, resp.Messages)
}

func TestMockModelHonorsCancellation(t *testing.T) {
	m := &MockModel{Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Generate(ctx, "hi", core.GenerateOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassifyPassesContextErrorsThrough(t *testing.T) {
	require.ErrorIs(t, classify("p", context.Canceled), context.Canceled)
	require.ErrorIs(t, classify("p", context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestClassifyWrapsUnknownErrorsAsTransient(t *testing.T) {
	err := classify("p", errors.New("connection reset"))
	var terr *core.TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "p", terr.Provider)
	require.Zero(t, terr.StatusCode)
	require.True(t, terr.Temporary)
}

func TestTemporaryStatus(t *testing.T) {
	for _, status := range []int{0, 408, 429, 500, 503} {
		require.True(t, temporaryStatus(status), "status %d", status)
	}
	for _, status := range []int{400, 401, 403, 404, 422} {
		require.False(t, temporaryStatus(status), "status %d", status)
	}
}

func TestCachedModelServesRepeatsFromDisk(t *testing.T) {
	c, err := cache.New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	base := &MockModel{ResponseText: "answer"}
	cached := CachedModel{Model: base, Cache: c}

	first, err := cached.Generate(context.Background(), "q", core.GenerateOptions{})
	require.NoError(t, err)
	second, err := cached.Generate(context.Background(), "q", core.GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, first.Content, second.Content)

	hits, misses := c.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)
}

func TestCacheExpiry(t *testing.T) {
	c, err := cache.New(t.TempDir(), time.Nanosecond)
	require.NoError(t, err)

	require.NoError(t, c.Set("m", "q", core.GenerateOptions{}, core.Response{Content: "x"}))
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("m", "q", core.GenerateOptions{})
	require.False(t, ok)
}
