package core

import (
	"context"
	"sync"
	"time"
)

// WorkClock accumulates working time for one sample: time spent in
// generation and tool calls, excluding queueing and idle time. It is
// shared between the sample runner and the client pool through the
// context, and spans all of a sample's attempts.
type WorkClock struct {
	mu    sync.Mutex
	total time.Duration
	limit time.Duration
}

// NewWorkClock returns a clock bounded by limit. A zero limit means
// unlimited.
func NewWorkClock(limit time.Duration) *WorkClock {
	return &WorkClock{limit: limit}
}

// Add records elapsed working time and reports whether the working limit
// has now been exceeded.
func (c *WorkClock) Add(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += d
	return c.limit > 0 && c.total > c.limit
}

// Exceeded reports whether the working limit has been exceeded.
func (c *WorkClock) Exceeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit > 0 && c.total > c.limit
}

// Total returns the accumulated working time.
func (c *WorkClock) Total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

type workClockKey struct{}

// WithWorkClock attaches a sample's work clock to the context.
func WithWorkClock(ctx context.Context, clock *WorkClock) context.Context {
	return context.WithValue(ctx, workClockKey{}, clock)
}

// WorkClockFrom returns the work clock attached to ctx, or nil.
func WorkClockFrom(ctx context.Context) *WorkClock {
	clock, _ := ctx.Value(workClockKey{}).(*WorkClock)
	return clock
}
