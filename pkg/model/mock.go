package model

import (
	"context"
	"errors"
	"sync"
	"time"

	"evalgo/pkg/core"
)

// MockModel returns a fixed response or echoes the prompt. FailFirst
// makes the first N calls fail with a retryable transport error, which
// exercises the pool's retry path without a live provider.
type MockModel struct {
	NameValue    string
	ResponseText string
	Delay        time.Duration
	FailFirst    int

	mu    sync.Mutex
	calls int
}

func (m *MockModel) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *MockModel) Generate(ctx context.Context, prompt string, _ core.GenerateOptions) (core.Response, error) {
	start := time.Now()
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return core.Response{}, ctx.Err()
		}
	}
	m.mu.Lock()
	m.calls++
	fail := m.calls <= m.FailFirst
	m.mu.Unlock()
	if fail {
		return core.Response{}, &core.TransportError{
			Provider:   m.Name(),
			StatusCode: 429,
			Temporary:  true,
			Err:        errors.New("scripted rate limit"),
		}
	}
	content := prompt
	if m.ResponseText != "" {
		content = m.ResponseText
	}
	return core.Response{
		Content:  content,
		Messages: 2,
		TokenUsage: core.TokenUsage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(prompt) + len(content)) / 4,
		},
		Latency: time.Since(start),
	}, nil
}
