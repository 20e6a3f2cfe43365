package solver

import (
	"context"
	"fmt"
	"strings"

	"evalgo/pkg/core"
)

// SelfConsistencySolver samples the model several times and returns the
// majority answer. Ties resolve to the earliest response.
type SelfConsistencySolver struct {
	Model   core.Model
	Options core.GenerateOptions
	Samples int
}

func (s SelfConsistencySolver) Name() string {
	if s.Model == nil {
		return "self-consistency"
	}
	return s.Model.Name()
}

func (s SelfConsistencySolver) Solve(ctx context.Context, sample core.Sample) (core.Response, error) {
	if s.Model == nil {
		return core.Response{}, fmt.Errorf("solver: model is required")
	}
	n := s.Samples
	if n <= 0 {
		n = 3
	}

	opts := s.Options
	if opts.Temperature == 0 {
		opts.Temperature = 0.7
	}

	var totalUsage core.TokenUsage
	totalMessages := 0
	counts := make(map[string]int)
	order := make([]string, 0, n)
	responses := make(map[string]core.Response)

	for i := 0; i < n; i++ {
		resp, err := s.Model.Generate(ctx, sample.Input, opts)
		if err != nil {
			return core.Response{}, err
		}
		totalUsage.Add(resp.TokenUsage)
		totalMessages += resp.Messages
		answer := strings.TrimSpace(ExtractFinalAnswer(resp.Content))
		if counts[answer] == 0 {
			order = append(order, answer)
			responses[answer] = resp
		}
		counts[answer]++
	}

	best := order[0]
	for _, answer := range order {
		if counts[answer] > counts[best] {
			best = answer
		}
	}

	winner := responses[best]
	winner.Messages = totalMessages
	winner.TokenUsage = totalUsage
	return winner, nil
}
