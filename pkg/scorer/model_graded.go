package scorer

import (
	"context"
	"fmt"
	"strings"

	"evalgo/pkg/core"
)

const graderSystemPrompt = `You are grading an answer to a question against a known correct answer.

You will receive the question, the submitted answer, and the correct answer. Judge whether the submission is equivalent to the correct answer in substance. Wording differences do not matter.

Respond with exactly one word:
- CORRECT if the submission matches the correct answer
- INCORRECT otherwise`

// ModelGraded asks a judge model whether the response matches the
// target. It is the scorer of last resort for free-form answers that
// string matching cannot handle.
type ModelGraded struct {
	Judge   core.Model
	Options core.GenerateOptions
}

func (m ModelGraded) Name() string {
	return "model-graded"
}

func (m ModelGraded) Score(ctx context.Context, sample core.Sample, response core.Response) (core.Score, error) {
	if m.Judge == nil {
		return core.Score{}, fmt.Errorf("scorer: judge model is required")
	}

	prompt := fmt.Sprintf(`Question:
%s

Submitted answer:
%s

Correct answer: %s

Is the submission correct? Reply with exactly one word: CORRECT or INCORRECT`,
		sample.Input,
		response.Content,
		sample.Target,
	)

	opts := m.Options
	opts.SystemPrompt = graderSystemPrompt
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 16
	}
	opts.Temperature = 0

	judgeResp, err := m.Judge.Generate(ctx, prompt, opts)
	if err != nil {
		return core.Score{}, fmt.Errorf("scorer: judge model error: %w", err)
	}

	verdict := strings.ToUpper(strings.TrimSpace(judgeResp.Content))
	passed := strings.Contains(verdict, "CORRECT") && !strings.Contains(verdict, "INCORRECT")
	value := 0.0
	details := "incorrect"
	if passed {
		value = 1.0
		details = "correct"
	}

	return core.Score{
		Value:   value,
		Max:     1.0,
		Passed:  passed,
		Details: details,
	}, nil
}
