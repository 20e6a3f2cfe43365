package core

import "context"

// Model generates responses for prompts. Implementations are opaque to
// the orchestrator beyond success/error/timeout classification of the
// returned error.
type Model interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (Response, error)
}
