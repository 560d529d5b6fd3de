package port

import "context"

// Generator produces text from a prompt via an external language model.
type Generator interface {
	// Generate completes the user prompt under the system prompt.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
