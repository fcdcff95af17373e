package ollama

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
)

// Agent answers with a local Ollama model. Each call is a fresh single-turn
// exchange.
type Agent struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
}

func New(model, baseURL, systemPrompt string) (*Agent, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}

	var opts []anyllmlib.Option
	if baseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(baseURL))
	}

	backend, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama: create backend: %w", err)
	}

	return &Agent{
		backend:      backend,
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

func (a *Agent) Respond(ctx context.Context, input string) (string, error) {
	resp, err := a.backend.Completion(ctx, a.params(input))
	if err != nil {
		return "", fmt.Errorf("ollama: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}

func (a *Agent) params(input string) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if a.systemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: a.systemPrompt,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    "user",
		Content: input,
	})

	return anyllmlib.CompletionParams{
		Model:    a.model,
		Messages: messages,
	}
}

func (a *Agent) Close() error {
	return nil
}
