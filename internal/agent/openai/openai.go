package openai

import (
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

type Agent struct {
	client       oai.Client
	model        string
	systemPrompt string
}

func New(apiKey, model, baseURL, systemPrompt string) (*Agent, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	return &Agent{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

func (a *Agent) Respond(ctx context.Context, input string) (string, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if a.systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(a.systemPrompt))
	}
	messages = append(messages, oai.UserMessage(input))

	resp, err := a.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(a.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (a *Agent) Close() error {
	return nil
}
