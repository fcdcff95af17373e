package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type GeminiAgent struct {
	client       *genai.Client
	model        string
	systemPrompt string
}

func NewGeminiAgent(ctx context.Context, apiKey, model, systemPrompt string) (*GeminiAgent, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiAgent{
		client:       client,
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

func (g *GeminiAgent) Respond(ctx context.Context, input string) (string, error) {
	genModel := g.client.GenerativeModel(g.model)
	if g.systemPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(g.systemPrompt))
	}

	resp, err := genModel.GenerateContent(ctx, genai.Text(input))
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}

	reply := replyText(resp)
	if reply == "" {
		return "", fmt.Errorf("no reply generated")
	}

	log.Debug().
		Int("input_length", len(input)).
		Int("reply_length", len(reply)).
		Msg("Generated Gemini reply")

	return reply, nil
}

func replyText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply.WriteString(string(text))
		}
	}
	return strings.TrimSpace(reply.String())
}

func (g *GeminiAgent) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
