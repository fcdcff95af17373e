package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/user/discord-voicebot/internal/agent/gemini"
	"github.com/user/discord-voicebot/internal/agent/ollama"
	"github.com/user/discord-voicebot/internal/agent/openai"
)

// Responder produces a spoken reply for a forwarded transcript.
type Responder interface {
	Respond(ctx context.Context, input string) (string, error)
	Close() error
}

type Config struct {
	Backend      string
	Model        string
	BaseURL      string
	SystemPrompt string
	GenAIAPIKey  string
	OpenAIAPIKey string
}

func New(ctx context.Context, cfg Config) (Responder, error) {
	var (
		r   Responder
		err error
	)

	switch cfg.Backend {
	case "ollama":
		r, err = ollama.New(cfg.Model, cfg.BaseURL, cfg.SystemPrompt)
	case "gemini":
		r, err = gemini.NewGeminiAgent(ctx, cfg.GenAIAPIKey, cfg.Model, cfg.SystemPrompt)
	case "openai":
		r, err = openai.New(cfg.OpenAIAPIKey, cfg.Model, cfg.BaseURL, cfg.SystemPrompt)
	default:
		return nil, fmt.Errorf("unsupported agent backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("backend", cfg.Backend).
		Str("model", cfg.Model).
		Msg("Response agent initialized")

	return r, nil
}
