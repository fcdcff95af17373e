package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/user/discord-voicebot/internal/audio"
)

const defaultSystemPrompt = "Du bist ein hilfreicher Sprachassistent in einem Discord-Sprachkanal. Antworte kurz und auf Deutsch."

type Config struct {
	// Discord
	DiscordToken    string
	GuildID         string
	TargetUserID    string
	TargetChannelID string

	// Conversation
	TriggerWord         string
	ConversationTimeout time.Duration
	PollInterval        time.Duration

	// Audio
	WindowSeconds int
	Format        audio.Format
	Language      string
	SavesDir      string
	CuesFile      string
	VADEnabled    bool

	// STT Backend
	STTBackend            string // "google", "vosk" or "deepgram"
	GoogleCredentialsFile string
	VoskModelPath         string
	DeepgramAPIKey        string
	DeepgramModel         string
	BreakerMaxFailures    int
	BreakerReset          time.Duration

	// Response agent
	AgentBackend string // "ollama", "gemini" or "openai"
	AgentModel   string
	AgentBaseURL string
	SystemPrompt string
	GenAIAPIKey  string
	OpenAIAPIKey string

	// Speech output
	TTSEnabled bool

	// Operations
	MetricsAddr string
	SentryDSN   string
	LogLevel    string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment without
// touching .env files.
func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		DiscordToken:    os.Getenv("DISCORD_TOKEN"),
		GuildID:         os.Getenv("GUILD_ID"),
		TargetUserID:    os.Getenv("TARGET_USER_ID"),
		TargetChannelID: os.Getenv("TARGET_CHANNEL_ID"),

		TriggerWord:         strings.TrimSpace(os.Getenv("TRIGGER_WORD")),
		ConversationTimeout: time.Duration(p.requiredInt("CONVERSATION_TIMEOUT")) * time.Second,
		PollInterval:        p.requiredSeconds("AUDIO_LOOP_SECONDS"),

		WindowSeconds: p.intOrDefault("WINDOW_SECONDS", 30),
		Format:        audio.DiscordFormat,
		Language:      getEnvOrDefault("LANGUAGE", "de-DE"),
		SavesDir:      getEnvOrDefault("SAVES_DIR", "./saves"),
		CuesFile:      os.Getenv("CUES_FILE"),
		VADEnabled:    p.boolOrDefault("VAD_ENABLED", true),

		STTBackend:            getEnvOrDefault("STT_BACKEND", "google"),
		GoogleCredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		VoskModelPath:         getEnvOrDefault("VOSK_MODEL_PATH", "./models/vosk/de"),
		DeepgramAPIKey:        os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:         getEnvOrDefault("DEEPGRAM_MODEL", "nova-2"),
		BreakerMaxFailures:    p.intOrDefault("STT_BREAKER_MAX_FAILURES", 5),
		BreakerReset:          time.Duration(p.intOrDefault("STT_BREAKER_RESET_SECONDS", 30)) * time.Second,

		AgentBackend: getEnvOrDefault("AGENT_BACKEND", "ollama"),
		AgentModel:   getEnvOrDefault("AGENT_MODEL", os.Getenv("OLLAMA_MODEL")),
		AgentBaseURL: os.Getenv("AGENT_BASE_URL"),
		SystemPrompt: getEnvOrDefault("SYSTEM_PROMPT", defaultSystemPrompt),
		GenAIAPIKey:  os.Getenv("GENAI_API_KEY"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),

		TTSEnabled: p.boolOrDefault("TTS_ENABLED", true),

		MetricsAddr: os.Getenv("METRICS_ADDR"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WindowCapacity is the rolling window size in bytes.
func (c *Config) WindowCapacity() int {
	return audio.WindowCapacity(c.WindowSeconds, c.Format)
}

func (c *Config) validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if c.GuildID == "" {
		return fmt.Errorf("GUILD_ID is required")
	}
	if c.TargetUserID == "" {
		return fmt.Errorf("TARGET_USER_ID is required")
	}
	if c.TargetChannelID == "" {
		return fmt.Errorf("TARGET_CHANNEL_ID is required")
	}
	if c.TriggerWord == "" {
		return fmt.Errorf("TRIGGER_WORD is required")
	}
	if c.ConversationTimeout <= 0 {
		return fmt.Errorf("CONVERSATION_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("AUDIO_LOOP_SECONDS must be positive")
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("WINDOW_SECONDS must be positive")
	}

	switch c.STTBackend {
	case "google", "vosk":
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when using deepgram backend")
		}
	default:
		return fmt.Errorf("STT_BACKEND must be 'google', 'vosk' or 'deepgram'")
	}

	switch c.AgentBackend {
	case "ollama":
	case "gemini":
		if c.GenAIAPIKey == "" {
			return fmt.Errorf("GENAI_API_KEY is required when using gemini agent backend")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when using openai agent backend")
		}
	default:
		return fmt.Errorf("AGENT_BACKEND must be 'ollama', 'gemini' or 'openai'")
	}
	if c.AgentModel == "" {
		return fmt.Errorf("AGENT_MODEL (or OLLAMA_MODEL) is required")
	}

	return nil
}

// parser collects the first parse failure so Load can fail fast on keys that
// are present but malformed.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: invalid value %q: %w", key, value, err)
	}
}

func (p *parser) requiredInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		if p.err == nil {
			p.err = fmt.Errorf("%s is required", key)
		}
		return 0
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return 0
	}
	return intVal
}

func (p *parser) requiredSeconds(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		if p.err == nil {
			p.err = fmt.Errorf("%s is required", key)
		}
		return 0
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, err)
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func (p *parser) intOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return intVal
}

func (p *parser) boolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, err)
		return defaultValue
	}
	return boolVal
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
