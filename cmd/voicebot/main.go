package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/discord-voicebot/internal/agent"
	"github.com/user/discord-voicebot/internal/audio/vad"
	"github.com/user/discord-voicebot/internal/bot"
	"github.com/user/discord-voicebot/internal/config"
	"github.com/user/discord-voicebot/internal/health"
	"github.com/user/discord-voicebot/internal/logging"
	"github.com/user/discord-voicebot/internal/observe"
	"github.com/user/discord-voicebot/internal/resilience"
	"github.com/user/discord-voicebot/internal/speech"
	"github.com/user/discord-voicebot/internal/store"
	"github.com/user/discord-voicebot/internal/stt"
	"github.com/user/discord-voicebot/internal/stt/deepgram"
	"github.com/user/discord-voicebot/internal/stt/google"
	"github.com/user/discord-voicebot/internal/stt/vosk"
)

const (
	serviceName     = "discord-voicebot"
	version         = "0.1.0"
	shutdownTimeout = 30 * time.Second

	// webrtcvad aggressiveness, 0 (least) to 3 (most).
	vadMode = 2
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(cfg.LogLevel)

	log.Info().Msg("Starting Discord voice bot")

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Release: version}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Bot exited with error")
	}
	log.Info().Msg("Bot stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	provider, err := observe.InitProvider(serviceName, version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down metrics provider")
		}
	}()

	breaker := resilience.New(resilience.Config{
		Name:         "stt-" + cfg.STTBackend,
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerReset,
	})

	backend, err := newTranscriber(ctx, cfg)
	if err != nil {
		return err
	}
	transcriber := stt.NewGuarded(cfg.STTBackend, backend, breaker, provider.Metrics)
	defer transcriber.Close()

	responder, err := agent.New(ctx, agent.Config{
		Backend:      cfg.AgentBackend,
		Model:        cfg.AgentModel,
		BaseURL:      cfg.AgentBaseURL,
		SystemPrompt: cfg.SystemPrompt,
		GenAIAPIKey:  cfg.GenAIAPIKey,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create response agent: %w", err)
	}
	defer responder.Close()

	cues, err := speech.LoadCueLibrary(cfg.CuesFile, cfg.Format)
	if err != nil {
		return fmt.Errorf("failed to load cues: %w", err)
	}

	fileStore, err := store.NewFileStore(cfg.SavesDir)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	deps := bot.Deps{
		Transcriber: transcriber,
		Responder:   responder,
		Cues:        cues,
		Store:       fileStore,
		Metrics:     provider.Metrics,
	}

	if cfg.VADEnabled {
		detector, err := vad.New(vadMode)
		if err != nil {
			return fmt.Errorf("failed to create voice activity detector: %w", err)
		}
		deps.Gate = detector
	}

	if cfg.TTSEnabled {
		tts, err := speech.NewGoogleTTS(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			return err
		}
		defer tts.Close()
		deps.Synth = tts
	}

	discordBot, err := bot.NewBot(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return discordBot.Run(gctx)
	})

	if cfg.MetricsAddr != "" {
		checks := health.New(
			health.Checker{Name: "discord", Check: discordBot.Ready},
			health.Checker{Name: "stt", Check: func(context.Context) error {
				if breaker.State() == resilience.StateOpen {
					return resilience.ErrCircuitOpen
				}
				return nil
			}},
		)

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", provider.Handler)
		checks.Register(mux)

		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().Msg("Bot is running. Press Ctrl+C to exit.")
	return g.Wait()
}

func newTranscriber(ctx context.Context, cfg *config.Config) (stt.Transcriber, error) {
	switch cfg.STTBackend {
	case "google":
		t, err := google.NewTranscriber(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create Google transcriber: %w", err)
		}
		return t, nil
	case "vosk":
		t, err := vosk.NewVoskTranscriber(cfg.VoskModelPath, cfg.Format.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to create Vosk transcriber: %w", err)
		}
		return t, nil
	case "deepgram":
		return deepgram.NewDeepgramTranscriber(cfg.DeepgramAPIKey, cfg.DeepgramModel), nil
	default:
		return nil, fmt.Errorf("unsupported STT backend: %s", cfg.STTBackend)
	}
}
