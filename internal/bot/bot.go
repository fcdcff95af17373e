package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/user/discord-voicebot/internal/config"
	"github.com/user/discord-voicebot/internal/dispatch"
	"github.com/user/discord-voicebot/internal/logging"
	"github.com/user/discord-voicebot/internal/observe"
	"github.com/user/discord-voicebot/internal/scheduler"
	"github.com/user/discord-voicebot/internal/speech"
	"github.com/user/discord-voicebot/internal/store"
	"github.com/user/discord-voicebot/internal/stt"
	"github.com/user/discord-voicebot/internal/voice"
)

const (
	monitorInterval   = 1500 * time.Millisecond
	voiceReadyTimeout = 10 * time.Second
)

// Deps are the stateless backends shared by every session.
type Deps struct {
	Transcriber stt.Transcriber
	Gate        scheduler.SpeechGate // nil disables the speech gate
	Responder   dispatch.Responder   // nil drops forwarded text
	Cues        *speech.CueLibrary
	Synth       speech.Synthesizer // nil disables spoken replies
	Store       *store.FileStore
	Metrics     *observe.Metrics
}

// Bot follows the target user into voice channels and runs one VoiceSession
// at a time.
type Bot struct {
	config  *config.Config
	session *discordgo.Session
	deps    Deps

	active *VoiceSession
	mutex  sync.Mutex
	wg     sync.WaitGroup
}

func NewBot(cfg *config.Config, deps Deps) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates

	if deps.Metrics == nil {
		deps.Metrics = observe.Discard()
	}

	bot := &Bot{
		config:  cfg,
		session: session,
		deps:    deps,
	}

	session.AddHandler(bot.onReady)

	return bot, nil
}

// Run opens the gateway connection and monitors the guild until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	log.Info().
		Int("code", logging.CodeMonitorStarted).
		Str("guild_id", b.config.GuildID).
		Str("target_user_id", b.config.TargetUserID).
		Msg("Monitoring started")

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-ticker.C:
			b.discover(ctx)
		}
	}
}

func (b *Bot) shutdown() {
	// Sessions run on ctx and stop on their own once it is cancelled.
	b.wg.Wait()

	if err := b.session.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Discord session")
	}

	log.Info().
		Int("code", logging.CodeMonitorStopped).
		Msg("Monitoring stopped")
}

// Ready reports whether the gateway connection is usable.
func (b *Bot) Ready(context.Context) error {
	if !b.session.DataReady {
		return errors.New("discord gateway not ready")
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Info().
		Int("code", logging.CodeLoggedIn).
		Str("username", event.User.Username).
		Int("guilds", len(event.Guilds)).
		Msg("Bot is ready")
}

func (b *Bot) hasActiveSession() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.active != nil
}

// discover joins the target user's voice channel when no session is running.
func (b *Bot) discover(ctx context.Context) {
	if b.hasActiveSession() {
		return
	}

	guild, err := b.session.State.Guild(b.config.GuildID)
	if err != nil {
		log.Warn().
			Int("code", logging.CodeGuildMissing).
			Str("guild_id", b.config.GuildID).
			Err(err).
			Msg("Guild not found")
		return
	}

	log.Debug().
		Int("code", logging.CodeMonitoring).
		Str("guild", guild.Name).
		Msg("Looking for target user")

	channelID := findUserChannel(guild, b.config.TargetUserID)
	if channelID == "" {
		return
	}

	log.Info().
		Int("code", logging.CodeTargetFound).
		Str("user_id", b.config.TargetUserID).
		Str("channel_id", channelID).
		Msg("Target user found in voice channel")

	if err := b.join(ctx, guild.ID, channelID); err != nil {
		sentry.CaptureException(err)
		log.Error().
			Int("code", logging.CodeJoinFailed).
			Str("channel_id", channelID).
			Err(err).
			Msg("Failed to join voice channel, retrying next cycle")
	}
}

func (b *Bot) join(ctx context.Context, guildID, channelID string) error {
	// Not deaf: the bot must receive audio.
	vc, err := b.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}

	id := uuid.NewString()

	conn, err := voice.Open(ctx, id, vc, voiceReadyTimeout)
	if err != nil {
		_ = vc.Disconnect()
		return err
	}

	vs := newVoiceSession(id, guildID, channelID, conn, b)

	b.mutex.Lock()
	b.active = vs
	b.mutex.Unlock()

	log.Info().
		Int("code", logging.CodeJoined).
		Str("session_id", id).
		Str("channel_id", channelID).
		Msg("Joined voice channel")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		if err := vs.Run(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Str("session_id", id).Err(err).Msg("Voice session failed")
		}

		b.mutex.Lock()
		b.active = nil
		b.mutex.Unlock()
	}()

	return nil
}

// SendFile posts a saved recording to the configured text channel.
func (b *Bot) SendFile(ctx context.Context, path string) error {
	channel, err := b.session.State.Channel(b.config.TargetChannelID)
	if err != nil {
		channel, err = b.session.Channel(b.config.TargetChannelID, discordgo.WithContext(ctx))
	}
	if err := checkTextChannel(channel, err); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	_, err = b.session.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Files: []*discordgo.File{
			{
				Name:        filepath.Base(path),
				ContentType: "audio/wav",
				Reader:      f,
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send recording: %w", err)
	}
	return nil
}

func findUserChannel(guild *discordgo.Guild, userID string) string {
	for _, state := range guild.VoiceStates {
		if state.UserID == userID && state.ChannelID != "" {
			return state.ChannelID
		}
	}
	return ""
}

func checkTextChannel(channel *discordgo.Channel, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrChannelUnavailable, err)
	}
	if channel == nil || channel.Type != discordgo.ChannelTypeGuildText {
		return fmt.Errorf("%w: not a text channel", dispatch.ErrChannelUnavailable)
	}
	return nil
}
