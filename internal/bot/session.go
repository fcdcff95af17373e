package bot

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/discord-voicebot/internal/audio"
	"github.com/user/discord-voicebot/internal/command"
	"github.com/user/discord-voicebot/internal/dispatch"
	"github.com/user/discord-voicebot/internal/scheduler"
	"github.com/user/discord-voicebot/internal/speech"
	"github.com/user/discord-voicebot/internal/store"
	"github.com/user/discord-voicebot/internal/stt"
	"github.com/user/discord-voicebot/internal/voice"
)

// VoiceSession owns everything tied to one voice connection: the capture
// buffers, the command machine, the dispatcher and the poller.
type VoiceSession struct {
	ID        string
	GuildID   string
	ChannelID string

	conn       *voice.Connection
	capture    *audio.Capture
	machine    *command.Machine
	dispatcher *dispatch.Dispatcher
	poller     *scheduler.Poller
	deps       Deps
}

func newVoiceSession(id, guildID, channelID string, conn *voice.Connection, b *Bot) *VoiceSession {
	cfg := b.config
	deps := b.deps

	capture := audio.NewCapture(cfg.Format, cfg.WindowCapacity())

	adapter := stt.NewAdapter()
	adapter.OnNoSpeech = func() {
		log.Debug().Str("session_id", id).Msg("No speech detected")
	}

	machine := command.NewMachine(cfg.TriggerWord, cfg.ConversationTimeout, command.WithSessionID(id))

	speaker := speech.NewSpeaker(conn, deps.Cues, deps.Synth, cfg.Language, cfg.Format)
	exporter := &windowExporter{capture: capture, store: deps.Store}

	dispatcher := dispatch.New(speaker, deps.Responder, exporter, b,
		dispatch.WithSessionID(id),
		dispatch.WithMetrics(deps.Metrics),
	)

	opts := []scheduler.Option{
		scheduler.WithSessionID(id),
		scheduler.WithMetrics(deps.Metrics),
		scheduler.WithJournal(deps.Store),
	}
	if deps.Gate != nil {
		opts = append(opts, scheduler.WithSpeechGate(deps.Gate))
	}

	poller := scheduler.New(cfg.PollInterval, cfg.Language, capture, deps.Transcriber, adapter, machine, dispatcher, opts...)

	return &VoiceSession{
		ID:         id,
		GuildID:    guildID,
		ChannelID:  channelID,
		conn:       conn,
		capture:    capture,
		machine:    machine,
		dispatcher: dispatcher,
		poller:     poller,
		deps:       deps,
	}
}

// Run blocks until ctx is cancelled or the voice connection stops
// delivering audio, then tears the session down.
func (vs *VoiceSession) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vs.deps.Metrics.ActiveSessions.Add(ctx, 1)
	defer vs.deps.Metrics.ActiveSessions.Add(context.Background(), -1)

	log.Info().
		Str("session_id", vs.ID).
		Str("guild_id", vs.GuildID).
		Str("channel_id", vs.ChannelID).
		Msg("Voice session started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// A closed receive channel means we were disconnected.
		defer cancel()
		return vs.conn.Receive(gctx, vs.capture)
	})

	g.Go(func() error {
		if err := vs.dispatcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return vs.poller.Run(gctx)
	})

	err := g.Wait()
	vs.stop()
	return err
}

func (vs *VoiceSession) stop() {
	vs.dispatcher.Close()

	log.Debug().
		Str("session_id", vs.ID).
		Int("pending_bytes", vs.capture.PendingBytes()).
		Int("window_bytes", vs.capture.WindowBytes()).
		Msg("Discarding buffered audio")
	vs.capture.Reset()

	if err := vs.conn.Close(); err != nil {
		log.Warn().
			Str("session_id", vs.ID).
			Err(err).
			Msg("Failed to disconnect from voice")
	}

	ev := log.Info().
		Str("session_id", vs.ID).
		Str("mode", vs.machine.Mode().String())

	count, lastMode, err := summarizeTranscript(vs.deps.Store, vs.ID)
	if err != nil {
		log.Warn().Str("session_id", vs.ID).Err(err).Msg("Failed to read session transcript")
	} else {
		ev = ev.Int("utterances", count).Str("last_journaled_mode", lastMode)
	}
	ev.Msg("Voice session stopped")
}

// summarizeTranscript counts the journaled utterances of a session and
// returns the mode after the last one. A session that never journaled
// anything has no transcript file.
func summarizeTranscript(fs *store.FileStore, sessionID string) (int, string, error) {
	utterances, err := fs.LoadTranscript(sessionID)
	if errors.Is(err, iofs.ErrNotExist) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	if len(utterances) == 0 {
		return 0, "", nil
	}
	return len(utterances), utterances[len(utterances)-1].ModeAfter, nil
}

// windowExporter saves the rolling window of one session's capture.
type windowExporter struct {
	capture *audio.Capture
	store   *store.FileStore
	now     func() time.Time
}

func (e *windowExporter) ExportRollingWindow(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now
	if e.now != nil {
		now = e.now
	}

	log.Debug().
		Int("window_bytes", e.capture.WindowBytes()).
		Msg("Exporting rolling window")

	path, err := e.store.SaveRecording(e.capture.ExportRollingWindow(), now())
	if err != nil {
		return "", fmt.Errorf("export rolling window: %w", err)
	}
	return path, nil
}
