package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/user/discord-voicebot/internal/audio"
)

var ErrNotReady = errors.New("voice connection not ready")

// Connection adapts a discordgo voice connection: it decodes incoming Opus
// into PCM chunks and plays PCM back into the channel.
type Connection struct {
	sessionID string
	vc        *discordgo.VoiceConnection

	speakers   map[uint32]string
	speakerMux sync.RWMutex

	encoder *Encoder
	playMu  sync.Mutex
}

// Open waits for vc to become ready and registers the speaking handler used to
// map SSRCs to user IDs.
func Open(ctx context.Context, sessionID string, vc *discordgo.VoiceConnection, readyTimeout time.Duration) (*Connection, error) {
	encoder, err := NewEncoder()
	if err != nil {
		return nil, err
	}

	c := &Connection{
		sessionID: sessionID,
		vc:        vc,
		speakers:  make(map[uint32]string),
		encoder:   encoder,
	}

	// The handler must be registered before audio arrives.
	vc.AddHandler(c.handleSpeakingUpdate)

	if err := waitReady(ctx, vc, readyTimeout); err != nil {
		return nil, err
	}

	// Discord needs an initial speaking state before it delivers audio.
	if err := vc.Speaking(false); err != nil {
		log.Warn().
			Str("session_id", sessionID).
			Err(err).
			Msg("Failed to send initial speaking state")
	}

	return c, nil
}

func waitReady(ctx context.Context, vc *discordgo.VoiceConnection, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		vc.RLock()
		ready := vc.Ready
		vc.RUnlock()
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Receive decodes packets until ctx is cancelled or the receive channel
// closes. Every decoded frame is handed to sink.
func (c *Connection) Receive(ctx context.Context, sink audio.Sink) error {
	defer log.Debug().Str("session_id", c.sessionID).Msg("Audio receive stopped")

	decoders := make(map[uint32]*Decoder)

	for {
		select {
		case packet, ok := <-c.vc.OpusRecv:
			if !ok {
				log.Info().Str("session_id", c.sessionID).Msg("Voice receive channel closed")
				return nil
			}
			if packet == nil {
				continue
			}

			dec, ok := decoders[packet.SSRC]
			if !ok {
				var err error
				if dec, err = NewDecoder(); err != nil {
					return err
				}
				decoders[packet.SSRC] = dec
			}

			pcm, err := dec.Decode(packet.Opus)
			if err != nil {
				log.Warn().
					Str("session_id", c.sessionID).
					Uint32("ssrc", packet.SSRC).
					Err(err).
					Msg("Failed to decode opus packet")
				continue
			}

			sink.Ingest(audio.Chunk{
				SSRC:   packet.SSRC,
				UserID: c.speaker(packet.SSRC),
				PCM:    pcm,
			})

		case <-ctx.Done():
			return nil
		}
	}
}

// Play encodes pcm and sends it frame by frame. Concurrent calls are
// serialized so cues never interleave.
func (c *Connection) Play(ctx context.Context, pcm []byte) error {
	packets, err := c.encoder.Encode(pcm)
	if err != nil {
		return err
	}
	if len(packets) == 0 {
		return nil
	}

	c.playMu.Lock()
	defer c.playMu.Unlock()

	if err := c.vc.Speaking(true); err != nil {
		return fmt.Errorf("set speaking: %w", err)
	}
	defer func() {
		if err := c.vc.Speaking(false); err != nil {
			log.Debug().Str("session_id", c.sessionID).Err(err).Msg("Failed to clear speaking state")
		}
	}()

	for _, packet := range packets {
		select {
		case c.vc.OpusSend <- packet:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close disconnects from the voice channel.
func (c *Connection) Close() error {
	return c.vc.Disconnect()
}

func (c *Connection) speaker(ssrc uint32) string {
	c.speakerMux.RLock()
	defer c.speakerMux.RUnlock()
	return c.speakers[ssrc]
}

func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, update *discordgo.VoiceSpeakingUpdate) {
	if update == nil || !update.Speaking {
		return
	}

	c.speakerMux.Lock()
	c.speakers[uint32(update.SSRC)] = update.UserID
	c.speakerMux.Unlock()

	log.Debug().
		Str("session_id", c.sessionID).
		Uint32("ssrc", uint32(update.SSRC)).
		Str("user_id", update.UserID).
		Msg("Mapped SSRC to user")
}
