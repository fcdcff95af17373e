package speech

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/user/discord-voicebot/internal/audio"
	"github.com/user/discord-voicebot/internal/command"
)

// Player plays PCM in the session's audio format and returns once playback
// has finished or failed.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

// Speaker plays cues and spoken text into one session's voice connection.
type Speaker struct {
	player   Player
	cues     *CueLibrary
	synth    Synthesizer
	language string
	format   audio.Format
}

// NewSpeaker builds a speaker. synth may be nil, in which case Say only logs
// the text.
func NewSpeaker(player Player, cues *CueLibrary, synth Synthesizer, language string, format audio.Format) *Speaker {
	return &Speaker{
		player:   player,
		cues:     cues,
		synth:    synth,
		language: language,
		format:   format,
	}
}

func (s *Speaker) PlayCue(ctx context.Context, cue command.CueID) error {
	pcm, err := s.cues.PCM(cue)
	if err != nil {
		return err
	}
	if err := s.player.Play(ctx, pcm); err != nil {
		return fmt.Errorf("play cue %q: %w", cue, err)
	}
	return nil
}

func (s *Speaker) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.synth == nil {
		log.Info().Str("text", text).Msg("Speech synthesis disabled, not speaking")
		return nil
	}

	mp3Data, err := s.synth.Synthesize(ctx, text, s.language)
	if err != nil {
		return err
	}

	pcm, err := DecodeMP3(bytes.NewReader(mp3Data), s.format)
	if err != nil {
		return fmt.Errorf("decode speech: %w", err)
	}

	if err := s.player.Play(ctx, pcm); err != nil {
		return fmt.Errorf("play speech: %w", err)
	}
	return nil
}
