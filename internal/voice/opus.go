package voice

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/user/discord-voicebot/internal/audio"
)

const (
	// FrameSize is samples per channel in one 20ms Opus frame at 48kHz.
	FrameSize = 960

	maxOpusBytes = 4000
	bitrate      = 64000
)

var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

func isSilence(opus []byte) bool {
	return len(opus) == 3 && opus[0] == silenceFrame[0] && opus[1] == silenceFrame[1] && opus[2] == silenceFrame[2]
}

// Decoder turns one speaker's Opus packets into interleaved stereo PCM.
type Decoder struct {
	decoder *gopus.Decoder
}

func NewDecoder() (*Decoder, error) {
	decoder, err := gopus.NewDecoder(audio.DiscordFormat.SampleRate, audio.DiscordFormat.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &Decoder{decoder: decoder}, nil
}

// Decode returns little-endian PCM bytes. Comfort-noise frames decode to
// silence.
func (d *Decoder) Decode(opus []byte) ([]byte, error) {
	if isSilence(opus) {
		return make([]byte, FrameSize*audio.DiscordFormat.FrameBytes()), nil
	}

	pcm, err := d.decoder.Decode(opus, FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}

// Encoder packs stereo PCM into 20ms Opus frames for playback.
type Encoder struct {
	encoder *gopus.Encoder
}

func NewEncoder() (*Encoder, error) {
	encoder, err := gopus.NewEncoder(audio.DiscordFormat.SampleRate, audio.DiscordFormat.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	encoder.SetBitrate(bitrate)
	return &Encoder{encoder: encoder}, nil
}

// Encode splits pcm into frames and encodes each one.
func (e *Encoder) Encode(pcm []byte) ([][]byte, error) {
	frames := audio.SplitFrames(pcm, FrameSize*audio.DiscordFormat.Channels)
	packets := make([][]byte, 0, len(frames))
	for i, frame := range frames {
		packet, err := e.encoder.Encode(frame, FrameSize, maxOpusBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to encode opus frame %d: %w", i, err)
		}
		packets = append(packets, packet)
	}
	return packets, nil
}
