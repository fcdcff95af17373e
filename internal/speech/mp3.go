package speech

import (
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"

	"github.com/user/discord-voicebot/internal/audio"
)

const resampleQuality = 4

// DecodeMP3 decodes an MP3 stream to 16-bit little-endian PCM in the target
// format, resampling if needed.
func DecodeMP3(r io.Reader, target audio.Format) ([]byte, error) {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}

	streamer, format, err := mp3.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if want := beep.SampleRate(target.SampleRate); format.SampleRate != want {
		s = beep.Resample(resampleQuality, format.SampleRate, want, streamer)
	}

	pcm := streamToPCM(s, target.Channels)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("mp3 stream: %w", err)
	}
	return pcm, nil
}

// streamToPCM drains s. Stereo output keeps both channels; mono output
// averages them.
func streamToPCM(s beep.Streamer, channels int) []byte {
	var pcm []byte
	buf := make([][2]float64, 1024)

	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			if channels == 1 {
				pcm = appendSample(pcm, (frame[0]+frame[1])/2)
				continue
			}
			pcm = appendSample(pcm, frame[0])
			pcm = appendSample(pcm, frame[1])
		}
		if !ok {
			return pcm
		}
	}
}

func appendSample(pcm []byte, v float64) []byte {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	s := int16(v * 32767)
	return append(pcm, byte(s), byte(s>>8))
}
